// Package extract turns forum listing markup into topics using anchor
// heuristics.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/forumwatch/internal/watcher"
)

// fallbackIDLength is the number of hex characters kept from the digest.
const fallbackIDLength = 16

var topicIDPattern = regexp.MustCompile(`(?:topic_id|thread_id)=(\d+)`)

// DefaultStopLabels are navigation texts that never name a topic.
var DefaultStopLabels = []string{
	// pt
	"ver", "responder", "último post", "última mensagem", "seguinte", "anterior", "próxima",
	// en
	"reply", "last post", "next", "previous", "view",
	// es
	"último mensaje", "siguiente",
	// pl
	"odpowiedz", "ostatni post", "następna", "poprzednia",
	// sv
	"svara", "senaste inlägg", "nästa", "föregående",
	// tr
	"yanıtla", "son mesaj", "sonraki", "önceki",
}

// ErrNoBaseURL is returned when the listing URL cannot be parsed.
var ErrNoBaseURL = errors.New("listing url has no scheme or host")

// Config tunes the extraction heuristics.
type Config struct {
	MinTitle         int
	FallbackMinTitle int
	TitleMaxRunes    int
	MaxTopics        int
	StrictURLs       bool
	StopLabels       []string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MinTitle:         5,
		FallbackMinTitle: 10,
		TitleMaxRunes:    120,
		MaxTopics:        10,
		StrictURLs:       true,
		StopLabels:       DefaultStopLabels,
	}
}

// Extractor implements watcher.Extractor.
type Extractor struct {
	cfg    Config
	hasher watcher.Hasher
	stop   map[string]struct{}
}

// New constructs an Extractor. Zero values in cfg fall back to the defaults.
func New(cfg Config, hasher watcher.Hasher) *Extractor {
	def := DefaultConfig()
	if cfg.MinTitle <= 0 {
		cfg.MinTitle = def.MinTitle
	}
	if cfg.FallbackMinTitle <= 0 {
		cfg.FallbackMinTitle = def.FallbackMinTitle
	}
	if cfg.TitleMaxRunes <= 0 {
		cfg.TitleMaxRunes = def.TitleMaxRunes
	}
	if cfg.MaxTopics <= 0 {
		cfg.MaxTopics = def.MaxTopics
	}
	if cfg.StopLabels == nil {
		cfg.StopLabels = def.StopLabels
	}
	stop := make(map[string]struct{}, len(cfg.StopLabels))
	for _, label := range cfg.StopLabels {
		stop[strings.ToLower(strings.TrimSpace(label))] = struct{}{}
	}
	return &Extractor{cfg: cfg, hasher: hasher, stop: stop}
}

type candidate struct {
	href string
	text string
}

// Extract parses the listing and returns at most MaxTopics topics in page
// order. Anchors carrying a topic_id or thread_id parameter are preferred;
// when none exist, anchors mentioning topic or thread with a long enough
// text are used instead.
func (e *Extractor) Extract(body []byte, pageURL string) ([]watcher.Topic, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	base, _ := url.Parse(pageURL)
	if base != nil && (base.Scheme == "" || base.Host == "") {
		base = nil
	}

	anchors := collectAnchors(doc)
	candidates := primaryCandidates(anchors)
	if len(candidates) == 0 {
		candidates = e.fallbackCandidates(anchors)
	}

	topics := make([]watcher.Topic, 0, min(len(candidates), e.cfg.MaxTopics))
	seenTitles := make(map[string]struct{})
	seenIDs := make(map[string]struct{})
	for _, c := range candidates {
		if len(topics) >= e.cfg.MaxTopics {
			break
		}
		if e.rejected(c, seenTitles) {
			continue
		}
		resolved, ok := e.resolve(base, c.href)
		if !ok {
			continue
		}
		id, err := e.topicID(c, resolved)
		if err != nil {
			continue
		}
		if _, dup := seenIDs[id]; dup {
			continue
		}
		seenTitles[c.text] = struct{}{}
		seenIDs[id] = struct{}{}
		topics = append(topics, watcher.Topic{
			ID:    id,
			Title: truncateRunes(c.text, e.cfg.TitleMaxRunes),
			URL:   resolved,
		})
	}
	return topics, nil
}

func collectAnchors(doc *goquery.Document) []candidate {
	var out []candidate
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		out = append(out, candidate{
			href: strings.TrimSpace(href),
			text: normalizeSpace(s.Text()),
		})
	})
	return out
}

func primaryCandidates(anchors []candidate) []candidate {
	var out []candidate
	for _, a := range anchors {
		if strings.Contains(a.href, "topic_id=") || strings.Contains(a.href, "thread_id=") {
			out = append(out, a)
		}
	}
	return out
}

func (e *Extractor) fallbackCandidates(anchors []candidate) []candidate {
	var out []candidate
	for _, a := range anchors {
		lower := strings.ToLower(a.href)
		if !strings.Contains(lower, "topic") && !strings.Contains(lower, "thread") {
			continue
		}
		if utf8.RuneCountInString(a.text) <= e.cfg.FallbackMinTitle {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (e *Extractor) rejected(c candidate, seenTitles map[string]struct{}) bool {
	if utf8.RuneCountInString(c.text) < e.cfg.MinTitle {
		return true
	}
	if strings.Contains(c.href, "#") || strings.Contains(strings.ToLower(c.href), "javascript:") {
		return true
	}
	if _, stop := e.stop[strings.ToLower(c.text)]; stop {
		return true
	}
	_, dup := seenTitles[c.text]
	return dup
}

// resolve turns href into an absolute URL. Query-only hrefs are appended to
// the site root, matching how the forum software links its topics.
func (e *Extractor) resolve(base *url.URL, href string) (string, bool) {
	lower := strings.ToLower(href)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return href, true
	case strings.HasPrefix(href, "//"):
		if base == nil {
			return "", false
		}
		return base.Scheme + ":" + href, true
	case strings.HasPrefix(href, "?"):
		if base == nil {
			return "", false
		}
		return origin(base) + "/" + href, true
	case strings.HasPrefix(href, "/"):
		if base == nil {
			return "", false
		}
		return origin(base) + href, true
	}
	if e.cfg.StrictURLs || base == nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	return resolved.String(), true
}

func (e *Extractor) topicID(c candidate, resolved string) (string, error) {
	if m := topicIDPattern.FindStringSubmatch(c.href); m != nil {
		return m[1], nil
	}
	return FallbackID(e.hasher, c.text, resolved)
}

// FallbackID derives a stable id from the normalised title and the resolved
// URL for topics whose link carries no numeric id.
func FallbackID(hasher watcher.Hasher, title, resolvedURL string) (string, error) {
	digest, err := hasher.Hash([]byte(normalizeSpace(title) + "|" + resolvedURL))
	if err != nil {
		return "", fmt.Errorf("hash topic: %w", err)
	}
	if len(digest) > fallbackIDLength {
		digest = digest[:fallbackIDLength]
	}
	return digest, nil
}

func origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
