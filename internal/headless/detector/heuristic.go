// Package detector decides when a plain listing fetch must be re-run in a
// headless browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/forumwatch/internal/watcher"
)

// Promotion reasons, used as metric labels.
const (
	ReasonEmptyBody     = "empty_body"
	ReasonScriptDensity = "script_density"
	ReasonSPAMarker     = "spa_marker"
	ReasonNoAnchors     = "no_anchors"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
	ScriptDensityPct    int
}

// NewHeuristic creates a new detector. Zero values select the defaults.
func NewHeuristic(threshold, densityPct int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	if densityPct <= 0 || densityPct > 100 {
		densityPct = 25
	}
	return &Heuristic{BodyLengthThreshold: threshold, ScriptDensityPct: densityPct}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp watcher.FetchResponse) bool {
	promote, _ := h.Decide(resp)
	return promote
}

// Decide reports whether to promote and why.
func (h *Heuristic) Decide(resp watcher.FetchResponse) (bool, string) {
	if resp.StatusCode != 200 {
		return false, ""
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true, ReasonEmptyBody
	}
	if len(body) < h.BodyLengthThreshold && scriptDensity(body) >= h.ScriptDensityPct {
		return true, ReasonScriptDensity
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true, ReasonSPAMarker
		}
	}
	// A listing page without a single link was almost certainly built client side.
	if !bytes.Contains(bytes.ToLower(body), []byte("<a ")) {
		return true, ReasonNoAnchors
	}
	return false, ""
}

// scriptDensity returns the share of the document covered by script
// elements, in percent.
func scriptDensity(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return 0
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage * 100 / total
}
