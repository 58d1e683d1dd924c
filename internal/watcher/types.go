package watcher

import (
	"time"
)

// Topic is a single discussion thread extracted from a forum listing.
type Topic struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Forum is a configured listing page to poll.
type Forum struct {
	ID     string `mapstructure:"id" json:"id"`
	URL    string `mapstructure:"url" json:"url"`
	Name   string `mapstructure:"name" json:"name"`
	Render bool   `mapstructure:"render" json:"render,omitempty"`
}

// DisplayName returns the human readable forum name, falling back to the id.
func (f Forum) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.ID
}

// Snapshot maps a forum id to the ordered topic ids seen on the last pass.
type Snapshot map[string][]string

// IsEmpty reports whether no forum has ever been recorded.
func (s Snapshot) IsEmpty() bool {
	return len(s) == 0
}

// Lookup returns the recorded ids for a forum and whether an entry exists.
func (s Snapshot) Lookup(forumID string) ([]string, bool) {
	if s == nil {
		return nil, false
	}
	ids, ok := s[forumID]
	return ids, ok
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for forumID, ids := range s {
		out[forumID] = append([]string(nil), ids...)
	}
	return out
}

// FetchRequest captures everything needed to fetch a forum listing.
type FetchRequest struct {
	ForumID string
	URL     string
	Render  bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ForumResult summarizes what happened to one forum during a pass.
type ForumResult struct {
	ForumID   string
	Found     int
	New       int
	Delivered int
	// Baseline is set when topics were recorded without notifying.
	Baseline bool
	// Retained is set when the previous entry was carried over unchanged.
	Retained bool
	Err      error
}

// PassResult summarizes one full iteration over all configured forums.
type PassResult struct {
	PassID     string
	StartedAt  time.Time
	FinishedAt time.Time
	FirstRun   bool
	Canceled   bool
	Forums     []ForumResult
}

// Duration returns the wall time spent on the pass.
func (p PassResult) Duration() time.Duration {
	if p.FinishedAt.Before(p.StartedAt) {
		return 0
	}
	return p.FinishedAt.Sub(p.StartedAt)
}

// FailedForums returns the ids of forums whose fetch or extraction failed.
func (p PassResult) FailedForums() []string {
	var out []string
	for _, f := range p.Forums {
		if f.Err != nil {
			out = append(out, f.ForumID)
		}
	}
	return out
}

// Found returns the number of topics extracted across all forums.
func (p PassResult) Found() int {
	total := 0
	for _, f := range p.Forums {
		total += f.Found
	}
	return total
}

// NewTopics returns the number of topics detected as new.
func (p PassResult) NewTopics() int {
	total := 0
	for _, f := range p.Forums {
		total += f.New
	}
	return total
}

// Delivered returns the number of notifications delivered.
func (p PassResult) Delivered() int {
	total := 0
	for _, f := range p.Forums {
		total += f.Delivered
	}
	return total
}
