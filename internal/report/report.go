// Package report writes a status file after every pass and sends a daily
// summary message.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/forumwatch/internal/watcher"
)

// Sender delivers the daily summary.
type Sender interface {
	SendText(ctx context.Context, text string) error
}

// Config controls where status goes and when the summary is sent.
type Config struct {
	// StatusPath is the JSON status file. Empty disables it.
	StatusPath   string
	DailyEnabled bool
	// DailyHour is the local hour from which the summary may be sent.
	DailyHour int
	Location  *time.Location
}

// Status is the document written to StatusPath.
type Status struct {
	LastPassID              string    `json:"last_pass_id"`
	LastPassAt              time.Time `json:"last_pass_at"`
	DurationSeconds         float64   `json:"duration_seconds"`
	FirstRun                bool      `json:"first_run"`
	Canceled                bool      `json:"canceled"`
	ForumsOK                int       `json:"forums_ok"`
	ForumsFailed            int       `json:"forums_failed"`
	FailedForums            []string  `json:"failed_forums"`
	TopicsFound             int       `json:"topics_found"`
	NewTopics               int       `json:"new_topics"`
	Delivered               int       `json:"delivered"`
	TotalPasses             int       `json:"total_passes"`
	ConsecutiveFailedPasses int       `json:"consecutive_failed_passes"`
	LastError               string    `json:"last_error,omitempty"`
}

type daily struct {
	passes           int
	newTopics        int
	deliveryFailures int
}

// Reporter accumulates pass results. Observe matches scheduler.Hook.
type Reporter struct {
	mu         sync.Mutex
	cfg        Config
	sender     Sender
	clock      watcher.Clock
	logger     *zap.Logger
	status     Status
	counters   daily
	lastSentOn string
}

// New constructs a Reporter. sender may be nil when the summary is disabled.
func New(cfg Config, sender Sender, clock watcher.Clock, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Reporter{cfg: cfg, sender: sender, clock: clock, logger: logger}
}

// Observe records a finished pass, rewrites the status file and sends the
// daily summary when due. Failures are logged only.
func (r *Reporter) Observe(ctx context.Context, result watcher.PassResult, passErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record(result, passErr)
	if err := r.writeStatus(); err != nil {
		r.logger.Warn("write status file failed", zap.String("path", r.cfg.StatusPath), zap.Error(err))
	}
	if err := r.maybeSendSummary(ctx); err != nil {
		r.logger.Warn("daily summary failed", zap.Error(err))
	}
}

// Status returns the latest status document.
func (r *Reporter) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.status
	out.FailedForums = append([]string(nil), r.status.FailedForums...)
	return out
}

func (r *Reporter) record(result watcher.PassResult, passErr error) {
	failed := result.FailedForums()
	s := &r.status
	s.LastPassID = result.PassID
	s.LastPassAt = result.FinishedAt
	s.DurationSeconds = result.Duration().Seconds()
	s.FirstRun = result.FirstRun
	s.Canceled = result.Canceled
	s.ForumsOK = len(result.Forums) - len(failed)
	s.ForumsFailed = len(failed)
	s.FailedForums = append([]string{}, failed...)
	s.TopicsFound = result.Found()
	s.NewTopics = result.NewTopics()
	s.Delivered = result.Delivered()
	s.TotalPasses++
	s.LastError = ""
	if passErr != nil {
		s.LastError = passErr.Error()
	}

	if passFailed(result, passErr) {
		s.ConsecutiveFailedPasses++
	} else {
		s.ConsecutiveFailedPasses = 0
	}

	r.counters.passes++
	r.counters.newTopics += s.NewTopics
	r.counters.deliveryFailures += s.NewTopics - s.Delivered
}

// passFailed reports a panic, an error other than cancellation, or a pass
// where every visited forum failed.
func passFailed(result watcher.PassResult, err error) bool {
	if err != nil && !watcher.IsInterrupted(err) {
		return true
	}
	return len(result.Forums) > 0 && len(result.FailedForums()) == len(result.Forums)
}

func (r *Reporter) writeStatus() error {
	if r.cfg.StatusPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(r.status, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	dir := filepath.Dir(r.cfg.StatusPath)
	tmp, err := os.CreateTemp(dir, ".status-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write status: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.cfg.StatusPath); err != nil {
		return fmt.Errorf("replace status file: %w", err)
	}
	return nil
}

func (r *Reporter) maybeSendSummary(ctx context.Context) error {
	if !r.cfg.DailyEnabled || r.sender == nil {
		return nil
	}
	now := r.now()
	day := now.Format(time.DateOnly)
	if now.Hour() < r.cfg.DailyHour || day == r.lastSentOn {
		return nil
	}
	if err := r.sender.SendText(ctx, r.summary(now)); err != nil {
		return err
	}
	r.lastSentOn = day
	r.counters = daily{}
	return nil
}

func (r *Reporter) summary(now time.Time) string {
	failing := "none"
	if len(r.status.FailedForums) > 0 {
		failing = html.EscapeString(strings.Join(r.status.FailedForums, ", "))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Daily summary</b> %s\n\n", now.Format("02/01/2006"))
	fmt.Fprintf(&b, "Passes: %d\n", r.counters.passes)
	fmt.Fprintf(&b, "New topics: %d\n", r.counters.newTopics)
	fmt.Fprintf(&b, "Delivery failures: %d\n", r.counters.deliveryFailures)
	fmt.Fprintf(&b, "Failing forums: %s", failing)
	return b.String()
}

func (r *Reporter) now() time.Time {
	if r.clock == nil {
		return time.Now().In(r.cfg.Location)
	}
	return r.clock.Now().In(r.cfg.Location)
}
