package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/forumwatch/internal/clock/system"
	"github.com/JakeFAU/forumwatch/internal/metrics"
)

// RunnerConfig controls Runner behavior.
type RunnerConfig struct {
	ContentType   string
	ArchivePrefix string
	// ForumDelay is the pause between two forum fetches within a pass.
	ForumDelay time.Duration
	// SaveTimeout bounds the final Save when the pass context was canceled.
	SaveTimeout time.Duration
}

// Runner executes polling passes over the configured forums.
type Runner struct {
	forums    []Forum
	fetcher   Fetcher
	extractor Extractor
	store     SnapshotStore
	notifier  Notifier
	archive   PageArchive
	clock     Clock
	ids       IDGenerator
	cfg       RunnerConfig
	logger    *zap.Logger
}

// NewRunner constructs a Runner. archive may be nil.
func NewRunner(
	forums []Forum,
	fetcher Fetcher,
	extractor Extractor,
	store SnapshotStore,
	notifier Notifier,
	archive PageArchive,
	clock Clock,
	ids IDGenerator,
	cfg RunnerConfig,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 10 * time.Second
	}
	metrics.Init()
	return &Runner{
		forums:    append([]Forum(nil), forums...),
		fetcher:   fetcher,
		extractor: extractor,
		store:     store,
		notifier:  notifier,
		archive:   archive,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// Forums returns the configured forums in polling order.
func (r *Runner) Forums() []Forum {
	return append([]Forum(nil), r.forums...)
}

// RunPass performs one full pass: load, fetch and diff every forum, notify
// and persist. Per-forum failures are recorded in the result and never abort
// the pass. The only error returned is the context error when the pass was
// interrupted; in that case the forums already visited are persisted and the
// remaining ones keep their previous entries.
func (r *Runner) RunPass(ctx context.Context) (PassResult, error) {
	passID, err := r.ids.NewID()
	if err != nil {
		r.logger.Warn("generate pass id failed", zap.Error(err))
		passID = r.clock.Now().Format("20060102T150405Z")
	}
	result := PassResult{PassID: passID, StartedAt: r.clock.Now()}
	logger := r.logger.With(zap.String("pass_id", passID))

	previous, err := r.store.Load(ctx)
	if err != nil {
		logger.Warn("load snapshot failed; starting from empty state", zap.Error(err))
		previous = Snapshot{}
	}
	if previous == nil {
		previous = Snapshot{}
	}
	result.FirstRun = previous.IsEmpty()

	if result.FirstRun {
		logger.Info("no previous snapshot; recording baseline without notifying",
			zap.Int("forums", len(r.forums)))
		if err := r.notifier.Announce(ctx, r.Forums()); err != nil {
			logger.Warn("first run announcement failed", zap.Error(err))
		}
	}

	next := make(Snapshot, len(previous))
	var passErr error
	for i, forum := range r.forums {
		if i > 0 && r.cfg.ForumDelay > 0 {
			if err := system.Sleep(ctx, r.cfg.ForumDelay); err != nil {
				passErr = err
			}
		}
		if passErr == nil {
			passErr = ctx.Err()
		}
		if passErr != nil {
			r.carryOver(r.forums[i:], previous, next)
			result.Canceled = true
			break
		}
		forumResult := r.processForum(ctx, logger, passID, forum, previous, next, result.FirstRun)
		result.Forums = append(result.Forums, forumResult)
	}

	saveCtx := ctx
	if passErr != nil {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SaveTimeout)
		defer cancel()
	}
	if err := r.store.Save(saveCtx, next); err != nil {
		logger.Error("save snapshot failed", zap.Error(err))
	}

	result.FinishedAt = r.clock.Now()
	complete := !result.Canceled && len(result.FailedForums()) == 0
	metrics.ObservePass(result.Duration(), complete, result.FinishedAt)
	logger.Info("pass complete",
		zap.Int("forums", len(result.Forums)),
		zap.Int("failed", len(result.FailedForums())),
		zap.Int("found", result.Found()),
		zap.Int("new", result.NewTopics()),
		zap.Int("delivered", result.Delivered()),
		zap.Bool("first_run", result.FirstRun),
		zap.Duration("duration", result.Duration()),
	)
	if passErr != nil {
		return result, fmt.Errorf("pass interrupted: %w", passErr)
	}
	return result, nil
}

func (r *Runner) processForum(
	ctx context.Context,
	logger *zap.Logger,
	passID string,
	forum Forum,
	previous Snapshot,
	next Snapshot,
	firstRun bool,
) ForumResult {
	logger = logger.With(zap.String("forum_id", forum.ID))
	res := ForumResult{ForumID: forum.ID}
	defer func() {
		metrics.ObserveForum(forum.ID, res.Err == nil, res.Found, res.New)
	}()
	prior, known := previous.Lookup(forum.ID)

	topics, err := r.collect(ctx, logger, passID, forum)
	if err != nil {
		res.Err = err
		logger.Warn("forum fetch failed; treating as zero topics", zap.String("url", forum.URL), zap.Error(err))
	}
	res.Found = len(topics)

	if len(topics) == 0 {
		if known {
			next[forum.ID] = append([]string(nil), prior...)
			res.Retained = true
		}
		return res
	}
	next[forum.ID] = IDs(topics)

	if firstRun || !known {
		res.Baseline = true
		logger.Info("recorded baseline", zap.Int("topics", len(topics)))
		return res
	}

	fresh := Diff(topics, prior)
	res.New = len(fresh)
	if len(fresh) == 0 {
		logger.Debug("no new topics", zap.Int("topics", len(topics)))
		return res
	}
	logger.Info("new topics detected", zap.Int("new", len(fresh)))
	res.Delivered = r.notifier.Notify(ctx, passID, forum, fresh)
	return res
}

func (r *Runner) collect(ctx context.Context, logger *zap.Logger, passID string, forum Forum) ([]Topic, error) {
	resp, err := r.fetcher.Fetch(ctx, FetchRequest{ForumID: forum.ID, URL: forum.URL, Render: forum.Render})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", forum.ID, err)
	}
	r.archivePage(ctx, logger, passID, forum, resp.Body)
	topics, err := r.extractor.Extract(resp.Body, forum.URL)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", forum.ID, err)
	}
	return topics, nil
}

func (r *Runner) archivePage(ctx context.Context, logger *zap.Logger, passID string, forum Forum, body []byte) {
	if r.archive == nil || len(body) == 0 {
		return
	}
	path := r.buildArchivePath(forum.ID, passID)
	uri, err := r.archive.PutObject(ctx, path, r.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		logger.Warn("archive listing failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Debug("archived listing", zap.String("uri", uri))
}

func (r *Runner) buildArchivePath(forumID, passID string) string {
	prefix := strings.Trim(r.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", forumID, passID)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, forumID, passID)
}

// carryOver copies the previous entries of forums the pass did not reach.
func (r *Runner) carryOver(forums []Forum, previous, next Snapshot) {
	for _, forum := range forums {
		if ids, ok := previous.Lookup(forum.ID); ok {
			next[forum.ID] = append([]string(nil), ids...)
		}
	}
}

// IsInterrupted reports whether err came from an interrupted pass.
func IsInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
