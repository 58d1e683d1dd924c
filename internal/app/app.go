// Package app builds the long-lived services of the forum watcher from a
// validated configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/forumwatch/internal/clock/system"
	"github.com/JakeFAU/forumwatch/internal/config"
	"github.com/JakeFAU/forumwatch/internal/extract"
	"github.com/JakeFAU/forumwatch/internal/fetcher"
	collyfetcher "github.com/JakeFAU/forumwatch/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/forumwatch/internal/fetcher/headless"
	"github.com/JakeFAU/forumwatch/internal/hash/sha256"
	"github.com/JakeFAU/forumwatch/internal/headless/detector"
	"github.com/JakeFAU/forumwatch/internal/id/uuid"
	"github.com/JakeFAU/forumwatch/internal/notify"
	"github.com/JakeFAU/forumwatch/internal/notify/telegram"
	"github.com/JakeFAU/forumwatch/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/forumwatch/internal/publisher/memory"
	"github.com/JakeFAU/forumwatch/internal/publisher/pubsub"
	"github.com/JakeFAU/forumwatch/internal/report"
	"github.com/JakeFAU/forumwatch/internal/scheduler"
	filestate "github.com/JakeFAU/forumwatch/internal/state/file"
	memorystate "github.com/JakeFAU/forumwatch/internal/state/memory"
	pgstate "github.com/JakeFAU/forumwatch/internal/state/postgres"
	"github.com/JakeFAU/forumwatch/internal/storage/gcs"
	"github.com/JakeFAU/forumwatch/internal/storage/local"
	memoryarchive "github.com/JakeFAU/forumwatch/internal/storage/memory"
	"github.com/JakeFAU/forumwatch/internal/watcher"
)

// App holds the services shared by the CLI commands.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Sender    *telegram.Sender
	Notifier  *notify.Notifier
	Publisher notify.Publisher
	Fetcher   watcher.Fetcher
	Extractor *extract.Extractor
	Store     watcher.SnapshotStore
	Archive   watcher.PageArchive
	Runner    *watcher.Runner
	Reporter  *report.Reporter
	Scheduler *scheduler.Scheduler

	closers []func() error
}

// New wires every component. On error, anything already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	clock := system.New()
	loc := cfg.Location()

	a.Sender, err = telegram.New(telegram.Config{
		Token:    cfg.Telegram.Token,
		ChatID:   cfg.Telegram.ChatID,
		Endpoint: cfg.Telegram.APIEndpoint,
		Timeout:  time.Duration(cfg.Notify.TimeoutSeconds) * time.Second,
	}, logger.Named("telegram"))
	if err != nil {
		return nil, fmt.Errorf("telegram sender: %w", err)
	}

	a.Publisher, err = a.buildPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Notifier = notify.New(a.Sender, a.Publisher, clock, notify.Config{
		Pacing:           cfg.Pacing(),
		IncludeTimestamp: cfg.Notify.IncludeTimestamp,
		Location:         loc,
		AnnounceFirstRun: cfg.Notify.AnnounceFirstRun,
		Channel:          "telegram",
		EventTopic:       cfg.PubSub.TopicName,
	}, logger.Named("notify"))

	a.Fetcher, err = a.buildFetcher(cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Extractor = extract.New(extract.Config{
		MinTitle:         cfg.Extractor.MinTitle,
		FallbackMinTitle: cfg.Extractor.FallbackMinTitle,
		TitleMaxRunes:    cfg.Extractor.TitleMaxRunes,
		MaxTopics:        cfg.Extractor.MaxTopics,
		StrictURLs:       cfg.Extractor.StrictURLs,
		StopLabels:       cfg.Extractor.StopLabels,
	}, sha256.New())

	a.Store, err = a.buildStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a.Archive, err = a.buildArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.Runner = watcher.NewRunner(
		cfg.Forums,
		a.Fetcher,
		a.Extractor,
		a.Store,
		a.Notifier,
		a.Archive,
		clock,
		uuid.New(),
		watcher.RunnerConfig{
			ArchivePrefix: cfg.Archive.Prefix,
			ForumDelay:    time.Duration(cfg.Watcher.ForumDelayMs) * time.Millisecond,
			SaveTimeout:   time.Duration(cfg.Watcher.ShutdownSeconds) * time.Second,
		},
		logger.Named("watcher"),
	)

	a.Reporter = report.New(report.Config{
		StatusPath:   cfg.Report.StatusPath,
		DailyEnabled: cfg.Report.DailyEnabled,
		DailyHour:    cfg.Report.DailyHour,
		Location:     loc,
	}, a.Notifier, clock, logger.Named("report"))

	a.Scheduler = scheduler.New(a.Runner, cfg.Interval(), logger.Named("scheduler"), a.Reporter.Observe)
	return a, nil
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (notify.Publisher, error) {
	switch cfg.PubSubBackend() {
	case config.PubSubBackendGCP:
		pub, err := pubsub.New(ctx, pubsub.Config{ProjectID: cfg.PubSub.ProjectID, TopicName: cfg.PubSub.TopicName})
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		logger.Info("publishing topic events", zap.String("topic", cfg.PubSub.TopicName))
		return pub, nil
	case config.PubSubBackendMemory:
		logger.Info("recording topic events in memory")
		return memorypublisher.New(), nil
	default:
		return nil, nil
	}
}

func (a *App) buildFetcher(cfg config.Config, logger *zap.Logger) (watcher.Fetcher, error) {
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.HTTP.UserAgent,
		AcceptLanguage: cfg.HTTP.AcceptLanguage,
		Headers:        cfg.HTTP.Headers,
		RespectRobots:  cfg.HTTP.RespectRobots,
		Timeout:        cfg.HTTPTimeout(),
		MaxAttempts:    cfg.HTTP.MaxAttempts,
		BackoffInitial: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		Limiter:        ratelimit.New(ratelimit.Config{MinInterval: time.Duration(cfg.HTTP.HostIntervalMs) * time.Millisecond}),
	}, logger.Named("fetcher"))

	var headless watcher.Fetcher
	if cfg.Fetcher.Mode != config.FetcherModePlain || anyRendered(cfg.Forums) {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			AcceptLanguage:    cfg.HTTP.AcceptLanguage,
			Headers:           cfg.HTTP.Headers,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher: %w", err)
		}
		a.closers = append(a.closers, func() error { hf.Close(); return nil })
		headless = hf
	}
	detect := detector.NewHeuristic(0, cfg.Headless.ScriptDensityPct)
	return fetcher.NewRouter(cfg.Fetcher.Mode, plain, headless, detect, logger.Named("fetcher")), nil
}

func anyRendered(forums []watcher.Forum) bool {
	for _, f := range forums {
		if f.Render {
			return true
		}
	}
	return false
}

func (a *App) buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (watcher.SnapshotStore, error) {
	switch cfg.State.Backend {
	case config.StateBackendPostgres:
		store, err := pgstate.New(ctx, pgstate.Config{DSN: cfg.State.DSN, Table: cfg.State.Table})
		if err != nil {
			return nil, fmt.Errorf("postgres state: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		return store, nil
	case config.StateBackendMemory:
		return memorystate.New(), nil
	default:
		store, err := filestate.New(cfg.State.Path, logger.Named("state"))
		if err != nil {
			return nil, fmt.Errorf("file state: %w", err)
		}
		return store, nil
	}
}

func (a *App) buildArchive(ctx context.Context, cfg config.Config) (watcher.PageArchive, error) {
	switch cfg.Archive.Backend {
	case config.ArchiveBackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive: %w", err)
		}
		return store, nil
	case config.ArchiveBackendGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case config.ArchiveBackendMemory:
		return memoryarchive.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

// Close releases every opened resource in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
