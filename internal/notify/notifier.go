// Package notify formats new-topic messages and delivers them at a bounded
// rate.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/forumwatch/internal/metrics"
	"github.com/JakeFAU/forumwatch/internal/watcher"
)

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Publisher fans new-topic events out to other systems.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Config controls message formatting and pacing.
type Config struct {
	// Pacing is the minimum gap between two sends. Zero disables pacing.
	Pacing           time.Duration
	IncludeTimestamp bool
	Location         *time.Location
	AnnounceFirstRun bool
	// Channel labels delivery metrics.
	Channel string
	// EventTopic is passed to the Publisher.
	EventTopic string
}

// Notifier implements watcher.Notifier.
type Notifier struct {
	sender    Sender
	publisher Publisher
	clock     watcher.Clock
	limiter   *rate.Limiter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Notifier. publisher may be nil.
func New(sender Sender, publisher Publisher, clock watcher.Clock, cfg Config, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Channel == "" {
		cfg.Channel = "telegram"
	}
	limit := rate.Inf
	if cfg.Pacing > 0 {
		limit = rate.Every(cfg.Pacing)
	}
	metrics.Init()
	return &Notifier{
		sender:    sender,
		publisher: publisher,
		clock:     clock,
		limiter:   rate.NewLimiter(limit, 1),
		cfg:       cfg,
		logger:    logger,
	}
}

// Announce sends the first-run message listing the watched forums.
func (n *Notifier) Announce(ctx context.Context, forums []watcher.Forum) error {
	if !n.cfg.AnnounceFirstRun {
		return nil
	}
	return n.SendText(ctx, FormatAnnouncement(forums, n.now()))
}

// SendText delivers an arbitrary message, honouring the pacing.
func (n *Notifier) SendText(ctx context.Context, text string) error {
	if err := n.wait(ctx); err != nil {
		return err
	}
	err := n.sender.Send(ctx, text)
	metrics.ObserveNotification(n.cfg.Channel, err == nil)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Notify sends one message per topic in order and returns how many were
// delivered. A failed delivery is logged and the remaining topics still go
// out. Cancellation stops delivery of the remaining topics.
func (n *Notifier) Notify(ctx context.Context, passID string, forum watcher.Forum, topics []watcher.Topic) int {
	logger := n.logger.With(zap.String("pass_id", passID), zap.String("forum_id", forum.ID))
	delivered := 0
	for i, topic := range topics {
		if err := n.wait(ctx); err != nil {
			logger.Warn("notification delivery interrupted",
				zap.Int("undelivered", len(topics)-i), zap.Error(err))
			break
		}
		at := n.now()
		text := FormatTopic(forum, topic, at, n.cfg.IncludeTimestamp)
		err := n.sender.Send(ctx, text)
		metrics.ObserveNotification(n.cfg.Channel, err == nil)
		if err != nil {
			logger.Error("notification delivery failed",
				zap.String("topic_id", topic.ID), zap.String("url", topic.URL), zap.Error(err))
		} else {
			delivered++
			logger.Info("notified new topic", zap.String("topic_id", topic.ID), zap.String("title", topic.Title))
		}
		n.publish(ctx, logger, NewTopicEvent(passID, forum, topic, at))
	}
	return delivered
}

func (n *Notifier) publish(ctx context.Context, logger *zap.Logger, event TopicEvent) {
	if n.publisher == nil {
		return
	}
	id, err := n.publisher.Publish(ctx, n.cfg.EventTopic, event)
	metrics.ObserveNotification("pubsub", err == nil)
	if err != nil {
		logger.Warn("publish topic event failed", zap.String("topic_id", event.TopicID), zap.Error(err))
		return
	}
	logger.Debug("published topic event", zap.String("topic_id", event.TopicID), zap.String("message_id", id))
}

func (n *Notifier) wait(ctx context.Context) error {
	start := time.Now()
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePacingDelay(waited)
	}
	return nil
}

func (n *Notifier) now() time.Time {
	if n.clock == nil {
		return time.Now().In(n.cfg.Location)
	}
	return n.clock.Now().In(n.cfg.Location)
}
