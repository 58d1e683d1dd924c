// Package scheduler runs watch passes on a fixed interval until cancelled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/forumwatch/internal/clock/system"
	"github.com/JakeFAU/forumwatch/internal/watcher"
)

// Pass runs one full pass.
type Pass interface {
	RunPass(ctx context.Context) (watcher.PassResult, error)
}

// Hook observes every finished pass. err is non-nil when the pass panicked or
// was interrupted.
type Hook func(ctx context.Context, result watcher.PassResult, err error)

// ErrPanic marks a pass that panicked.
var ErrPanic = errors.New("pass panicked")

// Scheduler drives Pass on an interval measured from the end of one pass to
// the start of the next.
type Scheduler struct {
	pass     Pass
	interval time.Duration
	hooks    []Hook
	logger   *zap.Logger
}

// New constructs a Scheduler.
func New(pass Pass, interval time.Duration, logger *zap.Logger, hooks ...Hook) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{pass: pass, interval: interval, hooks: hooks, logger: logger}
}

// Run blocks until ctx is cancelled. Pass errors and panics are logged and
// never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	for {
		if ctx.Err() != nil {
			break
		}
		result, err := s.RunOnce(ctx)
		if err != nil && !watcher.IsInterrupted(err) {
			s.logger.Error("pass failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			break
		}
		s.logger.Debug("sleeping until next pass",
			zap.String("pass_id", result.PassID), zap.Duration("interval", s.interval))
		if err := system.Sleep(ctx, s.interval); err != nil {
			break
		}
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// RunOnce runs a single guarded pass followed by the hooks.
func (s *Scheduler) RunOnce(ctx context.Context) (result watcher.PassResult, err error) {
	result, err = s.guard(ctx)
	for _, hook := range s.hooks {
		s.runHook(ctx, hook, result, err)
	}
	return result, err
}

func (s *Scheduler) guard(ctx context.Context) (result watcher.PassResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered from pass panic",
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return s.pass.RunPass(ctx)
}

func (s *Scheduler) runHook(ctx context.Context, hook Hook, result watcher.PassResult, passErr error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered from hook panic", zap.Any("panic", r))
		}
	}()
	hook(ctx, result, passErr)
}
