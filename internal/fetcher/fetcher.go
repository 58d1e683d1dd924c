// Package fetcher selects between the plain and headless listing fetchers.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/forumwatch/internal/metrics"
	"github.com/JakeFAU/forumwatch/internal/watcher"
)

// Modes accepted by NewRouter.
const (
	ModePlain    = "plain"
	ModeAuto     = "auto"
	ModeHeadless = "headless"
)

// ErrUnexpectedStatus is wrapped by StatusError.
var ErrUnexpectedStatus = errors.New("unexpected status")

// StatusError reports a non-success HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Unwrap lets callers match ErrUnexpectedStatus.
func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// Detector decides whether a plain response needs a headless re-fetch.
type Detector interface {
	Decide(resp watcher.FetchResponse) (bool, string)
}

// Router implements watcher.Fetcher on top of a plain and an optional
// headless fetcher.
type Router struct {
	mode     string
	plain    watcher.Fetcher
	headless watcher.Fetcher
	detector Detector
	logger   *zap.Logger
}

// NewRouter builds a Router. headless and detector may be nil, in which case
// every request goes to the plain fetcher.
func NewRouter(mode string, plain, headless watcher.Fetcher, detector Detector, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mode == "" {
		mode = ModePlain
	}
	metrics.Init()
	return &Router{mode: mode, plain: plain, headless: headless, detector: detector, logger: logger}
}

// Fetch routes the request. Forums marked for rendering and the headless
// mode go straight to the browser; auto mode promotes plain responses the
// detector flags. A failing browser falls back to the plain result.
func (r *Router) Fetch(ctx context.Context, req watcher.FetchRequest) (watcher.FetchResponse, error) {
	logger := r.logger.With(zap.String("forum_id", req.ForumID), zap.String("url", req.URL))
	if r.headless != nil && (r.mode == ModeHeadless || req.Render) {
		resp, err := r.headless.Fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return watcher.FetchResponse{}, err
		}
		logger.Warn("headless fetch failed; falling back to plain fetch", zap.Error(err))
		return r.plain.Fetch(ctx, req)
	}

	resp, err := r.plain.Fetch(ctx, req)
	if err != nil {
		return watcher.FetchResponse{}, err
	}
	if r.mode != ModeAuto || r.headless == nil || r.detector == nil {
		return resp, nil
	}
	promote, reason := r.detector.Decide(resp)
	if !promote {
		return resp, nil
	}
	metrics.ObserveHeadlessPromotion(reason)
	logger.Debug("promoting listing to headless fetch", zap.String("reason", reason))
	rendered, err := r.headless.Fetch(ctx, req)
	if err != nil {
		logger.Warn("headless promotion failed; using plain response", zap.Error(err))
		return resp, nil
	}
	return rendered, nil
}
