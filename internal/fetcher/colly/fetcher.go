// Package collyfetcher implements watcher.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/forumwatch/internal/clock/system"
	"github.com/JakeFAU/forumwatch/internal/fetcher"
	"github.com/JakeFAU/forumwatch/internal/metrics"
	"github.com/JakeFAU/forumwatch/internal/watcher"
)

const (
	defaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	defaultAcceptLanguage = "pt-PT,pt;q=0.9,en;q=0.8"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	Headers        map[string]string
	RespectRobots  bool
	Timeout        time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// Limiter, when set, is waited on before every attempt.
	Limiter HostLimiter
}

// HostLimiter spaces out requests to one host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements watcher.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	retry         *RetryPolicy
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = defaultAcceptLanguage
	}
	c := colly.NewCollector(colly.Async(false))
	// The same listing is visited on every pass.
	c.AllowURLRevisit = true
	transport := newHTTPTransport()
	c.WithTransport(transport)
	metrics.Init()

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		retry:         NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffInitial, cfg.BackoffMax),
		logger:        logger,
	}
}

// Fetch GETs the listing, retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, request watcher.FetchRequest) (watcher.FetchResponse, error) {
	for attempt := 0; ; attempt++ {
		if f.cfg.Limiter != nil {
			if err := f.cfg.Limiter.Wait(ctx, request.URL); err != nil {
				return watcher.FetchResponse{}, fmt.Errorf("colly fetch: %w", err)
			}
		}
		resp, err := f.fetchOnce(ctx, request)
		if err == nil {
			return resp, nil
		}
		if !f.retry.ShouldRetry(err, attempt+1) {
			return watcher.FetchResponse{}, err
		}
		wait := f.retry.Backoff(attempt)
		f.logger.Debug("retrying listing fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := system.Sleep(ctx, wait); err != nil {
			return watcher.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", err)
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, request watcher.FetchRequest) (watcher.FetchResponse, error) {
	var (
		result   watcher.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return watcher.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	start time.Time,
	result *watcher.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *watcher.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.setHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = watcher.FetchResponse{
			URL:          r.Request.URL.String(),
			StatusCode:   r.StatusCode,
			Body:         append([]byte(nil), r.Body...),
			Duration:     time.Since(start),
			UsedHeadless: false,
		}
		metrics.ObserveFetchAttempt(r.Request.URL.String(), strconv.Itoa(r.StatusCode), len(r.Body))
	})

	hooks.OnError(func(r *colly.Response, err error) {
		site := "unknown"
		if r != nil && r.Request != nil && r.Request.URL != nil {
			site = r.Request.URL.String()
		}
		if r != nil && r.StatusCode != 0 && (r.StatusCode < 200 || r.StatusCode > 299) {
			*fetchErr = &fetcher.StatusError{Code: r.StatusCode}
			metrics.ObserveFetchAttempt(site, strconv.Itoa(r.StatusCode), len(r.Body))
			return
		}
		*fetchErr = err
		metrics.ObserveFetchAttempt(site, "error", 0)
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) setHeaders(r *colly.Request) {
	r.Headers.Set("Accept", defaultAccept)
	r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
	r.Headers.Set("Upgrade-Insecure-Requests", "1")
	for key, value := range f.cfg.Headers {
		r.Headers.Set(key, value)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
