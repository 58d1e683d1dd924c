// Package metrics exposes Prometheus collectors for the forum watcher.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal          *prometheus.CounterVec
	fetchBytesTotal             *prometheus.CounterVec
	forumFetchTotal             *prometheus.CounterVec
	topicsExtracted             *prometheus.GaugeVec
	newTopicsTotal              *prometheus.CounterVec
	notificationsTotal          *prometheus.CounterVec
	notifyPacingDelaySeconds    prometheus.Histogram
	passesTotal                 *prometheus.CounterVec
	passDurationSeconds         prometheus.Histogram
	lastSuccessfulPassTimestamp prometheus.Gauge
	headlessPromotionsTotal     *prometheus.CounterVec
	hostWaitSeconds             *prometheus.HistogramVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forumwatch_fetch_attempts_total",
				Help: "Total number of HTTP fetch attempts, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forumwatch_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		forumFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forumwatch_forum_fetch_total",
				Help: "Forum listing fetches per pass, labeled by forum and result.",
			},
			[]string{"forum", "result"},
		)

		topicsExtracted = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "forumwatch_topics_extracted",
				Help: "Number of topics extracted from the latest listing, labeled by forum.",
			},
			[]string{"forum"},
		)

		newTopicsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forumwatch_new_topics_total",
				Help: "Total number of new topics detected, labeled by forum.",
			},
			[]string{"forum"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forumwatch_notifications_total",
				Help: "Total number of notifications attempted, labeled by channel and result.",
			},
			[]string{"channel", "result"},
		)

		notifyPacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "forumwatch_notify_pacing_delay_seconds",
				Help:    "Histogram of time spent waiting between notifications.",
				Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10},
			},
		)

		passesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forumwatch_passes_total",
				Help: "Total number of polling passes, labeled by result.",
			},
			[]string{"result"},
		)

		passDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "forumwatch_pass_duration_seconds",
				Help:    "Histogram of polling pass durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
		)

		lastSuccessfulPassTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "forumwatch_last_successful_pass_timestamp_seconds",
				Help: "Unix time of the last pass that reached every forum.",
			},
		)

		headlessPromotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forumwatch_headless_promotions_total",
				Help: "Plain fetches re-run in the headless browser, labeled by reason.",
			},
			[]string{"reason"},
		)

		hostWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forumwatch_host_wait_seconds",
				Help:    "Time fetches waited for the per-host politeness limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchAttempt records a single HTTP attempt made by a fetcher.
func ObserveFetchAttempt(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	fetchAttemptsTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveForum records the outcome of one forum within a pass.
func ObserveForum(forumID string, ok bool, found, fresh int) {
	result := "ok"
	if !ok {
		result = "error"
	}
	forumFetchTotal.WithLabelValues(forumID, result).Inc()
	topicsExtracted.WithLabelValues(forumID).Set(float64(found))
	if fresh > 0 {
		newTopicsTotal.WithLabelValues(forumID).Add(float64(fresh))
	}
}

// ObserveNotification increments the notification counter.
func ObserveNotification(channel string, delivered bool) {
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	notificationsTotal.WithLabelValues(channel, result).Inc()
}

// ObservePacingDelay records how long a notification waited for its slot.
func ObservePacingDelay(duration time.Duration) {
	notifyPacingDelaySeconds.Observe(duration.Seconds())
}

// ObservePass records a completed pass. Complete passes refresh the
// last-success timestamp.
func ObservePass(duration time.Duration, complete bool, finishedAt time.Time) {
	result := "complete"
	if !complete {
		result = "partial"
	}
	passesTotal.WithLabelValues(result).Inc()
	passDurationSeconds.Observe(duration.Seconds())
	if complete {
		lastSuccessfulPassTimestamp.Set(float64(finishedAt.Unix()))
	}
}

// ObserveHeadlessPromotion counts a plain fetch promoted to the headless browser.
func ObserveHeadlessPromotion(reason string) {
	headlessPromotionsTotal.WithLabelValues(reason).Inc()
}

// ObserveHostWait records time spent waiting on the per-host limiter.
func ObserveHostWait(site string, duration time.Duration) {
	hostWaitSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
