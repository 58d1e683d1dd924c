package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"forum listing", "https://www.managerzone.com/?p=forum&sub=topics&forum_id=125", "www.managerzone.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	t.Parallel()

	Init()
	Init()

	require.NotNil(t, forumFetchTotal)
	require.NotNil(t, notificationsTotal)
	require.NotNil(t, httpRequestsTotal)
	require.NotNil(t, passDurationSeconds)
}

func TestObserveForum(t *testing.T) {
	t.Parallel()
	Init()

	ObserveForum("metrics-test-forum", true, 7, 2)
	ObserveForum("metrics-test-forum", false, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(forumFetchTotal.WithLabelValues("metrics-test-forum", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(forumFetchTotal.WithLabelValues("metrics-test-forum", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(topicsExtracted.WithLabelValues("metrics-test-forum")))
	assert.Equal(t, 2.0, testutil.ToFloat64(newTopicsTotal.WithLabelValues("metrics-test-forum")))
}

func TestObserveNotification(t *testing.T) {
	t.Parallel()
	Init()

	ObserveNotification("metrics-test", true)
	ObserveNotification("metrics-test", true)
	ObserveNotification("metrics-test", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(notificationsTotal.WithLabelValues("metrics-test", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(notificationsTotal.WithLabelValues("metrics-test", "failed")))
}

func TestObservePassSetsLastSuccess(t *testing.T) {
	t.Parallel()
	Init()

	finished := time.Unix(1_700_000_000, 0)
	ObservePass(2*time.Second, true, finished)

	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(lastSuccessfulPassTimestamp))
}

func TestObserveFetchAttempt(t *testing.T) {
	t.Parallel()
	Init()

	ObserveFetchAttempt("https://fetch-attempt.test/forum", "200", 512)

	assert.Equal(t, 1.0, testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("fetch-attempt.test", "200")))
	assert.Equal(t, 512.0, testutil.ToFloat64(fetchBytesTotal.WithLabelValues("fetch-attempt.test")))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
