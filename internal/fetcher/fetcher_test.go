package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forumwatch/internal/watcher"
)

type stubFetcher struct {
	name  string
	body  string
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, req watcher.FetchRequest) (watcher.FetchResponse, error) {
	s.calls++
	if s.err != nil {
		return watcher.FetchResponse{}, s.err
	}
	return watcher.FetchResponse{
		URL:          req.URL,
		StatusCode:   200,
		Body:         []byte(s.body),
		UsedHeadless: s.name == "headless",
	}, nil
}

type stubDetector struct{ promote bool }

func (d stubDetector) Decide(watcher.FetchResponse) (bool, string) {
	if d.promote {
		return true, "empty_body"
	}
	return false, ""
}

func TestRouterPlainModeNeverRenders(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{name: "plain", body: "p"}
	headless := &stubFetcher{name: "headless", body: "h"}
	r := NewRouter(ModePlain, plain, headless, stubDetector{promote: true}, nil)

	resp, err := r.Fetch(context.Background(), watcher.FetchRequest{URL: "https://f.test"})
	require.NoError(t, err)
	assert.Equal(t, "p", string(resp.Body))
	assert.Zero(t, headless.calls)
}

func TestRouterAutoPromotes(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{name: "plain", body: ""}
	headless := &stubFetcher{name: "headless", body: "rendered"}
	r := NewRouter(ModeAuto, plain, headless, stubDetector{promote: true}, nil)

	resp, err := r.Fetch(context.Background(), watcher.FetchRequest{URL: "https://f.test"})
	require.NoError(t, err)
	assert.True(t, resp.UsedHeadless)
	assert.Equal(t, "rendered", string(resp.Body))
	assert.Equal(t, 1, plain.calls)
}

func TestRouterAutoKeepsPlainWhenNotFlagged(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{name: "plain", body: "listing"}
	headless := &stubFetcher{name: "headless"}
	r := NewRouter(ModeAuto, plain, headless, stubDetector{}, nil)

	resp, err := r.Fetch(context.Background(), watcher.FetchRequest{URL: "https://f.test"})
	require.NoError(t, err)
	assert.False(t, resp.UsedHeadless)
	assert.Zero(t, headless.calls)
}

func TestRouterPromotionFailureUsesPlain(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{name: "plain", body: "shell"}
	headless := &stubFetcher{name: "headless", err: errors.New("chrome missing")}
	r := NewRouter(ModeAuto, plain, headless, stubDetector{promote: true}, nil)

	resp, err := r.Fetch(context.Background(), watcher.FetchRequest{URL: "https://f.test"})
	require.NoError(t, err)
	assert.Equal(t, "shell", string(resp.Body))
}

func TestRouterRenderFlagAndHeadlessMode(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{name: "plain", body: "p"}
	headless := &stubFetcher{name: "headless", body: "h"}

	r := NewRouter(ModePlain, plain, headless, nil, nil)
	resp, err := r.Fetch(context.Background(), watcher.FetchRequest{URL: "https://f.test", Render: true})
	require.NoError(t, err)
	assert.True(t, resp.UsedHeadless)

	r = NewRouter(ModeHeadless, plain, headless, nil, nil)
	resp, err = r.Fetch(context.Background(), watcher.FetchRequest{URL: "https://f.test"})
	require.NoError(t, err)
	assert.True(t, resp.UsedHeadless)
	assert.Zero(t, plain.calls)
}

func TestRouterHeadlessFailureFallsBack(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{name: "plain", body: "p"}
	headless := &stubFetcher{name: "headless", err: errors.New("boom")}
	r := NewRouter(ModeHeadless, plain, headless, nil, nil)

	resp, err := r.Fetch(context.Background(), watcher.FetchRequest{URL: "https://f.test"})
	require.NoError(t, err)
	assert.Equal(t, "p", string(resp.Body))
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	err := error(&StatusError{Code: 503})
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.EqualError(t, err, "unexpected status 503")
}
