package watcher

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	calls  []string
	onCall func(url string)
}

func (f *fakeFetcher) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(req.URL)
	}
	if err := f.errs[req.URL]; err != nil {
		return FetchResponse{}, err
	}
	return FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(f.pages[req.URL])}, nil
}

// lineExtractor treats every non-empty line of the body as a topic id.
type lineExtractor struct{}

func (lineExtractor) Extract(body []byte, _ string) ([]Topic, error) {
	if string(body) == "<broken>" {
		return nil, errors.New("unparseable")
	}
	var out []Topic
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, Topic{ID: line, Title: "Topic " + line, URL: "https://forum.test/?topic_id=" + line})
	}
	return out, nil
}

type fakeStore struct {
	mu            sync.Mutex
	state         Snapshot
	loadErr       error
	saveErr       error
	saves         int
	saveErrAtCall error
	saved         bool
}

func (s *fakeStore) Load(context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.state.Clone(), nil
}

func (s *fakeStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.saved = true
	s.saveErrAtCall = ctx.Err()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.state = snap.Clone()
	return nil
}

type notified struct {
	forumID string
	ids     []string
}

type fakeNotifier struct {
	mu        sync.Mutex
	announced [][]Forum
	sent      []notified
	failEvery bool
}

func (n *fakeNotifier) Announce(_ context.Context, forums []Forum) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.announced = append(n.announced, forums)
	return nil
}

func (n *fakeNotifier) Notify(_ context.Context, _ string, forum Forum, topics []Topic) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notified{forumID: forum.ID, ids: IDs(topics)})
	if n.failEvery {
		return 0
	}
	return len(topics)
}

type fakeArchive struct {
	mu    sync.Mutex
	paths []string
}

func (a *fakeArchive) PutObject(_ context.Context, path, _ string, data io.Reader) (string, error) {
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paths = append(a.paths, path)
	return "mem://" + path, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type staticIDs struct{ id string }

func (s staticIDs) NewID() (string, error) { return s.id, nil }

func forum(id string) Forum {
	return Forum{ID: id, URL: "https://forum.test/?forum_id=" + id, Name: "Forum " + id}
}

func newTestRunner(forums []Forum, fetcher *fakeFetcher, store *fakeStore, notifier *fakeNotifier, archive PageArchive) *Runner {
	return NewRunner(
		forums,
		fetcher,
		lineExtractor{},
		store,
		notifier,
		archive,
		fixedClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		staticIDs{id: "pass-1"},
		RunnerConfig{ArchivePrefix: "listings"},
		zap.NewNop(),
	)
}

func TestRunPassNotifiesOnlyNewTopics(t *testing.T) {
	t.Parallel()

	f := forum("125")
	fetcher := &fakeFetcher{pages: map[string]string{f.URL: "222\n333"}}
	store := &fakeStore{state: Snapshot{"125": {"111", "222"}}}
	notifier := &fakeNotifier{}

	result, err := newTestRunner([]Forum{f}, fetcher, store, notifier, nil).RunPass(context.Background())
	require.NoError(t, err)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, notified{forumID: "125", ids: []string{"333"}}, notifier.sent[0])
	assert.Equal(t, Snapshot{"125": {"222", "333"}}, store.state)
	assert.Empty(t, notifier.announced)
	assert.False(t, result.FirstRun)
	assert.Equal(t, 1, result.NewTopics())
	assert.Equal(t, 1, result.Delivered())
	assert.Equal(t, 2, result.Found())
	assert.Equal(t, "pass-1", result.PassID)
}

func TestRunPassFirstRunRecordsBaseline(t *testing.T) {
	t.Parallel()

	a, b := forum("125"), forum("126")
	fetcher := &fakeFetcher{pages: map[string]string{a.URL: "1\n2", b.URL: "3"}}
	store := &fakeStore{}
	notifier := &fakeNotifier{}

	result, err := newTestRunner([]Forum{a, b}, fetcher, store, notifier, nil).RunPass(context.Background())
	require.NoError(t, err)

	assert.True(t, result.FirstRun)
	assert.Empty(t, notifier.sent)
	require.Len(t, notifier.announced, 1)
	assert.Len(t, notifier.announced[0], 2)
	assert.Equal(t, Snapshot{"125": {"1", "2"}, "126": {"3"}}, store.state)
	for _, fr := range result.Forums {
		assert.True(t, fr.Baseline)
	}
}

func TestRunPassNewForumIsBaselineOnly(t *testing.T) {
	t.Parallel()

	known, added := forum("125"), forum("999")
	fetcher := &fakeFetcher{pages: map[string]string{known.URL: "1", added.URL: "5\n6"}}
	store := &fakeStore{state: Snapshot{"125": {"1"}}}
	notifier := &fakeNotifier{}

	_, err := newTestRunner([]Forum{known, added}, fetcher, store, notifier, nil).RunPass(context.Background())
	require.NoError(t, err)

	assert.Empty(t, notifier.sent)
	assert.Equal(t, []string{"5", "6"}, store.state["999"])
}

func TestRunPassZeroTopicsRetainsEntry(t *testing.T) {
	t.Parallel()

	empty, failing, broken, unknown := forum("1"), forum("2"), forum("3"), forum("4")
	fetcher := &fakeFetcher{
		pages: map[string]string{empty.URL: "", broken.URL: "<broken>", unknown.URL: ""},
		errs:  map[string]error{failing.URL: errors.New("status 503")},
	}
	store := &fakeStore{state: Snapshot{"1": {"a"}, "2": {"b", "c"}, "3": {"d"}}}
	notifier := &fakeNotifier{}

	result, err := newTestRunner([]Forum{empty, failing, broken, unknown}, fetcher, store, notifier, nil).
		RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Snapshot{"1": {"a"}, "2": {"b", "c"}, "3": {"d"}}, store.state)
	assert.Empty(t, notifier.sent)
	assert.ElementsMatch(t, []string{"2", "3"}, result.FailedForums())
	assert.True(t, result.Forums[0].Retained)
	assert.False(t, result.Forums[3].Retained)
}

func TestRunPassLoadErrorFallsBackToEmpty(t *testing.T) {
	t.Parallel()

	f := forum("125")
	fetcher := &fakeFetcher{pages: map[string]string{f.URL: "1"}}
	store := &fakeStore{loadErr: errors.New("corrupt")}
	notifier := &fakeNotifier{}

	result, err := newTestRunner([]Forum{f}, fetcher, store, notifier, nil).RunPass(context.Background())
	require.NoError(t, err)

	assert.True(t, result.FirstRun)
	assert.Empty(t, notifier.sent)
	assert.Equal(t, Snapshot{"125": {"1"}}, store.state)
}

func TestRunPassSaveErrorDoesNotFail(t *testing.T) {
	t.Parallel()

	f := forum("125")
	fetcher := &fakeFetcher{pages: map[string]string{f.URL: "1\n2"}}
	store := &fakeStore{state: Snapshot{"125": {"1"}}, saveErr: errors.New("disk full")}
	notifier := &fakeNotifier{}

	result, err := newTestRunner([]Forum{f}, fetcher, store, notifier, nil).RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewTopics())
	assert.Equal(t, 1, store.saves)
}

func TestRunPassDeliveryFailureStillPersists(t *testing.T) {
	t.Parallel()

	f := forum("125")
	fetcher := &fakeFetcher{pages: map[string]string{f.URL: "1\n2"}}
	store := &fakeStore{state: Snapshot{"125": {"1"}}}
	notifier := &fakeNotifier{failEvery: true}

	result, err := newTestRunner([]Forum{f}, fetcher, store, notifier, nil).RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewTopics())
	assert.Zero(t, result.Delivered())
	assert.Equal(t, Snapshot{"125": {"1", "2"}}, store.state)
}

func TestRunPassCancellationPersistsVisitedForums(t *testing.T) {
	t.Parallel()

	a, b := forum("1"), forum("2")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &fakeFetcher{
		pages: map[string]string{a.URL: "x\ny", b.URL: "z"},
		onCall: func(url string) {
			if url == a.URL {
				cancel()
			}
		},
	}
	store := &fakeStore{state: Snapshot{"1": {"x"}, "2": {"old"}}}
	notifier := &fakeNotifier{}

	result, err := newTestRunner([]Forum{a, b}, fetcher, store, notifier, nil).RunPass(ctx)
	require.Error(t, err)
	assert.True(t, IsInterrupted(err))
	assert.True(t, result.Canceled)

	assert.Equal(t, Snapshot{"1": {"x", "y"}, "2": {"old"}}, store.state)
	assert.Equal(t, []string{a.URL}, fetcher.calls)
	require.True(t, store.saved)
	assert.NoError(t, store.saveErrAtCall)
}

func TestRunPassArchivesListings(t *testing.T) {
	t.Parallel()

	f := forum("125")
	fetcher := &fakeFetcher{pages: map[string]string{f.URL: "1"}}
	store := &fakeStore{state: Snapshot{"125": {"1"}}}
	archive := &fakeArchive{}

	_, err := newTestRunner([]Forum{f}, fetcher, store, &fakeNotifier{}, archive).RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"listings/125/pass-1.html"}, archive.paths)
}

func TestRunPassSecondPassIsQuiet(t *testing.T) {
	t.Parallel()

	f := forum("125")
	fetcher := &fakeFetcher{pages: map[string]string{f.URL: "1\n2"}}
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	runner := newTestRunner([]Forum{f}, fetcher, store, notifier, nil)

	_, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	second, err := runner.RunPass(context.Background())
	require.NoError(t, err)

	assert.False(t, second.FirstRun)
	assert.Empty(t, notifier.sent)
	assert.Len(t, notifier.announced, 1)
}
