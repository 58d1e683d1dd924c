package cli

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/forumwatch/internal/config"
)

type botStub struct {
	mu    sync.Mutex
	texts []string
}

func (b *botStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	w.Header().Set("Content-Type", "application/json")
	if strings.HasSuffix(r.URL.Path, "/getMe") {
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Watch","username":"forumwatch_bot"}}`))
		return
	}
	b.mu.Lock()
	b.texts = append(b.texts, r.PostForm.Get("text"))
	b.mu.Unlock()
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`))
}

func (b *botStub) messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.texts...)
}

const forumPage = `<html><body>
<a href="?p=forum&amp;sub=topics&amp;forum_id=125&amp;topic_id=111">Existing topic title</a>
<a href="?p=forum&amp;sub=topics&amp;forum_id=125&amp;topic_id=222">Brand new topic title</a>
</body></html>`

type fixture struct {
	dir    string
	config string
	bot    *botStub
}

func newFixture(t *testing.T, broken bool) fixture {
	t.Helper()
	forum := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if broken && r.URL.Query().Get("forum_id") == "10" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(forumPage))
	}))
	t.Cleanup(forum.Close)
	bot := &botStub{}
	tg := httptest.NewServer(bot)
	t.Cleanup(tg.Close)

	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(statePath, []byte(`{"125":["111"]}`), 0o600))

	yaml := fmt.Sprintf(`
telegram:
  token: TOKEN
  chat_id: "42"
  api_endpoint: %q
http:
  max_attempts: 1
  timeout_seconds: 5
notify:
  pacing_seconds: 0
  timezone: UTC
state:
  backend: file
  path: %q
report:
  status_path: %q
forums:
  - id: "125"
    name: Test forum
    url: %q
  - id: "10"
    url: %q
`, tg.URL+"/bot%s/%s", statePath, filepath.Join(dir, "status.json"),
		forum.URL+"/?p=forum&sub=topics&forum_id=125",
		forum.URL+"/?p=forum&sub=topics&forum_id=10")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))
	return fixture{dir: dir, config: cfgPath, bot: bot}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(context.Background(), t, args...)
}

func executeContext(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(func(bool) (*zap.Logger, error) { return zap.NewNop(), nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestOnceNotifiesAndPersists(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false)
	out, err := execute(t, "once", "--config", fx.config)
	require.NoError(t, err)
	// Forum 125 has one new topic; forum 10 is unknown and only baselined.
	assert.Contains(t, out, "2 forums, 0 failed, 4 topics, 1 new, 1 delivered")

	msgs := fx.bot.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Brand new topic title")

	// #nosec G304 -- test reads from its own temp directory.
	state, err := os.ReadFile(filepath.Join(fx.dir, "state.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"125":["111","222"],"10":["111","222"]}`, string(state))
	assert.FileExists(t, filepath.Join(fx.dir, "status.json"))
}

func TestCheckReportsEveryForum(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false)
	out, err := execute(t, "check", "--config", fx.config)
	require.NoError(t, err)
	assert.Contains(t, out, "telegram: bot @forumwatch_bot")
	assert.Contains(t, out, "telegram: test message sent")
	assert.Contains(t, out, "forum 125 (Test forum): 2 topics")
	assert.Contains(t, out, "forum 10 (10): 2 topics")
	assert.Len(t, fx.bot.messages(), 1)
}

func TestCheckNoMessageAndFailingForum(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, true)
	out, err := execute(t, "check", "--no-message", "--config", fx.config)
	require.ErrorContains(t, err, "1 of 2 forums failed")
	assert.Contains(t, out, "forum 10 (10): error:")
	assert.Empty(t, fx.bot.messages())
}

func TestRunKeepsPollingWhenPortIsTaken(t *testing.T) {
	t.Parallel()

	taken, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer func() { _ = taken.Close() }()
	port := taken.Addr().(*net.TCPAddr).Port

	fx := newFixture(t, false)
	f, err := os.OpenFile(fx.config, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = fmt.Fprintf(f, "server:\n  port: %d\n", port)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, runErr := executeContext(ctx, t, "run", "--config", fx.config)
		done <- runErr
	}()

	require.Eventually(t, func() bool { return len(fx.bot.messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("run returned before shutdown: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorContains(t, err, "listen on")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}

func TestMissingCredentialsFailsStartup(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("watcher:\n  interval: 10s\n"), 0o600))
	_, err := execute(t, "once", "--config", path)
	require.ErrorIs(t, err, config.ErrMissingCredentials)
	assert.ErrorContains(t, err, "watcher.interval")
}
