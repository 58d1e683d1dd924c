package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forumwatch/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates missing directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "archive", "pages")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.DirExists(t, dir)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "write probe is removed")
	})

	t.Run("missing base dir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{BaseDir: "  "})
		require.ErrorContains(t, err, "required")
	})

	t.Run("base dir is a file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.ErrorContains(t, err, "not a directory")
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("writes nested page", func(t *testing.T) {
		t.Parallel()
		uri, err := store.PutObject(ctx, "listings/125/pass-1.html", "text/html", strings.NewReader("<html>125</html>"))
		require.NoError(t, err)
		want := filepath.Join(dir, "listings", "125", "pass-1.html")
		assert.Equal(t, "file://"+want, uri)
		// #nosec G304 -- test reads from its own temp directory.
		got, err := os.ReadFile(want)
		require.NoError(t, err)
		assert.Equal(t, "<html>125</html>", string(got))
	})

	t.Run("overwrites existing page", func(t *testing.T) {
		t.Parallel()
		_, err := store.PutObject(ctx, "listings/9/p.html", "text/html", strings.NewReader("old"))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "listings/9/p.html", "text/html", strings.NewReader("new"))
		require.NoError(t, err)
		// #nosec G304 -- test reads from its own temp directory.
		got, err := os.ReadFile(filepath.Join(dir, "listings", "9", "p.html"))
		require.NoError(t, err)
		assert.Equal(t, "new", string(got))
	})

	t.Run("empty path", func(t *testing.T) {
		t.Parallel()
		_, err := store.PutObject(ctx, "", "text/html", strings.NewReader("x"))
		require.Error(t, err)
	})

	t.Run("path traversal", func(t *testing.T) {
		t.Parallel()
		_, err := store.PutObject(ctx, "../outside.html", "text/html", strings.NewReader("x"))
		require.ErrorContains(t, err, "escapes")
	})
}
