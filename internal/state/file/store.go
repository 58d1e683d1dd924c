// Package file persists the topic snapshot as a JSON document on disk.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/forumwatch/internal/watcher"
)

// ErrMalformed is returned when the document is not a JSON object.
var ErrMalformed = errors.New("snapshot file is malformed")

// Store implements watcher.SnapshotStore on a single JSON file.
//
// The document maps forum ids to arrays of topic ids. Files written by older
// deployments stored arrays of topic objects; those are read by taking each
// object's id and are rewritten in the current form on the next Save.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// New creates a file-backed store.
func New(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}, nil
}

// Path returns the location of the snapshot document.
func (s *Store) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file yields an empty snapshot.
func (s *Store) Load(_ context.Context) (watcher.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return watcher.Snapshot{}, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return watcher.Snapshot{}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, s.path, err)
	}
	if raw == nil {
		// The literal null.
		return nil, fmt.Errorf("%w: %s: not an object", ErrMalformed, s.path)
	}

	snap := make(watcher.Snapshot, len(raw))
	for forumID, entry := range raw {
		ids, legacy, err := decodeEntry(entry)
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot entry",
				zap.String("forum_id", forumID), zap.Error(err))
			continue
		}
		if legacy {
			s.logger.Info("migrating legacy snapshot entry", zap.String("forum_id", forumID))
		}
		snap[forumID] = ids
	}
	return snap, nil
}

type legacyTopic struct {
	ID *string `json:"id"`
}

// decodeEntry accepts an array of id strings or the legacy array of topic
// objects.
func decodeEntry(entry json.RawMessage) ([]string, bool, error) {
	var ids []string
	if err := json.Unmarshal(entry, &ids); err == nil {
		if ids == nil {
			ids = []string{}
		}
		return ids, false, nil
	}
	var topics []legacyTopic
	if err := json.Unmarshal(entry, &topics); err != nil {
		return nil, false, fmt.Errorf("entry is neither an id list nor a topic list")
	}
	ids = make([]string, 0, len(topics))
	for _, t := range topics {
		if t.ID == nil || *t.ID == "" {
			return nil, false, fmt.Errorf("legacy topic without id")
		}
		ids = append(ids, *t.ID)
	}
	return ids, true, nil
}

// Save writes the snapshot to a temporary file and renames it over the
// previous document.
func (s *Store) Save(_ context.Context, snapshot watcher.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot == nil {
		snapshot = watcher.Snapshot{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
