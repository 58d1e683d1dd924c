// Package memory keeps the topic snapshot in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/forumwatch/internal/watcher"
)

// Store implements watcher.SnapshotStore in memory. State is lost on exit.
type Store struct {
	mu    sync.RWMutex
	state watcher.Snapshot
	saves int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{state: watcher.Snapshot{}}
}

// NewWithSnapshot seeds the store.
func NewWithSnapshot(snapshot watcher.Snapshot) *Store {
	return &Store{state: snapshot.Clone()}
}

// Load returns a copy of the stored snapshot.
func (s *Store) Load(_ context.Context) (watcher.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), nil
}

// Save replaces the stored snapshot with a copy of snapshot.
func (s *Store) Save(_ context.Context, snapshot watcher.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = snapshot.Clone()
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
