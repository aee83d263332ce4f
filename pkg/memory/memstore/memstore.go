// Package memstore provides an in-process implementation of memory.Store.
//
// It is the default backend when no database DSN is configured. Logs live in
// a map keyed by session ID and disappear on restart, which is acceptable for
// a single advisory call but loses context if the backend restarts mid-call.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/souffleur-ai/souffleur/pkg/memory"
)

// Store is an in-memory memory.Store.
// The zero value is not usable; construct with New.
type Store struct {
	mu    sync.RWMutex
	turns map[string][]memory.Turn
}

// Compile-time check that *Store satisfies memory.Store.
var _ memory.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{turns: make(map[string][]memory.Turn)}
}

// Append implements memory.Store.
func (s *Store) Append(ctx context.Context, sessionID string, turn memory.Turn) error {
	if sessionID == "" {
		return fmt.Errorf("memstore: sessionID must not be empty")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[sessionID] = append(s.turns[sessionID], turn)
	return nil
}

// Turns implements memory.Store. The returned slice is a copy; callers may
// modify it freely.
func (s *Store) Turns(ctx context.Context, sessionID string) ([]memory.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.turns[sessionID]
	out := make([]memory.Turn, len(stored))
	copy(out, stored)
	return out, nil
}

// Clear implements memory.Store.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, sessionID)
	return nil
}
