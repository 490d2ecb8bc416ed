package session

import (
	"context"
	"sync"

	"github.com/hupe1980/memorymesh/core"
)

// InMemoryStore is a volatile CheckpointStore storing thread states in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. States are cloned on the way in and out to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[core.ThreadKey]*core.ConversationState
}

// NewInMemoryStore constructs an empty in-memory checkpoint store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: make(map[core.ThreadKey]*core.ConversationState)}
}

// Load returns a clone of the stored state or a fresh empty one.
func (s *InMemoryStore) Load(_ context.Context, key core.ThreadKey) (*core.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.threads[key]; ok {
		return st.Clone(), nil
	}
	return &core.ConversationState{}, nil
}

// Save stores a clone of state.
func (s *InMemoryStore) Save(_ context.Context, key core.ThreadKey, state *core.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[key] = state.Clone()
	return nil
}

// Delete forgets a thread.
func (s *InMemoryStore) Delete(_ context.Context, key core.ThreadKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, key)
	return nil
}
