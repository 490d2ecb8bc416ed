package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/memorymesh/core"
	"github.com/hupe1980/memorymesh/logging"
)

// ErrInvalidArgument reports an unusable user or memory id.
var ErrInvalidArgument = errors.New("invalid memory argument")

// Entry is one fact of a user's memory snapshot.
type Entry struct {
	MemoryID string `json:"memory_id"`
	Content  string `json:"content"`
}

// Options configure a Manager.
type Options struct {
	Cache  Cache
	Logger logging.Logger
}

// Manager couples the durable store with the process cache.
//
// Reads load a user's rows once and serve later reads from the cache. Writes
// commit to the store first and then update the cached snapshot while the
// per-user lock is held, so a read that follows a committed write never sees
// the previous value. A failed store write leaves the cache untouched.
type Manager struct {
	store  core.MemoryStore
	cache  Cache
	logger logging.Logger
	locks  *core.KeyedMutex
}

// NewManager creates a Manager over store.
func NewManager(store core.MemoryStore, optFns ...func(o *Options)) *Manager {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Cache == nil {
		opts.Cache = NewMapCache()
	}
	return &Manager{store: store, cache: opts.Cache, logger: opts.Logger, locks: core.NewKeyedMutex()}
}

// Snapshot returns the user's facts sorted by memory id.
func (m *Manager) Snapshot(ctx context.Context, userID string) ([]Entry, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	entries, err := m.loadLocked(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(entries))
	for id, content := range entries {
		out = append(out, Entry{MemoryID: id, Content: content})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemoryID < out[j].MemoryID })
	return out, nil
}

// Get returns a single fact.
func (m *Manager) Get(ctx context.Context, userID, memoryID string) (string, bool, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	entries, err := m.loadLocked(ctx, userID)
	if err != nil {
		return "", false, err
	}
	content, ok := entries[memoryID]
	return content, ok, nil
}

func (m *Manager) loadLocked(ctx context.Context, userID string) (map[string]string, error) {
	if entries, ok := m.cache.Get(userID); ok {
		return entries, nil
	}

	records, err := m.store.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load memories for %s: %w", userID, err)
	}
	entries := make(map[string]string, len(records))
	for _, r := range records {
		entries[r.MemoryID] = r.Content
	}
	m.cache.Set(userID, entries)
	m.logger.Debug("memory.cache.loaded", "user_id", userID, "entries", len(entries))
	return entries, nil
}

// Upsert durably writes the fact and refreshes the cached snapshot.
func (m *Manager) Upsert(ctx context.Context, userID, memoryID, content string) error {
	if err := validateKey(userID, memoryID); err != nil {
		return err
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	if err := m.store.Upsert(ctx, userID, memoryID, content); err != nil {
		m.logger.Error("memory.upsert.failed", "user_id", userID, "memory_id", memoryID, "error", err.Error())
		return err
	}

	if cached, ok := m.cache.Get(userID); ok {
		next := cloneEntries(cached, 1)
		next[memoryID] = content
		m.cache.Set(userID, next)
	}
	m.logger.Info("memory.upsert", "user_id", userID, "memory_id", memoryID)
	return nil
}

// Delete removes the fact durably and from the cache. Missing keys are a no-op.
func (m *Manager) Delete(ctx context.Context, userID, memoryID string) error {
	if err := validateKey(userID, memoryID); err != nil {
		return err
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	if err := m.store.Delete(ctx, userID, memoryID); err != nil {
		m.logger.Error("memory.delete.failed", "user_id", userID, "memory_id", memoryID, "error", err.Error())
		return err
	}

	if cached, ok := m.cache.Get(userID); ok {
		if _, present := cached[memoryID]; present {
			next := cloneEntries(cached, 0)
			delete(next, memoryID)
			if len(next) == 0 {
				m.cache.Delete(userID)
			} else {
				m.cache.Set(userID, next)
			}
		}
	}
	m.logger.Info("memory.delete", "user_id", userID, "memory_id", memoryID)
	return nil
}

// List returns the durable rows ordered by most recent update, for display.
func (m *Manager) List(ctx context.Context, userID string) ([]core.MemoryRecord, error) {
	return m.store.List(ctx, userID)
}

func validateKey(userID, memoryID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}
	if strings.TrimSpace(memoryID) == "" {
		return fmt.Errorf("%w: empty memory id", ErrInvalidArgument)
	}
	return nil
}

func cloneEntries(src map[string]string, extra int) map[string]string {
	out := make(map[string]string, len(src)+extra)
	for k, v := range src {
		out[k] = v
	}
	return out
}
