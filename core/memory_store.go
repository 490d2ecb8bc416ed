package core

import (
	"context"
	"time"
)

// MemoryRecord is one durable user fact keyed by (UserID, MemoryID).
type MemoryRecord struct {
	UserID    string    `json:"user_id"`
	MemoryID  string    `json:"memory_id"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryStore persists MemoryRecords. Upsert replaces content and bumps
// UpdatedAt; Delete of an absent key is not an error.
type MemoryStore interface {
	Upsert(ctx context.Context, userID, memoryID, content string) error
	Delete(ctx context.Context, userID, memoryID string) error
	// List returns all rows for a user, most recently updated first.
	List(ctx context.Context, userID string) ([]MemoryRecord, error)
}
