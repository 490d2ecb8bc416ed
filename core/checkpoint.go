package core

import (
	"context"
	"fmt"
)

// ThreadKey identifies a durable conversation.
type ThreadKey struct {
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id"`
}

// DefaultThreadID is the thread used when a caller does not name one.
func DefaultThreadID(userID string) string { return fmt.Sprintf("thread_%s", userID) }

func (k ThreadKey) String() string { return k.UserID + "/" + k.ThreadID }

// LockKey is an injective string form of k for per-thread locks. The user id
// is length-prefixed so ids containing "/" cannot collide.
func (k ThreadKey) LockKey() string {
	return fmt.Sprintf("%d:%s/%s", len(k.UserID), k.UserID, k.ThreadID)
}

// CheckpointStore persists ConversationState snapshots per thread.
type CheckpointStore interface {
	// Load returns the stored state, or an empty state when none exists.
	Load(ctx context.Context, key ThreadKey) (*ConversationState, error)
	Save(ctx context.Context, key ThreadKey, state *ConversationState) error
}
