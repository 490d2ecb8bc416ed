package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/memorymesh/core"
)

// SQLiteStore persists thread checkpoints in the checkpoints table. It is
// usually opened on the same database handle as the memory store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps db and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		user_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		messages TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, thread_id)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load returns the stored state or an empty one for an unknown thread.
func (s *SQLiteStore) Load(ctx context.Context, key core.ThreadKey) (*core.ConversationState, error) {
	query := `SELECT messages, summary FROM checkpoints WHERE user_id = ? AND thread_id = ?`

	var raw, summary string
	err := s.db.QueryRowContext(ctx, query, key.UserID, key.ThreadID).Scan(&raw, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return &core.ConversationState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", key, err)
	}

	msgs, err := core.UnmarshalMessages([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", key, err)
	}
	return &core.ConversationState{Messages: msgs, Summary: summary}, nil
}

// Save replaces the thread's checkpoint.
func (s *SQLiteStore) Save(ctx context.Context, key core.ThreadKey, state *core.ConversationState) error {
	raw, err := core.MarshalMessages(state.Messages)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", key, err)
	}

	query := `
		INSERT INTO checkpoints (user_id, thread_id, messages, summary, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, thread_id) DO UPDATE SET
			messages = excluded.messages,
			summary = excluded.summary,
			updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, key.UserID, key.ThreadID, string(raw), state.Summary, time.Now().UnixNano()); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", key, err)
	}
	return nil
}

// Delete removes a thread's checkpoint.
func (s *SQLiteStore) Delete(ctx context.Context, key core.ThreadKey) error {
	query := `DELETE FROM checkpoints WHERE user_id = ? AND thread_id = ?`
	if _, err := s.db.ExecContext(ctx, query, key.UserID, key.ThreadID); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", key, err)
	}
	return nil
}
