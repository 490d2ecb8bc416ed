package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/memorymesh/core"
)

// SQLiteStore implements core.MemoryStore on the user_memories table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// SQLiteOptions tune a SQLiteStore.
type SQLiteOptions struct {
	// Now supplies updated_at timestamps. Defaults to time.Now.
	Now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(path string, optFns ...func(o *SQLiteOptions)) (*SQLiteStore, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStore(db, optFns...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenDB opens a SQLite database with WAL journaling and a busy timeout so
// the memory table and checkpoint table can share one file.
func OpenDB(path string) (*sql.DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// writes are serialized by SQLite anyway; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// NewSQLiteStore wraps an open database and ensures the schema.
func NewSQLiteStore(db *sql.DB, optFns ...func(o *SQLiteOptions)) (*SQLiteStore, error) {
	opts := SQLiteOptions{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &SQLiteStore{db: db, now: opts.Now}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS user_memories (
		user_id TEXT NOT NULL,
		memory_id TEXT NOT NULL,
		content TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, memory_id)
	);
	CREATE INDEX IF NOT EXISTS idx_user_memories_updated ON user_memories(user_id, updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// DB returns the underlying handle.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Upsert inserts or replaces the row and bumps updated_at. Last write wins.
func (s *SQLiteStore) Upsert(ctx context.Context, userID, memoryID, content string) error {
	query := `
		INSERT INTO user_memories (user_id, memory_id, content, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, memory_id) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, userID, memoryID, content, s.now().UnixNano()); err != nil {
		return fmt.Errorf("upsert memory %s/%s: %w", userID, memoryID, err)
	}
	return nil
}

// Delete removes the row. Deleting an absent key is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, userID, memoryID string) error {
	query := `DELETE FROM user_memories WHERE user_id = ? AND memory_id = ?`
	if _, err := s.db.ExecContext(ctx, query, userID, memoryID); err != nil {
		return fmt.Errorf("delete memory %s/%s: %w", userID, memoryID, err)
	}
	return nil
}

// List returns all rows for a user, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context, userID string) ([]core.MemoryRecord, error) {
	query := `
		SELECT memory_id, content, updated_at
		FROM user_memories
		WHERE user_id = ?
		ORDER BY updated_at DESC, memory_id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query memories for %s: %w", userID, err)
	}
	defer rows.Close()

	var records []core.MemoryRecord
	for rows.Next() {
		var (
			rec       core.MemoryRecord
			updatedAt int64
		)
		if err := rows.Scan(&rec.MemoryID, &rec.Content, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		rec.UserID = userID
		rec.UpdatedAt = time.Unix(0, updatedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory rows: %w", err)
	}
	return records, nil
}
