// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     store
// Description: SQLite persistence for committed dialogue turns
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/msto63/wake/pkg/core/fault"
)

// SessionSummary describes one stored session
type SessionSummary struct {
	ID        string    `json:"id"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Turn is one stored user and assistant exchange
type Turn struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	CreatedAt time.Time `json:"created_at"`
}

// Config holds store configuration
type Config struct {
	Path string
}

// DefaultConfig returns the default store location
func DefaultConfig() Config {
	return Config{Path: "./data/transcripts.db"}
}

// Transcripts stores dialogue turns in SQLite
type Transcripts struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// Open opens or creates the database at cfg.Path
func Open(cfg Config) (*Transcripts, error) {
	if cfg.Path == "" {
		cfg = DefaultConfig()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fault.Wrap(err, "failed to create data directory").WithCode(fault.CodeInvalidConfig)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fault.Wrap(err, "failed to open database").WithCode(fault.CodeInternal)
	}

	t := &Transcripts{db: db, now: time.Now}
	if err := t.initSchema(); err != nil {
		db.Close()
		return nil, fault.Wrap(err, "failed to initialize schema").WithCode(fault.CodeInternal)
	}
	return t, nil
}

func (t *Transcripts) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_text TEXT NOT NULL,
		assistant_text TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);
	`
	_, err := t.db.Exec(schema)
	return err
}

// SaveTurn appends a turn, creating the session row on first use
func (t *Transcripts) SaveTurn(ctx context.Context, sessionID, user, assistant string) error {
	if sessionID == "" {
		return fault.New("session id is required").WithCode(fault.CodeInvalidInput)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fault.Wrap(err, "failed to begin transaction").WithCode(fault.CodeInternal)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, sessionID, now, now); err != nil {
		return fault.Wrap(err, "failed to upsert session").WithCode(fault.CodeInternal)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (session_id, user_text, assistant_text, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, user, assistant, now); err != nil {
		return fault.Wrap(err, "failed to insert turn").WithCode(fault.CodeInternal)
	}

	if err := tx.Commit(); err != nil {
		return fault.Wrap(err, "failed to commit turn").WithCode(fault.CodeInternal)
	}
	return nil
}

// Turns returns the turns of a session in order
func (t *Transcripts) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rows, err := t.db.QueryContext(ctx, `
		SELECT id, session_id, user_text, assistant_text, created_at
		FROM turns WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fault.Wrap(err, "failed to query turns").WithCode(fault.CodeInternal)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.User, &turn.Assistant, &turn.CreatedAt); err != nil {
			return nil, fault.Wrap(err, "failed to scan turn").WithCode(fault.CodeInternal)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(err, "failed to read turns").WithCode(fault.CodeInternal)
	}
	if len(turns) == 0 {
		if ok, err := t.exists(ctx, sessionID); err != nil {
			return nil, err
		} else if !ok {
			return nil, fault.Newf("no transcript for session %s", sessionID).WithCode(fault.CodeSessionNotFound)
		}
	}
	return turns, nil
}

func (t *Transcripts) exists(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&n)
	if err != nil {
		return false, fault.Wrap(err, "failed to look up session").WithCode(fault.CodeInternal)
	}
	return n > 0, nil
}

// Sessions lists stored sessions, most recently updated first
func (t *Transcripts) Sessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	rows, err := t.db.QueryContext(ctx, `
		SELECT s.id, s.created_at, s.updated_at, COUNT(tr.id)
		FROM sessions s LEFT JOIN turns tr ON tr.session_id = s.id
		GROUP BY s.id
		ORDER BY s.updated_at DESC, s.id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fault.Wrap(err, "failed to query sessions").WithCode(fault.CodeInternal)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt, &s.Turns); err != nil {
			return nil, fault.Wrap(err, "failed to scan session").WithCode(fault.CodeInternal)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Ping checks that the database answers
func (t *Transcripts) Ping(ctx context.Context) error {
	return t.db.PingContext(ctx)
}

// Close closes the database
func (t *Transcripts) Close() error {
	return t.db.Close()
}
