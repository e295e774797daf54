package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/gemini-qa/internal/domain"
	"github.com/ashureev/gemini-qa/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes session writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		entry_count INTEGER NOT NULL DEFAULT 0,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON sessions(last_seen_at);

	CREATE TABLE IF NOT EXISTS dispatches (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		prompt_chars INTEGER NOT NULL,
		response_chars INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dispatches_session ON dispatches(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSession retrieves a session record by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	query := `
		SELECT session_id, state, entry_count, last_seen_at, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var lastSeen, createdAt, updatedAt int64

	if err := row.Scan(
		&rec.SessionID, &rec.State, &rec.EntryCount,
		&lastSeen, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	rec.LastSeenAt = time.Unix(lastSeen, 0)
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

// UpsertSession creates or updates a session record.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.SessionRecord) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	query := `
	INSERT INTO sessions (session_id, state, entry_count, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		state = excluded.state,
		entry_count = excluded.entry_count,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		session.SessionID, session.State, session.EntryCount,
		session.LastSeenAt.Unix(), session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// TouchSession updates last_seen_at, state and entry count for a session.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID, state string, entryCount int, lastSeen time.Time) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	query := `UPDATE sessions SET state = ?, entry_count = ?, last_seen_at = ?, updated_at = ? WHERE session_id = ?`
	result, err := s.db.ExecContext(ctx, query, state, entryCount, lastSeen.Unix(), time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchSession affected 0 rows", "session_id", sessionID)
	}
	return nil
}

// GetExpiredSessions retrieves sessions idle for longer than ttl.
func (s *SQLiteStore) GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.SessionRecord, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		SELECT session_id, state, entry_count, last_seen_at, created_at, updated_at
		FROM sessions WHERE last_seen_at < ?`

	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var sessions []*domain.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		sessions = append(sessions, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}

	return sessions, nil
}

// DeleteSession removes a session record, retrying on SQLITE_BUSY.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	return shared.RetryOnConflict(ctx, "delete session "+sessionID, 3, 100*time.Millisecond, func(ctx context.Context) error {
		s.sessionMu.Lock()
		defer s.sessionMu.Unlock()

		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

// RecordDispatch stores the audit row for one dispatch.
func (s *SQLiteStore) RecordDispatch(ctx context.Context, record *domain.DispatchRecord) error {
	query := `
	INSERT INTO dispatches (id, session_id, mode, outcome, error, prompt_chars, response_chars, duration_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var errText interface{}
	if record.Error != "" {
		errText = record.Error
	}

	_, err := s.db.ExecContext(ctx, query,
		record.ID, record.SessionID, record.Mode, string(record.Outcome), errText,
		record.PromptChars, record.ResponseChars, record.Duration.Milliseconds(),
		record.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert dispatch: %w", err)
	}
	return nil
}

// ListDispatches returns the most recent dispatch records for a session, newest first.
func (s *SQLiteStore) ListDispatches(ctx context.Context, sessionID string, limit int) ([]*domain.DispatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, mode, outcome, error, prompt_chars, response_chars, duration_ms, created_at
		FROM dispatches WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close dispatch rows", "error", closeErr)
		}
	}()

	var records []*domain.DispatchRecord
	for rows.Next() {
		var rec domain.DispatchRecord
		var outcome string
		var errText sql.NullString
		var durationMs, createdAt int64

		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.Mode, &outcome, &errText,
			&rec.PromptChars, &rec.ResponseChars, &durationMs, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan dispatch row: %w", err)
		}
		rec.Outcome = domain.DispatchOutcome(outcome)
		rec.Error = errText.String
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatches: %w", err)
	}
	return records, nil
}

// CleanupDispatches removes dispatch records older than maxAge.
func (s *SQLiteStore) CleanupDispatches(ctx context.Context, maxAge time.Duration) (int64, error) {
	threshold := time.Now().Add(-maxAge).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM dispatches WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup dispatches: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
