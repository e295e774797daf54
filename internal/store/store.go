// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/gemini-qa/internal/domain"
)

// Repository persists session and dispatch audit records.
// Session log contents are never stored.
type Repository interface {
	// GetSession retrieves a session record by ID. Returns nil, nil when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error)

	// UpsertSession creates or updates a session record.
	UpsertSession(ctx context.Context, session *domain.SessionRecord) error

	// TouchSession updates last_seen_at, state and entry count for a session.
	TouchSession(ctx context.Context, sessionID, state string, entryCount int, lastSeen time.Time) error

	// GetExpiredSessions retrieves sessions idle for longer than ttl.
	GetExpiredSessions(ctx context.Context, ttl time.Duration) ([]*domain.SessionRecord, error)

	// DeleteSession removes a session record.
	DeleteSession(ctx context.Context, sessionID string) error

	// RecordDispatch stores the audit row for one dispatch.
	RecordDispatch(ctx context.Context, record *domain.DispatchRecord) error

	// ListDispatches returns the most recent dispatch records for a session, newest first.
	ListDispatches(ctx context.Context, sessionID string, limit int) ([]*domain.DispatchRecord, error)

	// CleanupDispatches removes dispatch records older than maxAge.
	CleanupDispatches(ctx context.Context, maxAge time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
