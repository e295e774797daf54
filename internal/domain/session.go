// Package domain contains core domain types for the Gemini Q&A service.
package domain

import (
	"time"
)

// SessionRecord is the audit row kept for a chat session.
// It never carries log contents; only enough metadata to reap idle sessions.
type SessionRecord struct {
	SessionID  string    `json:"session_id"`
	State      string    `json:"state"`
	EntryCount int       `json:"entry_count"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TTL returns the time until the session expires.
// Returns 0 if the session has already expired.
func (s *SessionRecord) TTL(sessionDuration time.Duration) time.Duration {
	expiresAt := s.LastSeenAt.Add(sessionDuration)
	ttl := time.Until(expiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
