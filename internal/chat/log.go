package chat

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ashureev/gemini-qa/internal/domain"
)

// ErrInvalidLogEntry is returned when an entry's role or text has the wrong shape.
var ErrInvalidLogEntry = errors.New("invalid log entry")

// Log is the append-only conversation for one session.
type Log struct {
	mu      sync.RWMutex
	entries []domain.LogEntry
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append adds one entry. role must be a string or domain.Role naming "You" or "Bot",
// and text must be a string; otherwise the log is left unchanged.
func (l *Log) Append(role, text any) error {
	entry, err := toEntry(role, text)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return nil
}

// AppendPair adds a question and its answer together.
func (l *Log) AppendPair(question, answer string) error {
	q, err := toEntry(string(domain.RoleUser), question)
	if err != nil {
		return err
	}
	a, err := toEntry(string(domain.RoleBot), answer)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.entries = append(l.entries, q, a)
	l.mu.Unlock()
	return nil
}

// All returns a copy of every entry in append order.
func (l *Log) All() []domain.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func toEntry(role, text any) (domain.LogEntry, error) {
	var r string
	switch v := role.(type) {
	case string:
		r = v
	case domain.Role:
		r = string(v)
	default:
		return domain.LogEntry{}, fmt.Errorf("%w: role is %T, not string", ErrInvalidLogEntry, role)
	}
	t, ok := text.(string)
	if !ok {
		return domain.LogEntry{}, fmt.Errorf("%w: text is %T, not string", ErrInvalidLogEntry, text)
	}
	if !domain.Role(r).Valid() {
		return domain.LogEntry{}, fmt.Errorf("%w: unknown role %q", ErrInvalidLogEntry, r)
	}
	return domain.LogEntry{Role: domain.Role(r), Text: t}, nil
}
