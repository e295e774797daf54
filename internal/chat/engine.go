// Package chat gates the process on a valid credential and runs per-session submissions.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/gemini-qa/internal/credential"
	"github.com/ashureev/gemini-qa/internal/dispatch"
	"github.com/ashureev/gemini-qa/internal/domain"
	"github.com/ashureev/gemini-qa/internal/imaging"
	"github.com/ashureev/gemini-qa/internal/store"
	"github.com/ashureev/gemini-qa/internal/transcript"
)

var (
	// ErrHalted is returned once credential resolution has failed. It is terminal.
	ErrHalted = errors.New("engine halted: no valid credential")
	// ErrNotReady is returned before Start has completed.
	ErrNotReady = errors.New("engine not ready")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("engine already started")
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
)

// DispatcherFactory builds the dispatcher once the credential is known.
type DispatcherFactory func(ctx context.Context, cred credential.Credential) (*dispatch.Dispatcher, error)

// Observer receives session lifecycle events. *metrics.Metrics implements it.
type Observer interface {
	SessionOpened()
	SessionClosed()
	Warning(mode dispatch.Mode)
}

// TranscriptLogger receives conversation events. *transcript.Logger implements it.
type TranscriptLogger interface {
	Log(ev transcript.Event)
	CloseSession(sessionID string)
}

// Config wires an Engine. Only NewDispatcher is required.
type Config struct {
	APIKey        string
	Prompt        credential.PromptFunc
	Validator     credential.Validator
	NewDispatcher DispatcherFactory
	Decoder       imaging.Decoder

	Store      store.Repository
	Transcript TranscriptLogger
	Observer   Observer
	Logger     *slog.Logger
}

// Engine is the process-level gate and session registry.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.RWMutex
	state      State
	dispatcher *dispatch.Dispatcher
	sessions   map[string]*Session
}

// NewEngine returns an engine in StateInit.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		state:    StateInit,
		sessions: make(map[string]*Session),
	}
}

// Start resolves the credential and builds the dispatcher. Any failure halts the engine for good.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateInit {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.state = StateAwaitingCredential
	e.mu.Unlock()

	cred, err := credential.Resolve(ctx, e.cfg.APIKey, e.cfg.Prompt, e.cfg.Validator)
	if err != nil {
		e.halt(err)
		return err
	}
	if e.cfg.NewDispatcher == nil {
		err := errors.New("no dispatcher factory configured")
		e.halt(err)
		return err
	}
	d, err := e.cfg.NewDispatcher(ctx, cred)
	if err != nil {
		err = fmt.Errorf("build dispatcher: %w", err)
		e.halt(err)
		return err
	}

	e.mu.Lock()
	e.dispatcher = d
	e.state = StateReady
	e.mu.Unlock()
	e.logger.Info("Engine ready")
	return nil
}

func (e *Engine) halt(err error) {
	e.mu.Lock()
	e.state = StateHalted
	e.mu.Unlock()
	e.logger.Error("Engine halted", "error", err)
}

// State returns the engine state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) readyErr() error {
	switch e.state {
	case StateReady:
		return nil
	case StateHalted:
		return ErrHalted
	default:
		return ErrNotReady
	}
}

// OpenSession returns the session for id, creating it if needed.
func (e *Engine) OpenSession(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}

	e.mu.Lock()
	if err := e.readyErr(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if s, ok := e.sessions[id]; ok {
		e.mu.Unlock()
		return s, nil
	}
	s := newSession(id, e)
	e.sessions[id] = s
	e.mu.Unlock()

	if e.cfg.Observer != nil {
		e.cfg.Observer.SessionOpened()
	}
	if e.cfg.Store != nil {
		now := time.Now().UTC()
		rec := &domain.SessionRecord{
			SessionID:  id,
			State:      StateReady.String(),
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := e.cfg.Store.UpsertSession(ctx, rec); err != nil {
			e.logger.Warn("Failed to record session", "session_id", id, "error", err)
		}
	}
	e.logger.Info("Session opened", "session_id", id)
	return s, nil
}

// Session looks up an open session.
func (e *Engine) Session(id string) (*Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// CloseSession drops the session and its audit record. The record is deleted
// even when the session is not registered, so orphans left by a restart are reaped.
func (e *Engine) CloseSession(ctx context.Context, id string) error {
	e.mu.Lock()
	s, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()

	if ok {
		s.close()
		if e.cfg.Observer != nil {
			e.cfg.Observer.SessionClosed()
		}
		e.logger.Info("Session closed", "session_id", id, "entries", s.log.Len())
	}
	if e.cfg.Transcript != nil {
		e.cfg.Transcript.CloseSession(id)
	}

	if e.cfg.Store != nil {
		if err := e.cfg.Store.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("delete session record %s: %w", id, err)
		}
	}

	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// Sessions returns the ids of all open sessions, sorted.
func (e *Engine) Sessions() []string {
	e.mu.RLock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// IdleSessions returns the ids of sessions not used within ttl.
func (e *Engine) IdleSessions(ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)
	e.mu.RLock()
	defer e.mu.RUnlock()
	var ids []string
	for id, s := range e.sessions {
		if s.LastSeen().Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) currentDispatcher() (*dispatch.Dispatcher, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.readyErr(); err != nil {
		return nil, err
	}
	return e.dispatcher, nil
}
