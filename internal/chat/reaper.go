package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/gemini-qa/internal/store"
)

const dispatchRetention = 7 * 24 * time.Hour

// StartReaper runs a background goroutine that closes sessions idle for longer
// than ttl and prunes old dispatch audit rows. repo may be nil.
func StartReaper(ctx context.Context, repo store.Repository, engine *Engine, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session reaper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				reapIdleSessions(ctx, repo, engine, ttl)
			case <-ctx.Done():
				slog.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func reapIdleSessions(ctx context.Context, repo store.Repository, engine *Engine, ttl time.Duration) {
	idle := make(map[string]struct{})
	for _, id := range engine.IdleSessions(ttl) {
		idle[id] = struct{}{}
	}

	if repo != nil {
		expired, err := repo.GetExpiredSessions(ctx, ttl)
		if err != nil {
			slog.Error("Reaper failed to get expired sessions", "error", err)
		}
		for _, rec := range expired {
			// The in-memory session is authoritative when it is still active.
			if s, err := engine.Session(rec.SessionID); err == nil && time.Since(s.LastSeen()) < ttl {
				continue
			}
			idle[rec.SessionID] = struct{}{}
		}
	}

	if len(idle) > 0 {
		slog.Info("Reaper found idle sessions", "count", len(idle))
	}
	for id := range idle {
		if err := engine.CloseSession(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			slog.Warn("Reaper failed to close session", "session_id", id, "error", err)
		}
	}

	if repo == nil {
		return
	}
	if deleted, err := repo.CleanupDispatches(ctx, dispatchRetention); err != nil {
		slog.Error("Reaper failed to prune dispatch records", "error", err)
	} else if deleted > 0 {
		slog.Info("Reaper pruned dispatch records", "count", deleted)
	}
}
