package chat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/gemini-qa/internal/domain"
	"github.com/ashureev/gemini-qa/internal/store"
)

func TestReapIdleSessions(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "reaper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()

	e := newReadyEngine(t, &fakeModel{}, func(c *Config) { c.Store = repo })
	idle, err := e.OpenSession(ctx, "idle")
	require.NoError(t, err)
	_, err = e.OpenSession(ctx, "active")
	require.NoError(t, err)
	idle.lastSeen.Store(time.Now().Add(-2 * time.Hour).UnixNano())

	// A record left behind by an earlier process.
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, repo.UpsertSession(ctx, &domain.SessionRecord{
		SessionID: "orphan", State: "READY", LastSeenAt: old, CreatedAt: old, UpdatedAt: old,
	}))

	reapIdleSessions(ctx, repo, e, time.Hour)

	assert.Equal(t, []string{"active"}, e.Sessions())
	for _, id := range []string{"idle", "orphan"} {
		rec, err := repo.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, rec, id)
	}
	rec, err := repo.GetSession(ctx, "active")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestReaperKeepsActiveSessionWithStaleRecord(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "reaper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()

	e := newReadyEngine(t, &fakeModel{}, func(c *Config) { c.Store = repo })
	_, err = e.OpenSession(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, repo.TouchSession(ctx, "s1", "READY", 0, time.Now().Add(-2*time.Hour)))

	reapIdleSessions(ctx, repo, e, time.Hour)
	assert.Equal(t, []string{"s1"}, e.Sessions())
}

func TestReaperWithoutStore(t *testing.T) {
	e := newReadyEngine(t, &fakeModel{})
	s, err := e.OpenSession(context.Background(), "s1")
	require.NoError(t, err)
	s.lastSeen.Store(time.Now().Add(-time.Hour).UnixNano())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartReaper(ctx, nil, e, time.Minute, 10*time.Millisecond)

	assert.Eventually(t, func() bool { return len(e.Sessions()) == 0 }, 2*time.Second, 10*time.Millisecond)
}
