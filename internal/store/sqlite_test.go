package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/gemini-qa/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	got, err := repo.GetSession(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now()
	require.NoError(t, repo.UpsertSession(ctx, &domain.SessionRecord{
		SessionID:  "s1",
		State:      "READY",
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))

	require.NoError(t, repo.TouchSession(ctx, "s1", "READY", 4, now.Add(time.Second)))

	got, err = repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "READY", got.State)
	assert.Equal(t, 4, got.EntryCount)
	assert.Equal(t, now.Add(time.Second).Unix(), got.LastSeenAt.Unix())

	require.NoError(t, repo.DeleteSession(ctx, "s1"))
	got, err = repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetExpiredSessions(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	now := time.Now()
	stale := now.Add(-2 * time.Hour)
	require.NoError(t, repo.UpsertSession(ctx, &domain.SessionRecord{
		SessionID: "old", State: "READY", LastSeenAt: stale, CreatedAt: stale, UpdatedAt: stale,
	}))
	require.NoError(t, repo.UpsertSession(ctx, &domain.SessionRecord{
		SessionID: "fresh", State: "READY", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}))

	expired, err := repo.GetExpiredSessions(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].SessionID)
}

func TestDispatchRecords(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	base := time.Now()
	require.NoError(t, repo.RecordDispatch(ctx, &domain.DispatchRecord{
		ID: "d1", SessionID: "s1", Mode: "text", Outcome: domain.OutcomeOK,
		PromptChars: 2, ResponseChars: 5, Duration: 150 * time.Millisecond, CreatedAt: base,
	}))
	require.NoError(t, repo.RecordDispatch(ctx, &domain.DispatchRecord{
		ID: "d2", SessionID: "s1", Mode: "text", Outcome: domain.OutcomeEmptyChunk,
		Error: "empty chunk", PromptChars: 2, CreatedAt: base.Add(time.Millisecond),
	}))
	require.NoError(t, repo.RecordDispatch(ctx, &domain.DispatchRecord{
		ID: "old", SessionID: "s1", Mode: "vision", Outcome: domain.OutcomeError,
		CreatedAt: base.Add(-30 * 24 * time.Hour),
	}))

	records, err := repo.ListDispatches(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "d2", records[0].ID)
	assert.Equal(t, domain.OutcomeEmptyChunk, records[0].Outcome)
	assert.Equal(t, "empty chunk", records[0].Error)
	assert.Equal(t, 150*time.Millisecond, records[1].Duration)

	deleted, err := repo.CleanupDispatches(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	records, err = repo.ListDispatches(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
