package shared

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: try again"), true},
		{errors.New("database is locked"), true},
		{errors.New("no such table"), false},
	}
	for _, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestRetryOnConflictRetriesBusy(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), "test", 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := RetryOnConflict(context.Background(), "test", 5, time.Millisecond, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if strings.Contains(err.Error(), "attempts") {
		t.Fatalf("non-conflict error must not claim retries: %v", err)
	}
}

func TestRetryOnConflictGivesUp(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), "delete", 3, time.Millisecond, func(context.Context) error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if err == nil || !strings.Contains(err.Error(), "delete failed after 3 attempts") {
		t.Fatalf("unexpected error: %v", err)
	}
}
