package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetByPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &Session{SessionID: "sess-1", FromTeam: "alpha", ToTeam: "beta"}
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.GetByPair(ctx, "alpha", "beta")
	if err != nil {
		t.Fatalf("GetByPair: %v", err)
	}
	if got.SessionID != "sess-1" || got.Status != StatusActive || got.ProcessState != ProcessStopped {
		t.Errorf("got = %+v", got)
	}
}

func TestGetByPairNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetByPair(context.Background(), "alpha", "beta")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestPairUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, &Session{SessionID: "s1", FromTeam: "a", ToTeam: "b"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := s.Create(ctx, &Session{SessionID: "s2", FromTeam: "a", ToTeam: "b"})
	if err == nil {
		t.Fatal("expected a unique-constraint violation for a duplicate (fromTeam,toTeam) pair")
	}
}

func TestTouchUsageIncrementsMessageCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := &Session{SessionID: "s1", FromTeam: "a", ToTeam: "b"}
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.TouchUsage(ctx, "s1"); err != nil {
		t.Fatalf("TouchUsage: %v", err)
	}
	got, err := s.GetByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", got.MessageCount)
	}
	if got.LastResponseAt.IsZero() {
		t.Error("expected LastResponseAt to be set")
	}
}

func TestResetRuntimeStateClearsProcessStateAndCacheSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := &Session{SessionID: "s1", FromTeam: "a", ToTeam: "b"}
	if err := s.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetProcessState(ctx, "s1", ProcessProcessing); err != nil {
		t.Fatalf("SetProcessState: %v", err)
	}
	if err := s.SetCurrentCacheSessionID(ctx, "s1", "cache-xyz"); err != nil {
		t.Fatalf("SetCurrentCacheSessionID: %v", err)
	}

	if err := s.ResetRuntimeState(ctx); err != nil {
		t.Fatalf("ResetRuntimeState: %v", err)
	}

	got, err := s.GetByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ProcessState != ProcessStopped {
		t.Errorf("ProcessState = %q, want stopped", got.ProcessState)
	}
	if got.CurrentCacheSessionID != "" {
		t.Errorf("CurrentCacheSessionID = %q, want empty", got.CurrentCacheSessionID)
	}
}

func TestDeleteRemovesSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, &Session{SessionID: "s1", FromTeam: "a", ToTeam: "b"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, err := s.GetByID(ctx, "s1")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows after delete, got %v", err)
	}
}

func TestListByToTeam(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, &Session{SessionID: "s1", FromTeam: "a", ToTeam: "target"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, &Session{SessionID: "s2", FromTeam: "c", ToTeam: "target"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, &Session{SessionID: "s3", FromTeam: "a", ToTeam: "other"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.ListByToTeam(ctx, "target")
	if err != nil {
		t.Fatalf("ListByToTeam: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}
