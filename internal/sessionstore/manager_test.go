package sessionstore

import (
	"context"
	"testing"
	"time"

	"github.com/irisrun/iris/internal/team"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store := newTestStore(t)
	registry := team.NewRegistry(nil, []team.TeamConfig{
		{TeamName: "alpha", Path: t.TempDir()},
		{TeamName: "beta", Path: t.TempDir()},
	})
	m, err := New(context.Background(), store, registry, time.Second, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.initSessionFile = func(ctx context.Context, cfg team.TeamConfig, sessionID string) error {
		return nil
	}
	var counter int
	m.newSessionID = func() string {
		counter++
		return "fixed-session-id"
	}
	return m
}

func TestGetOrCreateSessionCreatesOnFirstCall(t *testing.T) {
	m := newTestManager(t)
	sess, err := m.GetOrCreateSession(context.Background(), "alpha", "beta")
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	if sess.SessionID != "fixed-session-id" {
		t.Errorf("SessionID = %q", sess.SessionID)
	}
	if sess.Status != StatusActive || sess.ProcessState != ProcessStopped {
		t.Errorf("unexpected initial state: %+v", sess)
	}
}

func TestGetOrCreateSessionReturnsExistingOnSecondCall(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	first, err := m.GetOrCreateSession(ctx, "alpha", "beta")
	if err != nil {
		t.Fatalf("GetOrCreateSession (first): %v", err)
	}

	initCalls := 0
	m.initSessionFile = func(ctx context.Context, cfg team.TeamConfig, sessionID string) error {
		initCalls++
		return nil
	}

	second, err := m.GetOrCreateSession(ctx, "alpha", "beta")
	if err != nil {
		t.Fatalf("GetOrCreateSession (second): %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Errorf("expected the same session to be returned, got %q vs %q", second.SessionID, first.SessionID)
	}
	if initCalls != 0 {
		t.Errorf("expected no re-initialization for an existing pair, got %d calls", initCalls)
	}
}

func TestGetOrCreateSessionRejectsUnknownTeams(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetOrCreateSession(context.Background(), "alpha", "ghost")
	if err == nil {
		t.Fatal("expected an error for an unknown toTeam")
	}
	_, err = m.GetOrCreateSession(context.Background(), "ghost", "beta")
	if err == nil {
		t.Fatal("expected an error for an unknown fromTeam")
	}
}

func TestGetOrCreateSessionPropagatesInitFailure(t *testing.T) {
	m := newTestManager(t)
	m.initSessionFile = func(ctx context.Context, cfg team.TeamConfig, sessionID string) error {
		return errFakeInit
	}
	_, err := m.GetOrCreateSession(context.Background(), "alpha", "beta")
	if err == nil {
		t.Fatal("expected session creation to fail when initialization fails")
	}
}

var errFakeInit = &fakeInitError{}

type fakeInitError struct{}

func (e *fakeInitError) Error() string { return "fake init failure" }

func TestEscapeProjectPath(t *testing.T) {
	got := escapeProjectPath("/home/user/project")
	if got == "" {
		t.Fatal("expected a non-empty escaped path")
	}
}
