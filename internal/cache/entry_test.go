package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewAssignsIDAndType(t *testing.T) {
	e := New(TypeTell, "hello")
	if e.ID == "" {
		t.Fatal("expected a generated ID")
	}
	if e.Type != TypeTell {
		t.Fatalf("expected TypeTell, got %v", e.Type)
	}
	if e.TellString != "hello" {
		t.Fatalf("expected tell string %q, got %q", "hello", e.TellString)
	}
	if e.IsCompleted() {
		t.Fatal("expected a fresh entry to not be completed")
	}
}

func TestAddMessageAccumulatesInOrder(t *testing.T) {
	e := New(TypeTell, "q")
	e.AddMessage(json.RawMessage(`{"type":"stream_event"}`))
	e.AddMessage(json.RawMessage(`{"type":"result"}`))

	frames := e.Frames()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if string(frames[0].Raw) != `{"type":"stream_event"}` {
		t.Fatalf("unexpected first frame: %s", frames[0].Raw)
	}
}

func TestAddMessageAfterCompleteIsNoOp(t *testing.T) {
	e := New(TypeTell, "q")
	e.Complete(nil)
	e.AddMessage(json.RawMessage(`{"type":"late"}`))
	if len(e.Frames()) != 0 {
		t.Fatal("expected no frames appended after completion")
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	e := New(TypeTell, "q")
	e.Complete(errors.New("first"))
	e.Complete(errors.New("second"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := e.Wait(ctx)
	if err == nil || err.Error() != "first" {
		t.Fatalf("expected first error to win, got %v", err)
	}
}

func TestWaitReturnsOnContextDeadline(t *testing.T) {
	e := New(TypeTell, "q")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := e.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWaitUnblocksOnComplete(t *testing.T) {
	e := New(TypeTell, "q")
	go func() {
		time.Sleep(5 * time.Millisecond)
		e.Complete(nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("expected clean completion, got %v", err)
	}
}
