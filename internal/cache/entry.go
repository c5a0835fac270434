// Package cache implements the Cache Entry component (§4.1): an
// append-only buffer of raw agent frames for a single in-flight request,
// plus a completion signal. Grounded on the accumulation-and-signal
// pattern in the retrieval pack's claude-manager.go reference (Session's
// currentBlocks/generating fields and its fanOut-on-result dispatch),
// simplified to the "dumb pipe" shape the core spec calls for: the entry
// itself never interprets frame content, it only stores and signals.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntryType distinguishes the three request shapes the transport can be
// driving at a given moment (§3).
type EntryType string

const (
	TypeSpawn   EntryType = "SPAWN"
	TypeTell    EntryType = "TELL"
	TypeCommand EntryType = "COMMAND"
)

// Frame is one raw JSON object read from the agent's stdout, kept
// unparsed beyond a peek at "type"/"subtype" — the entry itself assigns no
// meaning to frame content.
type Frame struct {
	Raw json.RawMessage
}

// Entry is an append-only, single-writer/single-reader buffer for one
// request. The transport's stdout reader is the sole writer; the task
// awaiting completion is the sole reader.
type Entry struct {
	ID         string
	Type       EntryType
	TellString string
	CreatedAt  time.Time

	mu        sync.Mutex
	frames    []Frame
	completed bool
	failed    error
	done      chan struct{}
}

// New creates an Entry of the given type. tellString is the outgoing text
// for TELL/COMMAND entries; empty for SPAWN.
func New(entryType EntryType, tellString string) *Entry {
	return &Entry{
		ID:         uuid.NewString(),
		Type:       entryType,
		TellString: tellString,
		CreatedAt:  time.Now(),
		done:       make(chan struct{}),
	}
}

// AddMessage appends a frame. It is a no-op once the entry is completed,
// since completion detaches the entry from its transport.
func (e *Entry) AddMessage(raw json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.completed {
		return
	}
	e.frames = append(e.frames, Frame{Raw: raw})
}

// Frames returns a snapshot of every frame appended so far.
func (e *Entry) Frames() []Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Frame, len(e.frames))
	copy(out, e.frames)
	return out
}

// Complete marks the entry done, optionally with a terminal error (an
// agent-reported error frame, or a transport-level failure). Safe to call
// more than once; only the first call has effect.
func (e *Entry) Complete(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.completed {
		return
	}
	e.completed = true
	e.failed = err
	close(e.done)
}

// IsCompleted reports whether a result/error frame (or a transport
// failure) has terminated this entry.
func (e *Entry) IsCompleted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

// Wait blocks until the entry completes or ctx is done, whichever is
// first, returning the entry's terminal error (nil on a clean result).
func (e *Entry) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.failed
	case <-ctx.Done():
		return ctx.Err()
	}
}
