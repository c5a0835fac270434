package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/irisrun/iris/internal/cache"
	"github.com/irisrun/iris/internal/team"
	"github.com/irisrun/iris/internal/telemetry/logger"
	"github.com/irisrun/iris/internal/transport"
)

// fakeTransport is an in-memory transport.Transport double, avoiding any
// real subprocess spawn so these tests never touch the toolchain's exec
// boundary.
type fakeTransport struct {
	mu          sync.Mutex
	state       transport.State
	spawnCalls  int32
	tellResult  []cache.Frame
	tellErr     error
	terminated  bool
	spawnErr    error
	spawnBlock  chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: transport.StateStopped}
}

func (f *fakeTransport) Spawn(ctx context.Context, entry *cache.Entry) error {
	atomic.AddInt32(&f.spawnCalls, 1)
	if f.spawnBlock != nil {
		<-f.spawnBlock
	}
	if f.spawnErr != nil {
		f.mu.Lock()
		f.state = transport.StateError
		f.mu.Unlock()
		return f.spawnErr
	}
	f.mu.Lock()
	f.state = transport.StateReady
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ExecuteTell(ctx context.Context, entry *cache.Entry) error {
	for _, fr := range f.tellResult {
		entry.AddMessage(fr.Raw)
	}
	entry.Complete(f.tellErr)
	return nil
}

func (f *fakeTransport) Cancel() error { return nil }

func (f *fakeTransport) Terminate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = true
	f.state = transport.StateStopped
	return nil
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Metrics() transport.Metrics { return transport.Metrics{} }

func newTestRegistry() *team.Registry {
	return team.NewRegistry(nil, []team.TeamConfig{
		{TeamName: "alpha", Path: "/tmp/alpha"},
		{TeamName: "beta", Path: "/tmp/beta"},
	})
}

func TestGetOrCreateTransportSpawnsOnce(t *testing.T) {
	fake := newFakeTransport()
	p := New(Config{MaxProcesses: 2, HealthSweepInterval: time.Hour}, newTestRegistry(),
		func(key string, cfg team.TeamConfig, sessionID string, log *logger.Logger) transport.Transport {
			return fake
		}, nil, nil, nil)
	defer p.Shutdown(context.Background())

	tr1, err := p.GetOrCreateTransport(context.Background(), "alpha", "beta", "sess-1")
	if err != nil {
		t.Fatalf("GetOrCreateTransport: %v", err)
	}
	tr2, err := p.GetOrCreateTransport(context.Background(), "alpha", "beta", "sess-1")
	if err != nil {
		t.Fatalf("GetOrCreateTransport (second): %v", err)
	}
	if tr1 != tr2 {
		t.Fatal("expected the same transport to be reused")
	}
	if atomic.LoadInt32(&fake.spawnCalls) != 1 {
		t.Fatalf("expected exactly one spawn, got %d", fake.spawnCalls)
	}
}

func TestGetOrCreateTransportDedupesConcurrentSpawns(t *testing.T) {
	fake := newFakeTransport()
	fake.spawnBlock = make(chan struct{})

	newTransportCalls := int32(0)
	p := New(Config{MaxProcesses: 2, HealthSweepInterval: time.Hour}, newTestRegistry(),
		func(key string, cfg team.TeamConfig, sessionID string, log *logger.Logger) transport.Transport {
			atomic.AddInt32(&newTransportCalls, 1)
			return fake
		}, nil, nil, nil)
	defer p.Shutdown(context.Background())

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.GetOrCreateTransport(context.Background(), "alpha", "beta", "sess-1")
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(fake.spawnBlock)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if atomic.LoadInt32(&fake.spawnCalls) != 1 {
		t.Fatalf("expected exactly one spawn across concurrent callers, got %d", fake.spawnCalls)
	}
	if newTransportCalls != 1 {
		t.Fatalf("expected exactly one transport construction, got %d", newTransportCalls)
	}
}

func TestGetOrCreateTransportRejectsUnknownTeam(t *testing.T) {
	p := New(Config{}, newTestRegistry(),
		func(key string, cfg team.TeamConfig, sessionID string, log *logger.Logger) transport.Transport {
			return newFakeTransport()
		}, nil, nil, nil)
	defer p.Shutdown(context.Background())

	_, err := p.GetOrCreateTransport(context.Background(), "alpha", "ghost", "sess-1")
	if err == nil {
		t.Fatal("expected an error for an unknown toTeam")
	}
}

func TestSendMessageDistillsResponse(t *testing.T) {
	fake := newFakeTransport()
	fake.tellResult = []cache.Frame{
		{Raw: []byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`)},
		{Raw: []byte(`{"type":"result","is_error":false}`)},
	}
	p := New(Config{HealthSweepInterval: time.Hour}, newTestRegistry(),
		func(key string, cfg team.TeamConfig, sessionID string, log *logger.Logger) transport.Transport {
			return fake
		}, nil, nil, nil)
	defer p.Shutdown(context.Background())

	resp, err := p.SendMessage(context.Background(), "alpha", "beta", "sess-1", "hello", time.Second)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp != "hi" {
		t.Fatalf("resp = %q, want %q", resp, "hi")
	}
}

func TestSendMessagePropagatesAgentError(t *testing.T) {
	fake := newFakeTransport()
	fake.tellErr = errors.New("agent blew up")
	p := New(Config{HealthSweepInterval: time.Hour}, newTestRegistry(),
		func(key string, cfg team.TeamConfig, sessionID string, log *logger.Logger) transport.Transport {
			return fake
		}, nil, nil, nil)
	defer p.Shutdown(context.Background())

	_, err := p.SendMessage(context.Background(), "alpha", "beta", "sess-1", "hello", time.Second)
	if err == nil {
		t.Fatal("expected an error from a failed tell")
	}
}

func TestTerminateProcessRemovesEntry(t *testing.T) {
	fake := newFakeTransport()
	p := New(Config{HealthSweepInterval: time.Hour}, newTestRegistry(),
		func(key string, cfg team.TeamConfig, sessionID string, log *logger.Logger) transport.Transport {
			return fake
		}, nil, nil, nil)
	defer p.Shutdown(context.Background())

	if _, err := p.GetOrCreateTransport(context.Background(), "alpha", "beta", "sess-1"); err != nil {
		t.Fatalf("GetOrCreateTransport: %v", err)
	}
	if err := p.TerminateProcess(context.Background(), "alpha", "beta"); err != nil {
		t.Fatalf("TerminateProcess: %v", err)
	}
	if !fake.terminated {
		t.Fatal("expected the underlying transport to be terminated")
	}
	if len(p.GetStatus()) != 0 {
		t.Fatal("expected the pool to have no entries after termination")
	}
}

func TestEvictsIdleWhenFull(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	calls := 0
	p := New(Config{MaxProcesses: 1, HealthSweepInterval: time.Hour}, newTestRegistry(),
		func(key string, cfg team.TeamConfig, sessionID string, log *logger.Logger) transport.Transport {
			calls++
			if calls == 1 {
				return first
			}
			return second
		}, nil, nil, nil)
	defer p.Shutdown(context.Background())

	if _, err := p.GetOrCreateTransport(context.Background(), "alpha", "beta", "sess-1"); err != nil {
		t.Fatalf("GetOrCreateTransport (alpha->beta): %v", err)
	}
	if _, err := p.GetOrCreateTransport(context.Background(), "beta", "alpha", "sess-2"); err != nil {
		t.Fatalf("GetOrCreateTransport (beta->alpha): %v", err)
	}

	if len(p.GetStatus()) != 1 {
		t.Fatalf("expected eviction to keep pool size at 1, got %d", len(p.GetStatus()))
	}
}

func TestTerminateAllClearsPool(t *testing.T) {
	fake := newFakeTransport()
	p := New(Config{HealthSweepInterval: time.Hour}, newTestRegistry(),
		func(key string, cfg team.TeamConfig, sessionID string, log *logger.Logger) transport.Transport {
			return fake
		}, nil, nil, nil)

	if _, err := p.GetOrCreateTransport(context.Background(), "alpha", "beta", "sess-1"); err != nil {
		t.Fatalf("GetOrCreateTransport: %v", err)
	}
	if err := p.TerminateAll(context.Background()); err != nil {
		t.Fatalf("TerminateAll: %v", err)
	}
	if len(p.GetStatus()) != 0 {
		t.Fatal("expected an empty pool after TerminateAll")
	}
}
