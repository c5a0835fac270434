package transport

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/irisrun/iris/internal/cache"
	"github.com/irisrun/iris/internal/telemetry/logger"
)

// fakeAgentScript emulates the agent CLI's stream-json protocol closely
// enough to drive the process state machine: it reads one line, replies
// with an init frame, then echoes one result frame per subsequent line.
const fakeAgentScript = `
read _
echo '{"type":"system","subtype":"init"}'
while read -r line; do
  echo '{"type":"result","is_error":false}'
done
`

func newFakeProcess(t *testing.T) *process {
	t.Helper()
	return newFakeProcessWithIdleTimeout(t, 0)
}

func newFakeProcessWithIdleTimeout(t *testing.T, idleTimeout time.Duration) *process {
	t.Helper()
	newCmd := func(ctx context.Context) (*exec.Cmd, error) {
		return exec.CommandContext(ctx, "sh", "-c", fakeAgentScript), nil
	}
	return newProcess("fake->target", newCmd, []byte{0x1b}, idleTimeout, logger.NewNop())
}

func TestProcessSpawnThenReady(t *testing.T) {
	p := newFakeProcess(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	spawnEntry := cache.New(cache.TypeSpawn, "")
	if err := p.Spawn(ctx, spawnEntry); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p.State() != StateReady {
		t.Fatalf("state after spawn = %v, want ready", p.State())
	}
}

func TestProcessExecuteTellCompletesEntry(t *testing.T) {
	p := newFakeProcess(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Spawn(ctx, cache.New(cache.TypeSpawn, "")); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	tellEntry := cache.New(cache.TypeTell, "hello")
	if err := p.ExecuteTell(ctx, tellEntry); err != nil {
		t.Fatalf("ExecuteTell: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := tellEntry.Wait(waitCtx); err != nil {
		t.Fatalf("tell entry did not complete: %v", err)
	}
	if p.State() != StateReady {
		t.Fatalf("state after tell = %v, want ready", p.State())
	}
}

func TestProcessExecuteTellRejectedWhenBusy(t *testing.T) {
	p := newFakeProcess(t)
	p.state = StateBusy
	p.currentEntry = cache.New(cache.TypeTell, "in flight")

	err := p.ExecuteTell(context.Background(), cache.New(cache.TypeTell, "second"))
	if err == nil {
		t.Fatal("expected ExecuteTell to reject a second concurrent tell")
	}
}

func TestProcessTerminate(t *testing.T) {
	p := newFakeProcess(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Spawn(ctx, cache.New(cache.TypeSpawn, "")); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	termCtx, termCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer termCancel()
	if err := p.Terminate(termCtx); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if p.State() != StateStopped {
		t.Fatalf("state after terminate = %v, want stopped", p.State())
	}
}

// TestProcessSelfTerminatesAfterIdleTimeout guards §4.4's "each transport
// self-terminates after idleTimeout of inactivity" contract.
func TestProcessSelfTerminatesAfterIdleTimeout(t *testing.T) {
	p := newFakeProcessWithIdleTimeout(t, 50*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Spawn(ctx, cache.New(cache.TypeSpawn, "")); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.State() == StateStopped {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("process did not self-terminate after idle timeout, state = %v", p.State())
}

// TestProcessIdleTimerResetByActivity guards against a premature
// self-terminate: a tell sent just before the idle deadline must push the
// deadline out rather than let the timer fire mid-conversation.
func TestProcessIdleTimerResetByActivity(t *testing.T) {
	p := newFakeProcessWithIdleTimeout(t, 150*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Spawn(ctx, cache.New(cache.TypeSpawn, "")); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	tellEntry := cache.New(cache.TypeTell, "still here")
	if err := p.ExecuteTell(ctx, tellEntry); err != nil {
		t.Fatalf("ExecuteTell: %v", err)
	}
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := tellEntry.Wait(waitCtx); err != nil {
		t.Fatalf("tell entry did not complete: %v", err)
	}
	if p.State() != StateReady {
		t.Fatalf("state right after tell = %v, want ready (idle timer should have reset)", p.State())
	}
}

// TestSpawnPingDoesNotContaminateFollowingTell guards the Open Question
// resolution: the spawn entry is detached the moment init arrives, never
// accumulating frames from a later tell.
func TestSpawnPingDoesNotContaminateFollowingTell(t *testing.T) {
	p := newFakeProcess(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	spawnEntry := cache.New(cache.TypeSpawn, "")
	if err := p.Spawn(ctx, spawnEntry); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	tellEntry := cache.New(cache.TypeTell, "hello")
	if err := p.ExecuteTell(ctx, tellEntry); err != nil {
		t.Fatalf("ExecuteTell: %v", err)
	}
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := tellEntry.Wait(waitCtx); err != nil {
		t.Fatalf("tell entry did not complete: %v", err)
	}

	for _, f := range spawnEntry.Frames() {
		if string(f.Raw) != `{"type":"system","subtype":"init"}` {
			t.Errorf("spawn entry accumulated an unexpected frame: %s", f.Raw)
		}
	}
}
