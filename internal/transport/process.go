package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/irisrun/iris/internal/apperr"
	"github.com/irisrun/iris/internal/cache"
	"github.com/irisrun/iris/internal/telemetry/logger"
)

// terminateGrace is how long Terminate waits after SIGTERM before forcing
// the process to exit, per §4.2.
const terminateGrace = 5 * time.Second

// commandFactory builds the exec.Cmd for one spawn attempt. Local and
// Remote differ only in how they implement this (argv0, Dir, Env); the
// rest of the state machine, stdin/stdout handling, and ingress parsing is
// identical, grounded on the same claude-manager.go ensureProcess/readLoop
// pattern for both.
type commandFactory func(ctx context.Context) (*exec.Cmd, error)

// process implements the shared Transport state machine over any
// exec.Cmd-spawned agent process (§4.2, §9 Design Note: "a capability set
// {spawn, executeTell, cancel, terminate, metrics, status-stream} with two
// implementations").
type process struct {
	key         string
	logger      *logger.Logger
	newCmd      commandFactory
	cancelSeq   []byte
	idleTimeout time.Duration

	mu           sync.Mutex
	state        State
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	currentEntry *cache.Entry
	generation   int
	spawnedAt    time.Time
	messages     int64
	lastResponse time.Time
	initWait     chan error
	cancelFunc   context.CancelFunc

	idleTimerMu sync.Mutex
	idleTimer   *time.Timer
}

func newProcess(key string, newCmd commandFactory, cancelSeq []byte, idleTimeout time.Duration, log *logger.Logger) *process {
	if log == nil {
		log = logger.NewNop()
	}
	return &process{
		key:         key,
		logger:      log,
		newCmd:      newCmd,
		cancelSeq:   cancelSeq,
		idleTimeout: idleTimeout,
		state:       StateStopped,
	}
}

// resetIdleTimer restarts the self-termination countdown, grounded on the
// teacher's InteractiveRunner.resetIdleTimer (time.AfterFunc rearmed on
// every bit of activity). Called after spawn, after a tell is sent, and
// after a result is received, so a transport only self-terminates after
// idleTimeout of genuine inactivity (§4.4).
func (t *process) resetIdleTimer() {
	t.idleTimerMu.Lock()
	defer t.idleTimerMu.Unlock()

	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	if t.idleTimeout > 0 {
		t.idleTimer = time.AfterFunc(t.idleTimeout, t.onIdleTimeout)
	}
}

func (t *process) stopIdleTimer() {
	t.idleTimerMu.Lock()
	defer t.idleTimerMu.Unlock()
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
}

// onIdleTimeout fires idleTimeout after the last activity and terminates
// the process. No exit event is emitted: the transport is left in
// StateStopped, and the pool drops its entry on its next periodic health
// sweep.
func (t *process) onIdleTimeout() {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	if state != StateReady {
		return
	}
	t.logger.Info("transport idle timeout, self-terminating", zap.Duration("idleTimeout", t.idleTimeout))
	ctx, cancel := context.WithTimeout(context.Background(), terminateGrace+time.Second)
	defer cancel()
	_ = t.Terminate(ctx)
}

func (t *process) Spawn(ctx context.Context, entry *cache.Entry) error {
	t.mu.Lock()
	if t.state != StateStopped {
		state := t.state
		t.mu.Unlock()
		return apperr.Process(nil, "transport %q: spawn called in state %s", t.key, state)
	}
	t.state = StateSpawning
	t.currentEntry = entry
	t.generation++
	gen := t.generation
	initWait := make(chan error, 1)
	t.initWait = initWait
	t.mu.Unlock()

	cmdCtx, cancel := context.WithCancel(context.Background())

	cmd, err := t.newCmd(cmdCtx)
	if err != nil {
		cancel()
		t.setError()
		return apperr.Process(err, "transport %q: build agent command", t.key)
	}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		t.setError()
		return apperr.Process(err, "transport %q: create stdin pipe", t.key)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		t.setError()
		return apperr.Process(err, "transport %q: create stdout pipe", t.key)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		t.setError()
		return apperr.Process(err, "transport %q: create stderr pipe", t.key)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		t.setError()
		return apperr.Process(err, "transport %q: start agent process", t.key)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdinPipe
	t.cancelFunc = cancel
	t.spawnedAt = time.Now()
	t.mu.Unlock()

	go t.drainStderr(stderrPipe)
	go t.readLoop(stdoutPipe, cmd, gen)

	if err := t.writeStdin(newStdinUserMessage("ping")); err != nil {
		t.setError()
		return apperr.Process(err, "transport %q: write spawn ping", t.key)
	}

	select {
	case err := <-initWait:
		if err != nil {
			t.setError()
			return err
		}
		return nil
	case <-ctx.Done():
		t.setError()
		return apperr.Timeout("transport %q: spawn init timed out", t.key)
	}
}

func (t *process) ExecuteTell(ctx context.Context, entry *cache.Entry) error {
	t.mu.Lock()
	if t.currentEntry != nil {
		t.mu.Unlock()
		return &ErrBusy{Key: t.key}
	}
	if t.state != StateReady {
		state := t.state
		t.mu.Unlock()
		return &ErrNotReady{Key: t.key, State: state}
	}
	t.state = StateBusy
	t.currentEntry = entry
	t.mu.Unlock()

	t.resetIdleTimer()

	if err := t.writeStdin(newStdinUserMessage(entry.TellString)); err != nil {
		t.mu.Lock()
		t.currentEntry = nil
		t.state = StateReady
		t.mu.Unlock()
		return apperr.Process(err, "transport %q: write tell", t.key)
	}
	return nil
}

// Cancel writes the transport's best-effort cancellation sequence onto
// stdin: an ESC byte for local transports, the literal token "cancel\n"
// for remote ones (§4.2).
func (t *process) Cancel() error {
	t.mu.Lock()
	stdin := t.stdin
	t.mu.Unlock()
	if stdin == nil {
		return nil
	}
	_, err := stdin.Write(t.cancelSeq)
	return err
}

func (t *process) Terminate(ctx context.Context) error {
	t.stopIdleTimer()

	t.mu.Lock()
	t.state = StateTerminating
	cmd := t.cmd
	cancel := t.cancelFunc
	t.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		t.setStopped()
		return nil
	}

	_ = terminateSignal(cmd)

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(terminateGrace):
		if cancel != nil {
			cancel()
		}
		_ = cmd.Process.Kill()
		<-done
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		_ = cmd.Process.Kill()
	}

	t.setStopped()
	return nil
}

func (t *process) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *process) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Metrics{
		SpawnedAt:         t.spawnedAt,
		MessagesProcessed: t.messages,
		LastResponseAt:    t.lastResponse,
	}
}

func (t *process) writeStdin(msg stdinUserMessage) error {
	t.mu.Lock()
	stdin := t.stdin
	t.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("stdin unavailable")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = stdin.Write(data)
	return err
}

func (t *process) setError() {
	t.stopIdleTimer()
	t.mu.Lock()
	t.state = StateError
	t.currentEntry = nil
	t.mu.Unlock()
}

func (t *process) setStopped() {
	t.stopIdleTimer()
	t.mu.Lock()
	t.state = StateStopped
	t.currentEntry = nil
	t.stdin = nil
	t.cmd = nil
	t.cancelFunc = nil
	t.mu.Unlock()
}

// drainStderr scans stderr for diagnostics and the single "Logging to: "
// line the agent emits, per §4.2. Secrets are never echoed: only that one
// recognized line is logged at info, every other stderr line at debug.
func (t *process) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Logging to:") {
			t.logger.Info("agent debug log location", zap.String("line", line))
			continue
		}
		t.logger.Debug("agent stderr", zap.String("line", line))
	}
}

// readLoop reads NDJSON frames from stdout, appends them to the current
// cache entry unconditionally ("dumb pipe"), and inspects only init/
// result/error frames to drive the state machine (§4.2).
func (t *process) readLoop(stdout io.Reader, cmd *exec.Cmd, gen int) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		raw := make([]byte, len(line))
		copy(raw, line)

		if !json.Valid(raw) {
			repaired, err := jsonrepair.JSONRepair(string(raw))
			if err != nil {
				t.logger.Debug("unparsable stdout line, skipped", zap.Error(err))
				continue
			}
			raw = []byte(repaired)
		}

		env := peekType(raw)

		t.mu.Lock()
		entry := t.currentEntry
		t.mu.Unlock()
		if entry != nil {
			entry.AddMessage(raw)
		}

		switch {
		case env.Type == "system" && env.Subtype == "init":
			t.handleInit()
		case env.Type == "result":
			t.handleResult(entry, env.IsError)
		case env.Type == "error":
			t.handleResult(entry, true)
		}
	}

	cmd.Wait()

	t.mu.Lock()
	if t.generation == gen && t.state != StateTerminating && t.state != StateStopped {
		entry := t.currentEntry
		t.state = StateStopped
		t.currentEntry = nil
		t.stdin = nil
		t.mu.Unlock()
		t.stopIdleTimer()
		if entry != nil {
			entry.Complete(apperr.Process(nil, "transport %q: process exited unexpectedly", t.key))
		}
		return
	}
	t.mu.Unlock()
}

func (t *process) handleInit() {
	t.mu.Lock()
	t.state = StateReady
	t.currentEntry = nil
	initWait := t.initWait
	t.initWait = nil
	t.mu.Unlock()
	t.resetIdleTimer()
	if initWait != nil {
		initWait <- nil
	}
}

func (t *process) handleResult(entry *cache.Entry, isError bool) {
	t.mu.Lock()
	t.state = StateReady
	t.currentEntry = nil
	t.messages++
	t.lastResponse = time.Now()
	t.mu.Unlock()
	t.resetIdleTimer()

	if entry == nil {
		return
	}
	if isError {
		entry.Complete(apperr.Agent("transport %q: agent reported an error", t.key))
		return
	}
	entry.Complete(nil)
}
