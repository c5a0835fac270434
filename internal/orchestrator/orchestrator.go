package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/irisrun/iris/internal/apperr"
	"github.com/irisrun/iris/internal/events"
	"github.com/irisrun/iris/internal/pool"
	"github.com/irisrun/iris/internal/sessionstore"
	"github.com/irisrun/iris/internal/telemetry/logger"
	"github.com/irisrun/iris/internal/telemetry/metrics"
)

// defaultTaskTimeout bounds a single task's pool.SendMessage call when the
// caller supplies none (§4.5: "timeout defaults to 30s per task").
const defaultTaskTimeout = 30 * time.Second

// Sender is the narrow pool capability the orchestrator depends on,
// satisfied by *pool.Pool.
type Sender interface {
	SendMessage(ctx context.Context, fromTeam, toTeam, sessionID, text string, timeout time.Duration) (string, error)
}

// SessionResolver is the narrow session manager capability the
// orchestrator depends on, satisfied by *sessionstore.Manager.
type SessionResolver interface {
	GetOrCreateSession(ctx context.Context, fromTeam, toTeam string) (*sessionstore.Session, error)
}

var _ Sender = (*pool.Pool)(nil)
var _ SessionResolver = (*sessionstore.Manager)(nil)

// target is one logical worker's state: its FIFO and the goroutine
// draining it.
type target struct {
	queue   *targetQueue
	wake    chan struct{}
	stopped chan struct{}
}

// Orchestrator serializes tell/command/sleep tasks per target team and
// dispatches them through the pool (§4.5).
type Orchestrator struct {
	sessions SessionResolver
	pool     Sender
	bus      events.Publisher
	metrics  *metrics.Metrics
	logger   *logger.Logger

	mu      sync.Mutex
	targets map[string]*target
	closed  bool
	wg      sync.WaitGroup

	resultsMu sync.Mutex
	results   map[string]AsyncTaskResult

	idCounter int64
	now       func() time.Time
}

// New constructs an Orchestrator. bus may be nil, in which case events are
// dropped. m may be nil, in which case queue-depth metrics are skipped.
func New(sessions SessionResolver, p Sender, bus events.Publisher, m *metrics.Metrics, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewNop()
	}
	if bus == nil {
		bus = noopPublisher{}
	}
	return &Orchestrator{
		sessions: sessions,
		pool:     p,
		bus:      bus,
		metrics:  m,
		logger:   log.WithFields(zap.String("component", "orchestrator")),
		targets:  make(map[string]*target),
		results:  make(map[string]AsyncTaskResult),
		now:      time.Now,
	}
}

// reportQueueDepth feeds toTeam's current FIFO length to iris_queue_depth
// (SPEC_FULL.md Telemetry module).
func (o *Orchestrator) reportQueueDepth(toTeam string, tg *target) {
	if o.metrics != nil {
		o.metrics.SetQueueDepth(toTeam, tg.queue.len())
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, subject string, payload any) error { return nil }

// Enqueue assigns a task id, stamps enqueuedAt, appends the task to its
// target's FIFO (creating the target's worker on first use), and returns
// the id without awaiting completion (§4.5 "Enqueue contract").
func (o *Orchestrator) Enqueue(ctx context.Context, taskType TaskType, fromTeam, toTeam, content string, timeout time.Duration) (string, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", apperr.Validation("orchestrator: shutting down")
	}
	tg, ok := o.targets[toTeam]
	if !ok {
		tg = &target{queue: newTargetQueue(), wake: make(chan struct{}, 1), stopped: make(chan struct{})}
		o.targets[toTeam] = tg
		o.wg.Add(1)
		go o.runWorker(toTeam, tg)
	}
	o.mu.Unlock()

	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	task := &Task{
		ID:         o.nextID(),
		Type:       taskType,
		FromTeam:   fromTeam,
		ToTeam:     toTeam,
		Content:    content,
		Timeout:    timeout,
		EnqueuedAt: o.now(),
		result:     make(chan AsyncTaskResult, 1),
	}

	if err := tg.queue.push(task); err != nil {
		return "", err
	}
	o.reportQueueDepth(toTeam, tg)

	o.bus.Publish(ctx, "task.enqueued", task)
	select {
	case tg.wake <- struct{}{}:
	default:
	}

	return task.ID, nil
}

// Wait blocks until task.ID's result is available or ctx is done.
// Callers that only need the task id (fire-and-forget) may ignore it.
func (o *Orchestrator) Wait(ctx context.Context, task *Task) (AsyncTaskResult, error) {
	select {
	case res := <-task.result:
		return res, nil
	case <-ctx.Done():
		return AsyncTaskResult{}, ctx.Err()
	}
}

// RemoveTask drops a still-queued task for target toTeam, reporting
// whether it was found.
func (o *Orchestrator) RemoveTask(toTeam, taskID string) bool {
	o.mu.Lock()
	tg, ok := o.targets[toTeam]
	o.mu.Unlock()
	if !ok {
		return false
	}
	return tg.queue.remove(taskID)
}

// QueueDepth reports the number of pending tasks for toTeam.
func (o *Orchestrator) QueueDepth(toTeam string) int {
	o.mu.Lock()
	tg, ok := o.targets[toTeam]
	o.mu.Unlock()
	if !ok {
		return 0
	}
	return tg.queue.len()
}

// runWorker is the single logical worker for one target: it drains the
// FIFO strictly in order, waiting on wake between empty polls, never
// processing more than one task at a time for this target (§4.5, §5
// "Ordering guarantees").
func (o *Orchestrator) runWorker(toTeam string, tg *target) {
	defer o.wg.Done()
	defer close(tg.stopped)

	for {
		task := tg.queue.pop()
		if task == nil {
			<-tg.wake
			o.mu.Lock()
			closed := o.closed
			o.mu.Unlock()
			if closed && tg.queue.len() == 0 {
				return
			}
			continue
		}
		o.reportQueueDepth(toTeam, tg)
		o.process(task)
	}
}

// process dispatches a single task by type and publishes its terminal
// result (§4.5 "Per-target processing").
func (o *Orchestrator) process(task *Task) {
	start := o.now()
	ctx, cancel := context.WithTimeout(context.Background(), task.Timeout)
	defer cancel()

	response, err := o.dispatch(ctx, task)

	result := AsyncTaskResult{
		TaskID:      task.ID,
		Type:        task.Type,
		ToTeam:      task.ToTeam,
		Success:     err == nil,
		Response:    response,
		Duration:    o.now().Sub(start),
		CompletedAt: o.now(),
	}
	if err != nil {
		result.Error = err.Error()
		o.logger.Warn("task failed", zap.String("task_id", task.ID), zap.String("to_team", task.ToTeam), zap.Error(err))
	}

	o.bus.Publish(ctx, "task.completed", result)
	o.storeResult(result)

	select {
	case task.result <- result:
	default:
	}
}

// storeResult retains a task's terminal result for later retrieval via
// Result, since Enqueue itself never awaits completion.
func (o *Orchestrator) storeResult(result AsyncTaskResult) {
	o.resultsMu.Lock()
	defer o.resultsMu.Unlock()
	o.results[result.TaskID] = result
}

// Result returns the terminal result for taskID if it has completed.
func (o *Orchestrator) Result(taskID string) (AsyncTaskResult, bool) {
	o.resultsMu.Lock()
	defer o.resultsMu.Unlock()
	res, ok := o.results[taskID]
	return res, ok
}

// dispatch runs the type-specific send for task (§4.5: tell/command/sleep
// all resolve to a single session-scoped tell, differing only in content
// formatting).
func (o *Orchestrator) dispatch(ctx context.Context, task *Task) (string, error) {
	sess, err := o.sessions.GetOrCreateSession(ctx, task.FromTeam, task.ToTeam)
	if err != nil {
		return "", err
	}

	content := task.Content
	if task.Type == TaskCommand {
		content = formatCommand(content)
	}

	return o.pool.SendMessage(ctx, task.FromTeam, task.ToTeam, sess.SessionID, content, task.Timeout)
}

// formatCommand turns "name arg1 arg2" into a slash-command string
// (§4.5: "formats content as a slash-command string `/<name>` or
// `/<name> <args>`").
func formatCommand(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return "/"
	}
	if strings.HasPrefix(content, "/") {
		return content
	}
	parts := strings.SplitN(content, " ", 2)
	if len(parts) == 1 {
		return fmt.Sprintf("/%s", parts[0])
	}
	return fmt.Sprintf("/%s %s", parts[0], parts[1])
}

func (o *Orchestrator) nextID() string {
	n := atomic.AddInt64(&o.idCounter, 1)
	return fmt.Sprintf("task_%d_%d", o.now().UnixMilli(), n)
}

// Shutdown closes every per-target FIFO, rejecting further enqueues,
// drains and fails queued-but-unstarted tasks, waits for in-flight tasks
// to finish, and terminates the pool (§4.5 "Shutdown").
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	targets := make(map[string]*target, len(o.targets))
	for k, v := range o.targets {
		targets[k] = v
	}
	o.mu.Unlock()

	for toTeam, tg := range targets {
		dropped := tg.queue.drain()
		for _, task := range dropped {
			result := AsyncTaskResult{
				TaskID:      task.ID,
				Type:        task.Type,
				ToTeam:      toTeam,
				Success:     false,
				Error:       "shutting down",
				CompletedAt: o.now(),
			}
			o.storeResult(result)
			select {
			case task.result <- result:
			default:
			}
		}
		select {
		case tg.wake <- struct{}{}:
		default:
		}
	}

	o.wg.Wait()

	if terminator, ok := o.pool.(interface{ TerminateAll(context.Context) error }); ok {
		return terminator.TerminateAll(ctx)
	}
	return nil
}
