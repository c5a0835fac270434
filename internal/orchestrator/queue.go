// Package orchestrator implements the Orchestrator and Async Task Queue
// component (§4.5): per-target FIFO task queues processed by one logical
// worker each, concurrent across targets.
package orchestrator

import (
	"sync"
	"time"

	"github.com/irisrun/iris/internal/apperr"
)

// maxQueueSize is the rolling cap of pending tasks per target (§4.5:
// "MAX_QUEUE_SIZE=100").
const maxQueueSize = 100

// TaskType distinguishes the three request shapes a target's FIFO can
// carry (§4.5).
type TaskType string

const (
	TaskTell    TaskType = "tell"
	TaskCommand TaskType = "command"
	TaskSleep   TaskType = "sleep"
)

// Task is one unit of work queued against a target (§4.5).
type Task struct {
	ID          string
	Type        TaskType
	FromTeam    string
	ToTeam      string
	Content     string
	Timeout     time.Duration
	EnqueuedAt  time.Time

	result chan AsyncTaskResult
}

// AsyncTaskResult is the terminal outcome of a processed Task (§4.5).
type AsyncTaskResult struct {
	TaskID      string
	Type        TaskType
	ToTeam      string
	Success     bool
	Response    string
	Error       string
	Duration    time.Duration
	CompletedAt time.Time
}

// targetQueue is a single target's strict FIFO, unlike the teacher's
// priority heap: §5 "Ordering guarantees" requires task N's response to
// return before task N+1 is sent, with no priority reordering.
type targetQueue struct {
	mu     sync.Mutex
	tasks  []*Task
	closed bool
}

func newTargetQueue() *targetQueue {
	return &targetQueue{}
}

// push appends task to the tail, rejecting once closed or at capacity
// (§4.5: "rejects with a distinct queue-full error").
func (q *targetQueue) push(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return apperr.Validation("queue: target is shutting down")
	}
	if len(q.tasks) >= maxQueueSize {
		return apperr.QueueFull(task.ToTeam)
	}
	q.tasks = append(q.tasks, task)
	return nil
}

// pop removes and returns the head task, or nil if empty.
func (q *targetQueue) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task
}

// remove drops a still-queued task by id (§5: "a timed-out task is removed
// from the FIFO if still queued"). Reports whether it was found.
func (q *targetQueue) remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.tasks {
		if t.ID == taskID {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return true
		}
	}
	return false
}

// drain removes and returns every still-queued task, marking the queue
// closed so subsequent push calls fail (§4.5 shutdown: "closes every
// per-target FIFO, rejecting queued tasks").
func (q *targetQueue) drain() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	out := q.tasks
	q.tasks = nil
	return out
}

func (q *targetQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
