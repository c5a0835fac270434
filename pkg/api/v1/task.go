package v1

import "time"

// TaskType mirrors internal/orchestrator.TaskType for external callers.
type TaskType string

const (
	TaskTell    TaskType = "tell"
	TaskCommand TaskType = "command"
	TaskSleep   TaskType = "sleep"
)

// AsyncTask is the public request shape accepted by the orchestrator's
// enqueue operation.
type AsyncTask struct {
	Type     TaskType      `json:"type"`
	FromTeam string        `json:"from_team"`
	ToTeam   string        `json:"to_team"`
	Content  string        `json:"content"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// AsyncTaskResult is the public terminal outcome of a processed task
// (§4.5).
type AsyncTaskResult struct {
	TaskID      string        `json:"task_id"`
	Type        TaskType      `json:"type"`
	ToTeam      string        `json:"to_team"`
	Success     bool          `json:"success"`
	Response    string        `json:"response,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}
