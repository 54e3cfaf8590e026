package workflow

import "time"

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskReady     TaskStatus = "ready"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is a single unit of work inside a workflow. The engine never
// interprets AgentType or Parameters; both pass straight through to the
// capability resolver.
type Task struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	AgentType    string            `json:"agent_type"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Priority     int               `json:"priority"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Status       TaskStatus        `json:"status"`
	StartTime    *time.Time        `json:"start_time,omitempty"`
	EndTime      *time.Time        `json:"end_time,omitempty"`

	seq int // insertion order within the owning workflow
}

// Duration returns how long the task ran, or nil while either
// timestamp is unset.
func (t *Task) Duration() *time.Duration {
	if t.StartTime == nil || t.EndTime == nil {
		return nil
	}
	d := t.EndTime.Sub(*t.StartTime)
	return &d
}
