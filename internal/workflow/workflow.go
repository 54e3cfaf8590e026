package workflow

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status tracks a workflow through its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Workflow owns an ordered collection of tasks plus workflow-level state.
// All mutation goes through methods holding the workflow's own lock, so two
// concurrent task completions never race on the same readiness computation.
type Workflow struct {
	ID          string
	Name        string
	Description string

	mu          sync.RWMutex
	tasks       map[string]*Task
	order       []string
	status      Status
	startedAt   *time.Time
	completedAt *time.Time
}

// New creates an empty workflow in pending state.
func New(id, name, description string) *Workflow {
	return &Workflow{
		ID:          id,
		Name:        name,
		Description: description,
		tasks:       make(map[string]*Task),
		status:      StatusPending,
	}
}

// AddTask appends a task, preserving insertion order for deterministic
// iteration and dispatch tie-breaking.
func (w *Workflow) AddTask(t *Task) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.tasks[t.ID]; exists {
		return fmt.Errorf("invalid configuration: duplicate task id %q", t.ID)
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	t.seq = len(w.order)
	w.tasks[t.ID] = t
	w.order = append(w.order, t.ID)
	return nil
}

// Task returns the task with the given id.
func (w *Workflow) Task(id string) (*Task, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	t, ok := w.tasks[id]
	return t, ok
}

// Tasks returns all tasks in insertion order.
func (w *Workflow) Tasks() []*Task {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Task, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.tasks[id])
	}
	return out
}

// TaskCount returns the number of tasks.
func (w *Workflow) TaskCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.tasks)
}

// Status returns the current workflow status.
func (w *Workflow) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Progress is completed tasks over total tasks, 0.0 for an empty workflow.
func (w *Workflow) Progress() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.tasks) == 0 {
		return 0.0
	}
	done := 0
	for _, t := range w.tasks {
		if t.Status == TaskCompleted {
			done++
		}
	}
	return float64(done) / float64(len(w.tasks))
}

// Duration returns how long the workflow ran, or nil while either
// timestamp is unset.
func (w *Workflow) Duration() *time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.startedAt == nil || w.completedAt == nil {
		return nil
	}
	d := w.completedAt.Sub(*w.startedAt)
	return &d
}

// CompletedIDs returns the set of task ids currently completed.
func (w *Workflow) CompletedIDs() map[string]struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]struct{})
	for id, t := range w.tasks {
		if t.Status == TaskCompleted {
			out[id] = struct{}{}
		}
	}
	return out
}

// ReadyTasks returns every pending task whose dependencies are all in the
// completed set, sorted by priority descending then insertion order. A task
// with no dependencies is immediately ready.
func (w *Workflow) ReadyTasks(completed map[string]struct{}) []*Task {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var ready []*Task
	for _, id := range w.order {
		t := w.tasks[id]
		if t.Status != TaskPending {
			continue
		}
		satisfied := true
		for _, dep := range t.Dependencies {
			if _, ok := completed[dep]; !ok {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, t)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].seq < ready[j].seq
	})
	return ready
}

// begin moves the workflow from pending to running. Returns false if the
// workflow already left the pending state.
func (w *Workflow) begin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusPending {
		return false
	}
	now := time.Now()
	w.status = StatusRunning
	w.startedAt = &now
	return true
}

// beginTask moves a pending task to running and stamps its start time.
func (w *Workflow) beginTask(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tasks[id]
	if !ok || t.Status != TaskPending {
		return false
	}
	now := time.Now()
	t.Status = TaskRunning
	t.StartTime = &now
	return true
}

// completeTask marks a running task completed. A signal for a task already
// in a terminal state is ignored, since the resolver side may re-deliver.
func (w *Workflow) completeTask(id string) bool {
	return w.endTask(id, TaskCompleted)
}

// failTask marks a task failed. Dependents are left pending; the dispatch
// loop simply never finds them ready again.
func (w *Workflow) failTask(id string) bool {
	return w.endTask(id, TaskFailed)
}

func (w *Workflow) endTask(id string, status TaskStatus) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tasks[id]
	if !ok || t.Status.Terminal() {
		return false
	}
	now := time.Now()
	t.Status = status
	t.EndTime = &now
	return true
}

// requeueTask puts a running task back to pending after a transient
// dispatch failure so a later round retries it.
func (w *Workflow) requeueTask(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tasks[id]
	if !ok || t.Status != TaskRunning {
		return false
	}
	t.Status = TaskPending
	t.StartTime = nil
	return true
}

// cancelRemaining transitions every non-terminal task to cancelled and the
// workflow itself to cancelled. Returns the ids of tasks that were running,
// so the caller can request the resolver abort them.
func (w *Workflow) cancelRemaining() (running []string, changed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status.terminal() {
		return nil, false
	}
	now := time.Now()
	for _, id := range w.order {
		t := w.tasks[id]
		if t.Status.Terminal() {
			continue
		}
		if t.Status == TaskRunning {
			running = append(running, id)
		}
		t.Status = TaskCancelled
		if t.StartTime != nil {
			t.EndTime = &now
		}
	}
	w.status = StatusCancelled
	w.completedAt = &now
	return running, true
}

// finish settles the workflow's terminal status once no task remains
// pending, ready, or running: completed when every task completed,
// otherwise failed. A cancelled workflow keeps its status.
func (w *Workflow) finish() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status.terminal() {
		return w.status
	}
	allDone := true
	for _, t := range w.tasks {
		if t.Status != TaskCompleted {
			allDone = false
			break
		}
	}
	if allDone {
		w.status = StatusCompleted
	} else {
		w.status = StatusFailed
	}
	now := time.Now()
	w.completedAt = &now
	return w.status
}

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Snapshot is a point-in-time copy of a workflow for status queries.
type Snapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Progress    float64    `json:"progress"`
	TaskCount   int        `json:"task_count"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Tasks       []Task     `json:"tasks"`
}

// Snapshot copies the workflow's current state for read-only consumers.
func (w *Workflow) Snapshot() *Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := &Snapshot{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Status:      w.status,
		TaskCount:   len(w.tasks),
		StartedAt:   w.startedAt,
		CompletedAt: w.completedAt,
		Tasks:       make([]Task, 0, len(w.order)),
	}
	done := 0
	for _, id := range w.order {
		t := w.tasks[id]
		if t.Status == TaskCompleted {
			done++
		}
		snap.Tasks = append(snap.Tasks, *t)
	}
	if len(w.tasks) > 0 {
		snap.Progress = float64(done) / float64(len(w.tasks))
	}
	return snap
}
