package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrWorkflowNotFound is returned for status or control calls naming an
// unregistered workflow id.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrEngineClosed is returned once Shutdown has been called.
var ErrEngineClosed = errors.New("engine closed")

// DispatchRequest is handed to the capability resolver for one task.
type DispatchRequest struct {
	WorkflowID string
	TaskID     string
	TaskName   string
	AgentType  string
	Parameters map[string]string
}

// DispatchResult is the resolver's completion payload. The engine never
// interprets Output beyond success/failure.
type DispatchResult struct {
	Output string
}

// Resolver performs the actual work denoted by a task's agent type.
// Cancel is best-effort; a running dispatch may finish anyway.
type Resolver interface {
	Dispatch(ctx context.Context, req *DispatchRequest) (*DispatchResult, error)
	Cancel(taskID string)
}

// ResourceManager grants execution slots before dispatch. A denial is
// transient: the task stays pending and is retried on a later round.
type ResourceManager interface {
	Reserve(taskID string) bool
	Release(taskID string)
}

// Event describes a single status transition for monitoring.
type Event struct {
	WorkflowID string    `json:"workflow_id"`
	TaskID     string    `json:"task_id,omitempty"`
	Subject    string    `json:"subject"` // "workflow" or "task"
	From       string    `json:"from"`
	To         string    `json:"to"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// Sink receives transition events. Notifications are fire-and-forget:
// sink failures must never affect scheduling.
type Sink interface {
	Notify(e Event)
}

// TaskSpec describes one task at workflow creation. A missing ID is
// generated.
type TaskSpec struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name"`
	AgentType  string            `json:"agent_type"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Priority   int               `json:"priority,omitempty"`
}

// Dependency declares that Task may only run after DependsOn completed.
type Dependency struct {
	Task      string `json:"task"`
	DependsOn string `json:"depends_on"`
}

// Engine validates, stores, and drives workflows. A bounded number may be
// running at once; admission beyond the cap is a hard reject, never a queue.
type Engine struct {
	resolver      Resolver
	resources     ResourceManager
	sink          Sink
	logger        *zap.Logger
	maxConcurrent int
	maxRetries    int
	retryDelay    time.Duration

	mu        sync.RWMutex
	workflows map[string]*Workflow
	order     []string
	running   int
	cancels   map[string]context.CancelFunc
	closed    bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

// NewEngine creates an engine with a cap on concurrently running workflows.
// resources and sink may be nil; dispatch then runs unthrottled and
// transitions are only logged.
func NewEngine(resolver Resolver, resources ResourceManager, sink Sink, maxConcurrent int, logger *zap.Logger) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if resources == nil {
		resources = nopResources{}
	}
	if sink == nil {
		sink = nopSink{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		resolver:      resolver,
		resources:     resources,
		sink:          sink,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		maxRetries:    3,
		retryDelay:    50 * time.Millisecond,
		workflows:     make(map[string]*Workflow),
		cancels:       make(map[string]context.CancelFunc),
		rootCtx:       ctx,
		rootCancel:    cancel,
	}
}

// SetDispatchRetries bounds how often a task is retried after transient
// dispatch failures before it is marked failed.
func (e *Engine) SetDispatchRetries(n int) {
	if n >= 0 {
		e.maxRetries = n
	}
}

// CreateWorkflow builds and validates a workflow from task specs and
// dependency pairs. On any validation failure nothing is registered.
func (e *Engine) CreateWorkflow(name, description string, specs []TaskSpec, deps []Dependency) (string, error) {
	wf := New(uuid.New().String(), name, description)
	for _, spec := range specs {
		id := spec.ID
		if id == "" {
			id = uuid.New().String()
		}
		t := &Task{
			ID:         id,
			Name:       spec.Name,
			AgentType:  spec.AgentType,
			Parameters: spec.Parameters,
			Priority:   spec.Priority,
			Status:     TaskPending,
		}
		if err := wf.AddTask(t); err != nil {
			return "", err
		}
	}

	for _, d := range deps {
		t, ok := wf.Task(d.Task)
		if !ok {
			return "", fmt.Errorf("invalid configuration: dependency names %w %q", ErrUnknownDependency, d.Task)
		}
		t.Dependencies = append(t.Dependencies, d.DependsOn)
	}

	if err := Validate(wf.tasks, wf.order); err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}
	e.workflows[wf.ID] = wf
	e.order = append(e.order, wf.ID)
	e.mu.Unlock()

	e.logger.Info("workflow created",
		zap.String("workflow", wf.ID),
		zap.String("name", name),
		zap.Int("tasks", wf.TaskCount()))
	e.notify(Event{WorkflowID: wf.ID, Subject: "workflow", To: string(StatusPending)})
	return wf.ID, nil
}

// ExecuteWorkflow starts driving a workflow. It returns false when the
// concurrency cap is reached (the caller owns retry policy) and true once
// the dispatch loop has been entered; execution itself is asynchronous.
func (e *Engine) ExecuteWorkflow(id string) (bool, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrEngineClosed
	}
	wf, ok := e.workflows[id]
	if !ok {
		e.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if e.running >= e.maxConcurrent {
		e.mu.Unlock()
		e.logger.Warn("workflow admission rejected",
			zap.String("workflow", id),
			zap.Int("max_concurrent", e.maxConcurrent))
		return false, nil
	}
	if !wf.begin() {
		e.mu.Unlock()
		return false, fmt.Errorf("workflow %s is not pending (status %s)", id, wf.Status())
	}
	ctx, cancel := context.WithCancel(e.rootCtx)
	e.cancels[id] = cancel
	e.running++
	e.wg.Add(1)
	e.mu.Unlock()

	e.notify(Event{WorkflowID: id, Subject: "workflow", From: string(StatusPending), To: string(StatusRunning)})
	e.logger.Info("workflow started", zap.String("workflow", id))

	go e.run(ctx, wf)
	return true, nil
}

type taskResult struct {
	taskID string
	err    error
}

// run is the per-workflow dispatch loop: compute the ready frontier,
// reserve resources, dispatch, then react to completion signals until no
// task remains pending or running.
func (e *Engine) run(ctx context.Context, wf *Workflow) {
	defer e.wg.Done()

	results := make(chan taskResult, wf.TaskCount())
	attempts := make(map[string]int)
	inflight := 0

	for {
		if ctx.Err() != nil || wf.Status() == StatusCancelled {
			for inflight > 0 {
				r := <-results
				inflight--
				e.resources.Release(r.taskID)
			}
			break
		}

		ready := wf.ReadyTasks(wf.CompletedIDs())
		denied := 0
		for _, t := range ready {
			if !e.resources.Reserve(t.ID) {
				attempts[t.ID]++
				if attempts[t.ID] > e.maxRetries {
					if wf.failTask(t.ID) {
						e.logger.Warn("task failed: resource reservation exhausted",
							zap.String("workflow", wf.ID), zap.String("task", t.ID))
						e.notify(Event{WorkflowID: wf.ID, TaskID: t.ID, Subject: "task",
							From: string(TaskPending), To: string(TaskFailed),
							Detail: "resource reservation denied"})
					}
				} else {
					denied++
				}
				continue
			}
			if !wf.beginTask(t.ID) {
				e.resources.Release(t.ID)
				continue
			}
			e.notify(Event{WorkflowID: wf.ID, TaskID: t.ID, Subject: "task",
				From: string(TaskPending), To: string(TaskRunning)})
			e.logger.Debug("task dispatched",
				zap.String("workflow", wf.ID),
				zap.String("task", t.ID),
				zap.String("agent_type", t.AgentType))
			inflight++
			go e.dispatch(ctx, wf.ID, t, results)
		}

		if inflight == 0 {
			if denied == 0 {
				// No ready work and nothing running: either everything is
				// terminal or a failed dependency stalls the rest.
				break
			}
			select {
			case <-ctx.Done():
			case <-time.After(e.retryDelay):
			}
			continue
		}

		select {
		case r := <-results:
			inflight--
			e.resources.Release(r.taskID)
			e.settle(wf, r, attempts)
		case <-ctx.Done():
		}
	}

	e.finishWorkflow(wf)
}

// dispatch hands one task to the resolver. Panics are converted to a
// failure signal so a misbehaving resolver cannot take down the loop.
func (e *Engine) dispatch(ctx context.Context, workflowID string, t *Task, results chan<- taskResult) {
	defer func() {
		if r := recover(); r != nil {
			results <- taskResult{taskID: t.ID, err: fmt.Errorf("resolver panic: %v", r)}
		}
	}()

	_, err := e.resolver.Dispatch(ctx, &DispatchRequest{
		WorkflowID: workflowID,
		TaskID:     t.ID,
		TaskName:   t.Name,
		AgentType:  t.AgentType,
		Parameters: t.Parameters,
	})
	results <- taskResult{taskID: t.ID, err: err}
}

// settle applies one completion signal. Duplicate signals for a task that
// already reached a terminal state are ignored.
func (e *Engine) settle(wf *Workflow, r taskResult, attempts map[string]int) {
	if r.err == nil {
		if wf.completeTask(r.taskID) {
			e.notify(Event{WorkflowID: wf.ID, TaskID: r.taskID, Subject: "task",
				From: string(TaskRunning), To: string(TaskCompleted)})
			e.logger.Info("task completed",
				zap.String("workflow", wf.ID), zap.String("task", r.taskID))
		}
		return
	}

	attempts[r.taskID]++
	if attempts[r.taskID] <= e.maxRetries && wf.requeueTask(r.taskID) {
		e.logger.Warn("task dispatch failed, will retry",
			zap.String("workflow", wf.ID),
			zap.String("task", r.taskID),
			zap.Int("attempt", attempts[r.taskID]),
			zap.Error(r.err))
		e.notify(Event{WorkflowID: wf.ID, TaskID: r.taskID, Subject: "task",
			From: string(TaskRunning), To: string(TaskPending), Detail: r.err.Error()})
		return
	}
	if wf.failTask(r.taskID) {
		e.logger.Error("task failed",
			zap.String("workflow", wf.ID),
			zap.String("task", r.taskID),
			zap.Error(r.err))
		e.notify(Event{WorkflowID: wf.ID, TaskID: r.taskID, Subject: "task",
			From: string(TaskRunning), To: string(TaskFailed), Detail: r.err.Error()})
	}
}

func (e *Engine) finishWorkflow(wf *Workflow) {
	before := wf.Status()
	status := wf.finish()

	e.mu.Lock()
	e.running--
	if cancel, ok := e.cancels[wf.ID]; ok {
		cancel()
		delete(e.cancels, wf.ID)
	}
	e.mu.Unlock()

	if before != status {
		e.notify(Event{WorkflowID: wf.ID, Subject: "workflow",
			From: string(StatusRunning), To: string(status)})
	}
	e.logger.Info("workflow finished",
		zap.String("workflow", wf.ID),
		zap.String("status", string(status)))
}

// CancelWorkflow transitions all non-terminal tasks to cancelled and
// requests the resolver abort anything running. It returns once
// cancellation has been requested, not once all work has stopped.
func (e *Engine) CancelWorkflow(id string) error {
	e.mu.RLock()
	wf, ok := e.workflows[id]
	cancel := e.cancels[id]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}

	before := wf.Status()
	running, changed := wf.cancelRemaining()
	if !changed {
		return nil
	}
	for _, taskID := range running {
		e.resolver.Cancel(taskID)
		e.notify(Event{WorkflowID: id, TaskID: taskID, Subject: "task",
			From: string(TaskRunning), To: string(TaskCancelled)})
	}
	if cancel != nil {
		cancel()
	}
	e.notify(Event{WorkflowID: id, Subject: "workflow",
		From: string(before), To: string(StatusCancelled)})
	e.logger.Info("workflow cancelled",
		zap.String("workflow", id),
		zap.Int("aborted_tasks", len(running)))
	return nil
}

// WorkflowStatus is the status-query snapshot.
type WorkflowStatus struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Status    Status  `json:"status"`
	Progress  float64 `json:"progress"`
	TaskCount int     `json:"task_count"`
}

// GetWorkflowStatus returns a snapshot for one workflow.
func (e *Engine) GetWorkflowStatus(id string) (*WorkflowStatus, error) {
	wf, err := e.Workflow(id)
	if err != nil {
		return nil, err
	}
	return &WorkflowStatus{
		ID:        wf.ID,
		Name:      wf.Name,
		Status:    wf.Status(),
		Progress:  wf.Progress(),
		TaskCount: wf.TaskCount(),
	}, nil
}

// Workflow returns the registered workflow with the given id.
func (e *Engine) Workflow(id string) (*Workflow, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	wf, ok := e.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return wf, nil
}

// ListWorkflows returns status snapshots in creation order.
func (e *Engine) ListWorkflows() []*WorkflowStatus {
	e.mu.RLock()
	ids := make([]string, len(e.order))
	copy(ids, e.order)
	e.mu.RUnlock()

	out := make([]*WorkflowStatus, 0, len(ids))
	for _, id := range ids {
		if st, err := e.GetWorkflowStatus(id); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// Shutdown cancels all in-flight workflows and waits for their dispatch
// loops to wind down. Idempotent.
func (e *Engine) Shutdown() {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		ids := make([]string, 0, len(e.cancels))
		for id := range e.cancels {
			ids = append(ids, id)
		}
		e.mu.Unlock()

		for _, id := range ids {
			if err := e.CancelWorkflow(id); err != nil {
				e.logger.Warn("cancel on shutdown failed",
					zap.String("workflow", id), zap.Error(err))
			}
		}
		e.rootCancel()
		e.wg.Wait()
		e.logger.Info("engine shut down")
	})
}

func (e *Engine) notify(ev Event) {
	ev.At = time.Now()
	e.sink.Notify(ev)
}

type nopResources struct{}

func (nopResources) Reserve(string) bool { return true }
func (nopResources) Release(string)      {}

type nopSink struct{}

func (nopSink) Notify(Event) {}
