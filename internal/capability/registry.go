package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nidhogg/flowline/internal/workflow"
	"go.uber.org/zap"
)

// ErrUnknownAgentType is returned when no executor is registered for a
// task's agent type.
var ErrUnknownAgentType = errors.New("unknown agent type")

// Executor performs the work behind one agent type. The scheduler stays
// agnostic to what that work actually is.
type Executor interface {
	AgentType() string
	Execute(ctx context.Context, params map[string]string) (string, error)
}

// Registry resolves agent types to executors and tracks in-flight
// dispatches so they can be aborted. It implements workflow.Resolver.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	active    map[string]context.CancelFunc // task id -> abort
	logger    *zap.Logger
}

// NewRegistry creates an empty capability registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		active:    make(map[string]context.CancelFunc),
		logger:    logger,
	}
}

// Register adds an executor for its agent type, replacing any previous one.
func (r *Registry) Register(ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[ex.AgentType()] = ex
	r.logger.Info("registered capability", zap.String("agent_type", ex.AgentType()))
}

// Types returns the registered agent types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}

// Dispatch resolves the executor for the request's agent type and runs it.
// The dispatch is tracked by task id until it returns, so Cancel can abort
// it mid-flight.
func (r *Registry) Dispatch(ctx context.Context, req *workflow.DispatchRequest) (*workflow.DispatchResult, error) {
	r.mu.RLock()
	ex, ok := r.executors[req.AgentType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dispatch task %s: %w %q", req.TaskID, ErrUnknownAgentType, req.AgentType)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.active[req.TaskID] = cancel
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.active, req.TaskID)
		r.mu.Unlock()
	}()

	out, err := ex.Execute(runCtx, req.Parameters)
	if err != nil {
		return nil, fmt.Errorf("execute %s (%s): %w", req.TaskID, req.AgentType, err)
	}
	return &workflow.DispatchResult{Output: out}, nil
}

// Cancel aborts an in-flight dispatch. Best-effort: unknown or already
// finished task ids are ignored.
func (r *Registry) Cancel(taskID string) {
	r.mu.RLock()
	cancel, ok := r.active[taskID]
	r.mu.RUnlock()
	if ok {
		r.logger.Debug("aborting dispatch", zap.String("task", taskID))
		cancel()
	}
}
