package resource

import (
	"sync"

	"go.uber.org/zap"
)

// SlotPool hands out a fixed number of execution slots to tasks. A
// reservation is keyed by task id so repeated reserve calls for the
// same task never consume a second slot.
type SlotPool struct {
	slots  chan struct{}
	held   map[string]struct{}
	mu     sync.Mutex
	logger *zap.Logger
}

// NewSlotPool creates a pool with the given number of slots. Sizes of
// zero or less fall back to 10.
func NewSlotPool(size int, logger *zap.Logger) *SlotPool {
	if size <= 0 {
		size = 10
	}
	p := &SlotPool{
		slots:  make(chan struct{}, size),
		held:   make(map[string]struct{}),
		logger: logger,
	}
	for i := 0; i < size; i++ {
		p.slots <- struct{}{}
	}
	return p
}

// Reserve claims a slot for the task without blocking. Returns false
// when the pool is exhausted.
func (p *SlotPool) Reserve(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.held[taskID]; ok {
		return true
	}
	select {
	case <-p.slots:
		p.held[taskID] = struct{}{}
		return true
	default:
		p.logger.Debug("slot pool exhausted", zap.String("task_id", taskID))
		return false
	}
}

// Release returns the task's slot to the pool. Unknown task ids are
// ignored.
func (p *SlotPool) Release(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.held[taskID]; !ok {
		return
	}
	delete(p.held, taskID)
	p.slots <- struct{}{}
}

// Available reports the number of free slots.
func (p *SlotPool) Available() int {
	return len(p.slots)
}
