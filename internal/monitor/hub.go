package monitor

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/flowline/internal/workflow"
)

// Hub fans workflow events out to a set of sinks on a background
// goroutine so slow notifiers never stall the scheduler. Events are
// dropped when the buffer is full.
type Hub struct {
	sinks  []workflow.Sink
	events chan workflow.Event
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

const hubBuffer = 256

// NewHub creates a hub delivering events to the given sinks.
func NewHub(logger *zap.Logger, sinks ...workflow.Sink) *Hub {
	h := &Hub{
		sinks:  sinks,
		events: make(chan workflow.Event, hubBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go h.run()
	return h
}

// Notify queues an event for delivery. Never blocks.
func (h *Hub) Notify(e workflow.Event) {
	select {
	case h.events <- e:
	default:
		h.logger.Warn("event buffer full, dropping event",
			zap.String("workflow_id", e.WorkflowID),
			zap.String("task_id", e.TaskID))
	}
}

func (h *Hub) run() {
	defer close(h.done)
	for e := range h.events {
		for _, s := range h.sinks {
			h.deliver(s, e)
		}
	}
}

// deliver isolates sink panics so one bad notifier cannot take down
// the delivery loop.
func (h *Hub) deliver(s workflow.Sink, e workflow.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("sink panicked", zap.Any("panic", r))
		}
	}()
	s.Notify(e)
}

// Close drains queued events and stops the delivery goroutine.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.events)
		<-h.done
	})
}

// LogSink writes every event to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Notify logs the transition.
func (s *LogSink) Notify(e workflow.Event) {
	fields := []zap.Field{
		zap.String("workflow_id", e.WorkflowID),
		zap.String("subject", e.Subject),
		zap.String("from", e.From),
		zap.String("to", e.To),
	}
	if e.TaskID != "" {
		fields = append(fields, zap.String("task_id", e.TaskID))
	}
	if e.Detail != "" {
		fields = append(fields, zap.String("detail", e.Detail))
	}
	s.logger.Info("state transition", fields...)
}
