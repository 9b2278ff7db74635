package observer

import (
	"context"

	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
)

// LoggerObserver logs execution events through the application logger.
// Useful in development or as a cheap fallback when no other sink is configured.
type LoggerObserver struct {
	name   string
	logger *logger.Logger
	filter EventFilter
}

// LoggerObserverOption configures LoggerObserver
type LoggerObserverOption func(*LoggerObserver)

// WithLoggerInstance sets the logger used to emit events
func WithLoggerInstance(l *logger.Logger) LoggerObserverOption {
	return func(o *LoggerObserver) {
		o.logger = l
	}
}

// WithLoggerFilter sets the event filter
func WithLoggerFilter(filter EventFilter) LoggerObserverOption {
	return func(o *LoggerObserver) {
		o.filter = filter
	}
}

// NewLoggerObserver creates a new logger-backed observer
func NewLoggerObserver(opts ...LoggerObserverOption) *LoggerObserver {
	obs := &LoggerObserver{
		name: "logger",
	}
	for _, opt := range opts {
		opt(obs)
	}
	return obs
}

// Name returns the observer's name
func (o *LoggerObserver) Name() string {
	return o.name
}

// Filter returns the configured event filter
func (o *LoggerObserver) Filter() EventFilter {
	return o.filter
}

// OnEvent logs the event at a level matching its outcome.
func (o *LoggerObserver) OnEvent(ctx context.Context, event Event) error {
	if o.logger == nil {
		return nil
	}

	args := []any{
		"event_type", string(event.Type),
		"execution_id", event.ExecutionID,
		"workflow_id", event.WorkflowID,
		"status", event.Status,
	}
	if event.NodeID != nil {
		args = append(args, "node_id", *event.NodeID)
	}
	if event.DurationMs != nil {
		args = append(args, "duration_ms", *event.DurationMs)
	}

	if event.Error != nil {
		args = append(args, "error", event.Error.Error())
		o.logger.ErrorContext(ctx, "workflow event", args...)
		return nil
	}

	o.logger.InfoContext(ctx, "workflow event", args...)
	return nil
}
