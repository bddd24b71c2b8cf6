package taskqueue

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures a TaskQueue.
type Option func(*TaskQueue)

// WithDefaults sets the configuration lanes start from before their own
// ConfigOptions are applied.
func WithDefaults(cfg Config) Option {
	return func(q *TaskQueue) { q.defaults = cfg.normalize(DefaultConfig()) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(q *TaskQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithTracer sets the tracer used for the per-item processing span.
func WithTracer(tracer trace.Tracer) Option {
	return func(q *TaskQueue) {
		if tracer != nil {
			q.tracer = tracer
		}
	}
}

// WithObserver registers an observer notified after every settlement.
func WithObserver(o Observer) Option {
	return func(q *TaskQueue) { q.observers = append(q.observers, o) }
}
