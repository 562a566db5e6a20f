package core

import (
	"context"
	"time"

	"linkcore/internal/journal"
)

// Logger is the structured logging surface used by the service. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies timestamps for journal entries and metrics.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now returns the function's time in UTC, or the system time when fn is nil.
func (fn ClockFunc) Now() time.Time {
	if fn == nil {
		return time.Now().UTC()
	}
	return fn().UTC()
}

// MetricsRecorder observes the outcome and latency of service and relation
// operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// TraceSpan is ended exactly once with the operation's error.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

func (noopSpan) End(error) {}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	journal *journal.Recorder
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:  noopLogger{},
		clock:   ClockFunc(nil),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
}

// WithLogger sets the service logger. Nil restores the no-op logger.
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		if logger == nil {
			logger = noopLogger{}
		}
		o.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock == nil {
			clock = ClockFunc(nil)
		}
		o.clock = clock
	}
}

// WithMetricsRecorder installs a metrics recorder shared by the service and
// every relation proxy it creates.
func WithMetricsRecorder(metrics MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if metrics == nil {
			metrics = noopMetrics{}
		}
		o.metrics = metrics
	}
}

// WithTracer installs a tracer for save operations.
func WithTracer(tracer Tracer) Option {
	return func(o *serviceOptions) {
		if tracer == nil {
			tracer = noopTracer{}
		}
		o.tracer = tracer
	}
}

// WithJournal records an entry for every relation save that changed links.
func WithJournal(store journal.Store) Option {
	return func(o *serviceOptions) {
		if store == nil {
			o.journal = nil
			return
		}
		o.journal = journal.NewRecorder(store)
	}
}
