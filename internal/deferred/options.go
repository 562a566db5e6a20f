package deferred

import (
	"context"
	"time"

	"linkcore/pkg/domain"
)

// Logger is the structured logging surface used by proxies. *slog.Logger
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

// MetricsRecorder observes every call a proxy makes into its source.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// InverseBinder points a child back at the relation's parent. It is resolved
// once when the relation is configured.
type InverseBinder[E Element] func(child E)

// BindInverse builds an InverseBinder that assigns parent through set.
func BindInverse[P any, E Element](parent P, set func(child E, parent P)) InverseBinder[E] {
	return func(child E) { set(child, parent) }
}

// Option configures a Proxy.
type Option[E Element] func(*config[E])

type config[E Element] struct {
	name      string
	factory   func() E
	inverse   InverseBinder[E]
	dependent domain.Dependent
	logger    Logger
	metrics   MetricsRecorder
	now       func() time.Time
}

// WithName labels the relation in logs, metrics, and errors.
func WithName[E Element](name string) Option[E] {
	return func(c *config[E]) { c.name = name }
}

// WithFactory installs the constructor used by Build and Create.
func WithFactory[E Element](factory func() E) Option[E] {
	return func(c *config[E]) { c.factory = factory }
}

// WithInverse declares the relation's inverse pointer.
func WithInverse[E Element](binder InverseBinder[E]) Option[E] {
	return func(c *config[E]) { c.inverse = binder }
}

// WithDependent sets the dependent policy applied by RemoveAndMark.
func WithDependent[E Element](dependent domain.Dependent) Option[E] {
	return func(c *config[E]) { c.dependent = dependent }
}

// WithLogger overrides the no-op logger.
func WithLogger[E Element](logger Logger) Option[E] {
	return func(c *config[E]) {
		if logger == nil {
			c.logger = noopLogger{}
			return
		}
		c.logger = logger
	}
}

// WithMetrics overrides the no-op metrics recorder.
func WithMetrics[E Element](metrics MetricsRecorder) Option[E] {
	return func(c *config[E]) {
		if metrics == nil {
			c.metrics = noopMetrics{}
			return
		}
		c.metrics = metrics
	}
}

func newConfig[E Element](opts []Option[E]) config[E] {
	cfg := config[E]{
		name:    "relation",
		logger:  noopLogger{},
		metrics: noopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
