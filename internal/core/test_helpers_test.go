package core

import (
	"context"
	"slices"
	"testing"
	"time"

	"linkcore/internal/journal"
)

type captureLogger struct{ calls []string }

func (c *captureLogger) Debug(msg string, _ ...any) { c.calls = append(c.calls, "d:"+msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.calls = append(c.calls, "i:"+msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.calls = append(c.calls, "w:"+msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.calls = append(c.calls, "e:"+msg) }

func (c *captureLogger) has(call string) bool { return slices.Contains(c.calls, call) }

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	return slices.Contains(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) saw(op string) bool {
	return c.has(op, true) || c.has(op, false)
}

type captureTracer struct {
	ended []spanRecord
}

type spanRecord struct {
	op  string
	err error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

// newTestService returns an in-memory service with the default rules and an
// in-memory journal.
func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	t.Setenv("LINKCORE_JOURNAL_DRIVER", string(journal.DriverMemory))
	store, err := journal.Open(context.Background())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	opts = append([]Option{WithJournal(store)}, opts...)
	return NewInMemoryService(NewDefaultRulesEngine(), opts...)
}

func newOrganism(name string) *Organism {
	return &Organism{Name: name, Species: "xenopus"}
}

// seedCohort saves a cohort holding the given organisms and returns them.
func seedCohort(t *testing.T, svc *Service, cohort *Cohort, organisms ...*Organism) *CohortRecord {
	t.Helper()
	ctx := context.Background()
	rec := svc.NewCohort(cohort)
	if err := rec.Organisms().Append(ctx, organisms...); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := svc.SaveCohort(ctx, rec); err != nil {
		t.Fatalf("seed cohort: %v", err)
	}
	return rec
}

func organismIDs(organisms ...*Organism) []string {
	out := make([]string, 0, len(organisms))
	for _, o := range organisms {
		out = append(out, o.ID)
	}
	return out
}
