package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetricsRecorder(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	rec.Observe(ctx, "save_cohort", true, 20*time.Millisecond)
	rec.Observe(ctx, "save_cohort", false, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)

	if got := testutil.ToFloat64(rec.operations.WithLabelValues("save_cohort", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("save_cohort", "error")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.duration); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestPrometheusMetricsRecorderWiredToService(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	svc := NewInMemoryService(NewDefaultRulesEngine(), WithMetricsRecorder(rec))
	seedCohort(t, svc, &Cohort{Name: "alpha"}, newOrganism("a"))

	if got := testutil.ToFloat64(rec.operations.WithLabelValues("save_cohort", "success")); got != 1 {
		t.Fatalf("expected save_cohort counted, got %v", got)
	}
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("cohort_organisms.fetch_all", "success")); got != 1 {
		t.Fatalf("expected relation load counted, got %v", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"linkcore_operations_total", "linkcore_operation_duration_seconds"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %s in %v", want, names)
		}
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if rec.Name() == "" || expvar.Get(rec.Name()) == nil {
		t.Fatalf("expected published expvar, got %q", rec.Name())
	}
	other := NewExpvarMetricsRecorder("")
	if other.Name() == rec.Name() {
		t.Fatalf("expected unique default names")
	}
	ctx := context.Background()
	rec.Observe(ctx, "save_project", true, 2*time.Millisecond)
	rec.Observe(ctx, "save_project", false, time.Millisecond)
	snap := rec.Snapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if !strings.Contains(string(payload), "save_project") {
		t.Fatalf("expected operation in snapshot, got %s", payload)
	}
	if !strings.Contains(expvar.Get(rec.Name()).String(), "save_project") {
		t.Fatalf("expected expvar output to include operation")
	}
}

func TestJSONTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	ctx := context.Background()
	_, span := tracer.Start(ctx, "save_cohort")
	span.End(nil)
	_, span = tracer.Start(ctx, "save_project")
	span.End(errors.New("boom"))

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Status != "success" || entries[1].Status != "error" || entries[1].Error != "boom" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 json lines, got %d", len(lines))
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if decoded.Operation != "save_project" {
		t.Fatalf("unexpected decoded entry %+v", decoded)
	}

	silent := NewJSONTracer(nil)
	_, span = silent.Start(ctx, "noop")
	span.End(nil)
	if len(silent.Entries()) != 1 {
		t.Fatalf("expected entry kept without writer")
	}
}
