package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"linkcore/internal/core"
	"linkcore/internal/infra/persistence/memory"
	"linkcore/internal/journal"
	"linkcore/pkg/domain"
)

func stubStore(t *testing.T, snapshot memory.Snapshot) {
	t.Helper()
	prev := openStore
	openStore = func(engine *core.RulesEngine) (core.PersistentStore, error) {
		store := memory.NewStore(engine)
		store.ImportState(snapshot)
		return store, nil
	}
	t.Cleanup(func() { openStore = prev })
}

func stubJournal(t *testing.T, entries ...journal.Entry) {
	t.Helper()
	t.Setenv("LINKCORE_JOURNAL_DRIVER", string(journal.DriverMemory))
	store, err := journal.Open(context.Background())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	rec := journal.NewRecorder(store)
	for _, e := range entries {
		if _, err := rec.Record(context.Background(), e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	prev := openJournal
	openJournal = func(context.Context) (journal.Store, error) { return store, nil }
	t.Cleanup(func() { openJournal = prev })
}

func danglingSnapshot() memory.Snapshot {
	return memory.Snapshot{
		Records: map[domain.EntityType]map[string]json.RawMessage{
			domain.EntityCohort: {"c1": json.RawMessage(`{"id":"c1","name":"alpha"}`)},
		},
		Links: map[string]map[string][]string{
			domain.CohortOrganisms.Name: {"c1": {"o-missing"}, "c-gone": {"o-missing"}},
		},
	}
}

func TestCLIReportsDanglingLinks(t *testing.T) {
	stubStore(t, danglingSnapshot())
	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), nil, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d (stderr %s)", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{
		"cohort_organisms: parent c-gone missing (cohort)",
		"cohort_organisms: c1 -> o-missing missing (organism)",
		"2 dangling link(s)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestCLICleanStore(t *testing.T) {
	stubStore(t, memory.Snapshot{})
	var stdout, stderr bytes.Buffer
	if code := cli(context.Background(), nil, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr %s)", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Link check passed.") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestCLIJSONOutput(t *testing.T) {
	stubStore(t, danglingSnapshot())
	var stdout, stderr bytes.Buffer
	if code := cli(context.Background(), []string{"-json"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	var got []core.DanglingLink
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, stdout.String())
	}
	if len(got) != 2 || got[0].ParentID != "c-gone" {
		t.Fatalf("unexpected report %+v", got)
	}

	stubStore(t, memory.Snapshot{})
	stdout.Reset()
	if code := cli(context.Background(), []string{"-json"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if strings.TrimSpace(stdout.String()) != "[]" {
		t.Fatalf("expected empty json list, got %q", stdout.String())
	}
}

func TestCLIHistory(t *testing.T) {
	stubStore(t, memory.Snapshot{})
	saved := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	stubJournal(t, journal.Entry{
		Relation:  domain.CohortOrganisms.Name,
		ParentID:  "c1",
		Linked:    []string{"o1", "o2"},
		Destroyed: []string{"o3"},
		SavedAt:   saved,
	})

	var stdout, stderr bytes.Buffer
	code := cli(context.Background(), []string{"-history", "cohort_organisms/c1"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr %s)", code, stderr.String())
	}
	want := "2024-03-01T09:00:00Z linked=o1,o2 unlinked=- destroyed=o3"
	if !strings.Contains(stdout.String(), want) {
		t.Fatalf("expected %q, got %q", want, stdout.String())
	}

	stdout.Reset()
	if code := cli(context.Background(), []string{"-history", "cohort_organisms/none"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0 for empty history, got %d", code)
	}
	if !strings.Contains(stdout.String(), "No journal entries") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestCLIErrors(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		setup func(*testing.T)
		code  int
	}{
		{name: "bad flag", args: []string{"-nope"}, code: 2},
		{
			name: "store",
			setup: func(t *testing.T) {
				prev := openStore
				openStore = func(*core.RulesEngine) (core.PersistentStore, error) { return nil, errors.New("down") }
				t.Cleanup(func() { openStore = prev })
			},
			code: 1,
		},
		{
			name: "unknown driver",
			args: []string{"-driver", "cassandra"},
			code: 1,
		},
		{
			name: "journal",
			args: []string{"-history", "cohort_organisms/c1"},
			setup: func(t *testing.T) {
				stubStore(t, memory.Snapshot{})
				prev := openJournal
				openJournal = func(context.Context) (journal.Store, error) { return nil, errors.New("no bucket") }
				t.Cleanup(func() { openJournal = prev })
			},
			code: 1,
		},
		{
			name:  "malformed history",
			args:  []string{"-history", "cohort_organisms"},
			setup: func(t *testing.T) { stubStore(t, memory.Snapshot{}); stubJournal(t) },
			code:  1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("LINKCORE_STORAGE_DRIVER", "")
			if tc.setup != nil {
				tc.setup(t)
			}
			var stdout, stderr bytes.Buffer
			if code := cli(context.Background(), tc.args, &stdout, &stderr); code != tc.code {
				t.Fatalf("expected exit %d, got %d (stderr %s)", tc.code, code, stderr.String())
			}
		})
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	stubStore(t, memory.Snapshot{})
	prevExit := exitFunc
	var got int
	exitFunc = func(code int) { got = code }
	t.Cleanup(func() { exitFunc = prevExit })
	prevArgs := osArgs
	osArgs = func() []string { return nil }
	t.Cleanup(func() { osArgs = prevArgs })
	main()
	if got != 0 {
		t.Fatalf("expected exit 0, got %d", got)
	}
}
