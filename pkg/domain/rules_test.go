package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if err.Error() == "" {
		t.Fatalf("expected error string")
	}
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}

// mapView is a RuleView over literal rows and links.
type mapView struct {
	rows  map[EntityType]map[string]json.RawMessage
	links map[string]map[string][]string
}

func (v mapView) Get(entity EntityType, id string) (json.RawMessage, bool) {
	raw, ok := v.rows[entity][id]
	return raw, ok
}

func (v mapView) List(entity EntityType) []json.RawMessage {
	var out []json.RawMessage
	for _, raw := range v.rows[entity] {
		out = append(out, raw)
	}
	return out
}

func (v mapView) LinkedIDs(rel Relation, parentID string) []string {
	return v.links[rel.Name][parentID]
}

func (v mapView) LinkedParents(rel Relation) []string {
	var out []string
	for parent := range v.links[rel.Name] {
		out = append(out, parent)
	}
	return out
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	res, err := engine.Evaluate(context.Background(), mapView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 || len(engine.Rules()) != 1 {
		t.Fatalf("expected one rule and one violation")
	}
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), mapView{}, nil); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

func TestCohortCapacityRule(t *testing.T) {
	view := mapView{
		rows: map[EntityType]map[string]json.RawMessage{
			EntityCohort: {
				"c1": json.RawMessage(`{"id":"c1","name":"tiny","capacity":1}`),
				"c2": json.RawMessage(`{"id":"c2","name":"open","capacity":0}`),
				"c3": json.RawMessage(`{broken`),
			},
		},
		links: map[string]map[string][]string{
			CohortOrganisms.Name: {"c1": {"o1", "o2"}, "c2": {"o1", "o2", "o3"}},
		},
	}
	link := func(parent string) Change {
		return Change{Entity: EntityLink, Action: ActionLink, After: LinkChange{Relation: CohortOrganisms.Name, ParentID: parent, ChildID: "o"}}
	}
	tests := []struct {
		name    string
		changes []Change
		blocked bool
		wantErr bool
	}{
		{name: "over capacity", changes: []Change{link("c1")}, blocked: true},
		{name: "unbounded", changes: []Change{link("c2")}},
		{name: "cohort update", changes: []Change{{Entity: EntityCohort, Action: ActionUpdate, After: &Cohort{Base: Base{ID: "c1"}}}}, blocked: true},
		{name: "other relation", changes: []Change{{Entity: EntityLink, After: LinkChange{Relation: ProjectFacilities.Name, ParentID: "c1"}}}},
		{name: "missing cohort", changes: []Change{link("gone")}},
		{name: "undecodable cohort", changes: []Change{link("c3")}, wantErr: true},
	}
	rule := NewCohortCapacityRule()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := rule.Evaluate(context.Background(), view, tc.changes)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected decode error")
				}
				return
			}
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if res.HasBlocking() != tc.blocked {
				t.Fatalf("expected blocked=%v, got %+v", tc.blocked, res)
			}
			if tc.blocked && !strings.Contains(res.Violations[0].Message, "2/1") {
				t.Fatalf("unexpected message %q", res.Violations[0].Message)
			}
		})
	}
}

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want []string
	}{
		{name: "valid organism", rec: &Organism{Name: "a", Species: "xenopus"}},
		{name: "organism", rec: &Organism{}, want: []string{"name is required", "species is required"}},
		{name: "cohort name length", rec: &Cohort{Name: strings.Repeat("x", 121)}, want: []string{"name must be at most 120 characters"}},
		{name: "cohort capacity", rec: &Cohort{Name: "a", Capacity: -1}, want: []string{"capacity failed gte validation"}},
		{name: "facility zone", rec: &Facility{Name: "north", Zone: "orbit"}, want: []string{"zone must be one of [aquatic terrestrial quarantine]"}},
		{name: "project code", rec: &Project{Code: "P-1", Title: "Pilot"}, want: []string{"code failed alphanum validation"}},
		{name: "nil", rec: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := ValidateRecord(tc.rec)
			if len(res.Violations) != len(tc.want) {
				t.Fatalf("expected %d violations, got %+v", len(tc.want), res.Violations)
			}
			for i, msg := range tc.want {
				v := res.Violations[i]
				if v.Message != msg || v.Severity != SeverityBlock || v.Rule != "record_validation" {
					t.Fatalf("unexpected violation %+v, want %q", v, msg)
				}
			}
		})
	}
}

func TestBaseIdentity(t *testing.T) {
	var o Organism
	if o.Persisted() || o.RecordID() != "" {
		t.Fatalf("new record must be unsaved")
	}
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	o.Stamp("o1", first)
	saved := o.Identity()
	o.Stamp("o1", first.Add(time.Hour))
	if !o.CreatedAt.Equal(first) || !o.UpdatedAt.Equal(first.Add(time.Hour)) {
		t.Fatalf("stamp must keep CreatedAt, got %+v", o.Base)
	}
	o.RestoreIdentity(Identity{})
	if o.Persisted() {
		t.Fatalf("restore to empty identity must unsave")
	}
	o.RestoreIdentity(saved)
	if o.ID != "o1" || !o.UpdatedAt.Equal(first) {
		t.Fatalf("unexpected restored identity %+v", o.Base)
	}
	o.MarkForDestruction()
	if !o.MarkedForDestruction() {
		t.Fatalf("expected destruction mark")
	}
	if (&Organism{}).String() != "organism new ()" {
		t.Fatalf("unexpected string %q", (&Organism{}).String())
	}
}

func TestDependentDestructive(t *testing.T) {
	for dep, want := range map[Dependent]bool{
		DependentNone: false, DependentNullify: false, DependentDestroy: true, DependentDeleteAll: true,
	} {
		if dep.Destructive() != want {
			t.Fatalf("%q: expected destructive=%v", dep, want)
		}
	}
	if len(Relations()) != 2 || len(EntityTypes()) != 4 {
		t.Fatalf("unexpected built-in relation or entity lists")
	}
}
