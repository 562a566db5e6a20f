package domain

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// RuleView provides read-only access to domain entities for rule evaluation.
type RuleView interface {
	TransactionView
}

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rules in evaluation order.
func (e *RulesEngine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

// NewCohortCapacityRule blocks commits that leave a cohort with more linked
// organisms than its declared capacity.
func NewCohortCapacityRule() Rule {
	return cohortCapacityRule{}
}

type cohortCapacityRule struct{}

func (cohortCapacityRule) Name() string { return "cohort_capacity" }

func (cohortCapacityRule) Evaluate(_ context.Context, view RuleView, changes []Change) (Result, error) {
	touched := make(map[string]struct{})
	for _, change := range changes {
		switch change.Entity {
		case EntityLink:
			if lc, ok := change.After.(LinkChange); ok && lc.Relation == CohortOrganisms.Name {
				touched[lc.ParentID] = struct{}{}
			}
		case EntityCohort:
			if c, ok := change.After.(*Cohort); ok && c != nil {
				touched[c.ID] = struct{}{}
			}
		}
	}

	res := Result{}
	for _, id := range slices.Sorted(maps.Keys(touched)) {
		raw, ok := view.Get(EntityCohort, id)
		if !ok {
			continue
		}
		cohort, err := Decode[Cohort](raw)
		if err != nil {
			return Result{}, fmt.Errorf("decode cohort %s: %w", id, err)
		}
		if cohort.Capacity <= 0 {
			continue
		}
		count := len(view.LinkedIDs(CohortOrganisms, id))
		if count > cohort.Capacity {
			res.Violations = append(res.Violations, Violation{
				Rule:     "cohort_capacity",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("cohort %s (%s) over capacity: %d/%d organisms", cohort.Name, cohort.ID, count, cohort.Capacity),
				Entity:   EntityCohort,
				EntityID: cohort.ID,
			})
		}
	}
	return res, nil
}
