// Package domain defines the persistent records, relation descriptors, and
// rule evaluation primitives used by linkcore.
package domain

import (
	"fmt"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityCohort identifies a cohort record.
	EntityCohort EntityType = "cohort"
	// EntityOrganism identifies an individual organism record.
	EntityOrganism EntityType = "organism"
	// EntityProject identifies a project record.
	EntityProject EntityType = "project"
	// EntityFacility identifies a facility record.
	EntityFacility EntityType = "facility"
	// EntityLink identifies a row in a relation link table.
	EntityLink EntityType = "link"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	destroy bool
}

// RecordID returns the store key, empty until the record has been persisted.
func (b *Base) RecordID() string { return b.ID }

// Persisted reports whether the store has assigned the record an identifier.
func (b *Base) Persisted() bool { return b.ID != "" }

// Stamp assigns the store identity and timestamps. CreatedAt is only set once.
func (b *Base) Stamp(id string, at time.Time) {
	b.ID = id
	if b.CreatedAt.IsZero() {
		b.CreatedAt = at
	}
	b.UpdatedAt = at
}

// Identity is the store-assigned portion of a record.
type Identity struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity returns the current stamp.
func (b *Base) Identity() Identity {
	return Identity{ID: b.ID, CreatedAt: b.CreatedAt, UpdatedAt: b.UpdatedAt}
}

// RestoreIdentity puts back a stamp captured with Identity.
func (b *Base) RestoreIdentity(id Identity) {
	b.ID = id.ID
	b.CreatedAt = id.CreatedAt
	b.UpdatedAt = id.UpdatedAt
}

// MarkForDestruction flags the record for deletion by the next parent save.
func (b *Base) MarkForDestruction() { b.destroy = true }

// MarkedForDestruction reports whether MarkForDestruction was called.
func (b *Base) MarkedForDestruction() bool { return b.destroy }

// Cohort groups organisms managed together. Capacity of zero means unbounded.
type Cohort struct {
	Base
	Name     string `json:"name" validate:"required,max=120"`
	Purpose  string `json:"purpose"`
	Capacity int    `json:"capacity" validate:"gte=0"`
}

// EntityType implements Record.
func (*Cohort) EntityType() EntityType { return EntityCohort }

// Organism represents an individual animal tracked by the system.
type Organism struct {
	Base
	Name     string  `json:"name" validate:"required,max=120"`
	Species  string  `json:"species" validate:"required"`
	CohortID *string `json:"cohort_id"`

	// Cohort is the in-memory inverse of the cohort_organisms relation. It is
	// assigned by the relation proxy and never serialized.
	Cohort *Cohort `json:"-" validate:"-"`
}

// EntityType implements Record.
func (*Organism) EntityType() EntityType { return EntityOrganism }

func (o *Organism) String() string {
	if o == nil {
		return "<nil organism>"
	}
	return fmt.Sprintf("organism %s (%s)", displayID(o.ID), o.Name)
}

// Project captures a research project spanning one or more facilities.
type Project struct {
	Base
	Code        string `json:"code" validate:"required,alphanum"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
}

// EntityType implements Record.
func (*Project) EntityType() EntityType { return EntityProject }

// Facility is a physical site that may host many projects.
type Facility struct {
	Base
	Name string `json:"name" validate:"required"`
	Zone string `json:"zone" validate:"omitempty,oneof=aquatic terrestrial quarantine"`
}

// EntityType implements Record.
func (*Facility) EntityType() EntityType { return EntityFacility }

func (f *Facility) String() string {
	if f == nil {
		return "<nil facility>"
	}
	return fmt.Sprintf("facility %s (%s)", displayID(f.ID), f.Name)
}

func displayID(id string) string {
	if id == "" {
		return "new"
	}
	return id
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionLink indicates a relation row was added.
	ActionLink Action = "link"
	// ActionUnlink indicates a relation row was removed.
	ActionUnlink Action = "unlink"
)

// LinkChange is the payload of a Change for EntityLink.
type LinkChange struct {
	Relation string
	ParentID string
	ChildID  string
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// ErrNotFound is returned when a referenced record does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
