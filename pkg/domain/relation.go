package domain

import "time"

// Record is implemented by pointers to every persisted entity.
type Record interface {
	EntityType() EntityType
	RecordID() string
	Persisted() bool
	Stamp(id string, at time.Time)
	Identity() Identity
	RestoreIdentity(Identity)
	MarkForDestruction()
	MarkedForDestruction() bool
}

// Compile-time assertions for the concrete record types.
var (
	_ Record = (*Cohort)(nil)
	_ Record = (*Organism)(nil)
	_ Record = (*Project)(nil)
	_ Record = (*Facility)(nil)
)

// Dependent declares what happens to a child record when it is removed from
// its parent through a destructive removal.
type Dependent string

// Supported dependent policies.
const (
	DependentNone      Dependent = ""
	DependentNullify   Dependent = "nullify"
	DependentDestroy   Dependent = "destroy"
	DependentDeleteAll Dependent = "delete_all"
)

// Destructive reports whether removed children are deleted along with the link.
func (d Dependent) Destructive() bool {
	return d == DependentDestroy || d == DependentDeleteAll
}

// Relation describes a many-valued association between a parent entity and
// its children. Links are kept in a per-relation link table keyed by parent.
type Relation struct {
	Name      string
	Parent    EntityType
	Child     EntityType
	Dependent Dependent
}

// Built-in relations.
var (
	// CohortOrganisms links a cohort to its member organisms. Organisms removed
	// with RemoveAndMark are deleted on save.
	CohortOrganisms = Relation{
		Name:      "cohort_organisms",
		Parent:    EntityCohort,
		Child:     EntityOrganism,
		Dependent: DependentDestroy,
	}
	// ProjectFacilities is a many-to-many link between projects and facilities.
	ProjectFacilities = Relation{
		Name:   "project_facilities",
		Parent: EntityProject,
		Child:  EntityFacility,
	}
)

// Relations lists the built-in relations in a stable order.
func Relations() []Relation {
	return []Relation{CohortOrganisms, ProjectFacilities}
}

// EntityTypes lists the persisted entity types in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{EntityCohort, EntityOrganism, EntityProject, EntityFacility}
}
