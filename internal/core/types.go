package core

import "linkcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Organism           = domain.Organism
	Cohort             = domain.Cohort
	Project            = domain.Project
	Facility           = domain.Facility
	Relation           = domain.Relation
	Result             = domain.Result
	Violation          = domain.Violation
	RuleViolationError = domain.RuleViolationError
	ErrNotFound        = domain.ErrNotFound
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
	RulesEngine        = domain.RulesEngine
)

const (
	EntityOrganism = domain.EntityOrganism
	EntityCohort   = domain.EntityCohort
	EntityProject  = domain.EntityProject
	EntityFacility = domain.EntityFacility
)
