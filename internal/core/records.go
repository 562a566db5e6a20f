package core

import (
	"context"

	"linkcore/internal/deferred"
	"linkcore/internal/infra/persistence/memory"
	"linkcore/pkg/domain"
)

// CohortRecord is a cohort together with its deferred organisms relation.
// Like the proxies it owns, it is not safe for concurrent use.
type CohortRecord struct {
	*Cohort
	svc       *Service
	organisms *deferred.Proxy[*Organism]
}

// NewCohort wraps an unsaved cohort. A nil cohort starts empty.
func (s *Service) NewCohort(cohort *Cohort) *CohortRecord {
	if cohort == nil {
		cohort = &Cohort{}
	}
	return &CohortRecord{Cohort: cohort, svc: s}
}

// OpenCohort loads a persisted cohort. Its relations stay unloaded until used.
func (s *Service) OpenCohort(ctx context.Context, id string) (*CohortRecord, error) {
	cohort, err := load[Cohort](ctx, s.store, EntityCohort, id)
	if err != nil {
		return nil, err
	}
	return s.NewCohort(cohort), nil
}

// Organisms returns the cohort's deferred member list, creating it on first use.
func (c *CohortRecord) Organisms() *deferred.Proxy[*Organism] {
	if c.organisms == nil {
		c.organisms = newRelationProxy[Organism](c.svc, domain.CohortOrganisms, c.Cohort.RecordID,
			deferred.WithInverse(deferred.BindInverse(c.Cohort, bindOrganismCohort)),
		)
	}
	return c.organisms
}

// bindOrganismCohort points the organism at its cohort. The stored foreign
// key is only known once the cohort has an id; saves fill it in otherwise.
func bindOrganismCohort(o *Organism, cohort *Cohort) {
	o.Cohort = cohort
	if cohort.Persisted() {
		id := cohort.ID
		o.CohortID = &id
	}
}

// ProjectRecord is a project together with its deferred facilities relation.
type ProjectRecord struct {
	*Project
	svc        *Service
	facilities *deferred.Proxy[*Facility]
}

// NewProject wraps an unsaved project. A nil project starts empty.
func (s *Service) NewProject(project *Project) *ProjectRecord {
	if project == nil {
		project = &Project{}
	}
	return &ProjectRecord{Project: project, svc: s}
}

// OpenProject loads a persisted project.
func (s *Service) OpenProject(ctx context.Context, id string) (*ProjectRecord, error) {
	project, err := load[Project](ctx, s.store, EntityProject, id)
	if err != nil {
		return nil, err
	}
	return s.NewProject(project), nil
}

// Facilities returns the project's deferred facility list.
func (p *ProjectRecord) Facilities() *deferred.Proxy[*Facility] {
	if p.facilities == nil {
		p.facilities = newRelationProxy[Facility](p.svc, domain.ProjectFacilities, p.Project.RecordID)
	}
	return p.facilities
}

func newRelationProxy[T any, PT interface {
	*T
	memory.Child
}](s *Service, rel domain.Relation, parentID func() string, extra ...deferred.Option[PT]) *deferred.Proxy[PT] {
	src := memory.NewRelation[T, PT](s.store, rel, parentID)
	opts := []deferred.Option[PT]{
		deferred.WithName[PT](rel.Name),
		deferred.WithFactory(func() PT { return PT(new(T)) }),
		deferred.WithDependent[PT](rel.Dependent),
		deferred.WithLogger[PT](s.logger),
		deferred.WithMetrics[PT](s.metrics),
	}
	return deferred.New[PT](src, append(opts, extra...)...)
}
