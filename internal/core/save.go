package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linkcore/internal/deferred"
	"linkcore/internal/infra/persistence/memory"
	"linkcore/internal/journal"
	"linkcore/pkg/domain"
)

// SaveCohort upserts the cohort and applies the pending organism links in one
// transaction. Removed organisms marked for destruction are deleted.
func (s *Service) SaveCohort(ctx context.Context, c *CohortRecord) (Result, error) {
	return s.save(ctx, "save_cohort", c.Cohort, relationWriter[*Organism]{
		rel:   domain.CohortOrganisms,
		proxy: c.organisms,
		hooks: memory.Hooks[*Organism]{
			Linked: func(o *Organism, parentID string) {
				id := parentID
				o.CohortID = &id
			},
			Unlinked: func(o *Organism) {
				o.CohortID = nil
				o.Cohort = nil
			},
		},
	})
}

// SaveProject upserts the project and applies the pending facility links.
func (s *Service) SaveProject(ctx context.Context, p *ProjectRecord) (Result, error) {
	return s.save(ctx, "save_project", p.Project, relationWriter[*Facility]{
		rel:   domain.ProjectFacilities,
		proxy: p.facilities,
	})
}

type pendingRelation interface {
	name() string
	pending() bool
	apply(tx Transaction, parentID string) (memory.Applied, error)
	commit(ctx context.Context) error
}

type relationWriter[E memory.Child] struct {
	rel   domain.Relation
	proxy *deferred.Proxy[E]
	hooks memory.Hooks[E]
}

func (w relationWriter[E]) name() string { return w.rel.Name }

// pending is false for a proxy that was never created.
func (w relationWriter[E]) pending() bool {
	return w.proxy != nil && w.proxy.HasPendingChanges()
}

func (w relationWriter[E]) apply(tx Transaction, parentID string) (memory.Applied, error) {
	return memory.ApplyChanges(tx, w.rel, parentID, w.proxy.Changes(), w.hooks)
}

func (w relationWriter[E]) commit(ctx context.Context) error {
	return w.proxy.Commit(ctx)
}

type appliedRelation struct {
	writer  pendingRelation
	applied memory.Applied
}

func (s *Service) save(ctx context.Context, op string, parent domain.Record, relations ...pendingRelation) (Result, error) {
	return s.run(ctx, op, func(ctx context.Context) (Result, error) {
		if res := domain.ValidateRecord(parent); res.HasBlocking() {
			return res, RuleViolationError{Result: res}
		}
		var done []appliedRelation
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			done = done[:0]
			if err := upsert(tx, parent); err != nil {
				return err
			}
			for _, w := range relations {
				if !w.pending() {
					continue
				}
				applied, err := w.apply(tx, parent.RecordID())
				if err != nil {
					return err
				}
				done = append(done, appliedRelation{writer: w, applied: applied})
			}
			return nil
		})
		if err != nil {
			return res, err
		}
		savedAt := s.now()
		var errs []error
		for _, d := range done {
			if err := d.writer.commit(ctx); err != nil {
				errs = append(errs, err)
			}
			s.logger.Info("relation saved",
				"relation", d.writer.name(),
				"parent", parent.RecordID(),
				"linked", len(d.applied.Linked),
				"unlinked", len(d.applied.Unlinked),
				"destroyed", len(d.applied.Destroyed),
			)
			if err := s.record(ctx, d, parent.RecordID(), savedAt); err != nil {
				errs = append(errs, err)
			}
		}
		return res, errors.Join(errs...)
	})
}

func upsert(tx Transaction, rec domain.Record) error {
	if !rec.Persisted() {
		return tx.Insert(rec)
	}
	if _, ok := tx.Get(rec.EntityType(), rec.RecordID()); !ok {
		return tx.Insert(rec)
	}
	return tx.Update(rec)
}

func (s *Service) record(ctx context.Context, d appliedRelation, parentID string, savedAt time.Time) error {
	if s.journal == nil || d.applied.Empty() {
		return nil
	}
	entry := journal.Entry{
		Relation:  d.writer.name(),
		ParentID:  parentID,
		Linked:    d.applied.Linked,
		Unlinked:  d.applied.Unlinked,
		Destroyed: d.applied.Destroyed,
		SavedAt:   savedAt,
	}
	if _, err := s.journal.Record(ctx, entry); err != nil {
		return fmt.Errorf("journal %s %s: %w", entry.Relation, parentID, err)
	}
	return nil
}
