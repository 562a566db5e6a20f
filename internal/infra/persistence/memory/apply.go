package memory

import (
	"fmt"

	"linkcore/internal/deferred"
	"linkcore/pkg/domain"
)

// Hooks adjust children as the link table changes, before their rows are
// written. Either may be nil.
type Hooks[E Child] struct {
	// Linked runs for every child about to be linked to parentID.
	Linked func(child E, parentID string)
	// Unlinked runs for every unlinked child that is not being destroyed.
	Unlinked func(child E)
}

// Applied summarizes the link table work done for one relation.
type Applied struct {
	Linked    []string
	Unlinked  []string
	Destroyed []string
}

// Empty reports whether nothing was written.
func (a Applied) Empty() bool {
	return len(a.Linked) == 0 && len(a.Unlinked) == 0 && len(a.Destroyed) == 0
}

// ApplyChanges writes a relation's pending change set inside tx. Unsaved
// children are inserted before being linked. Unlinked children marked for
// destruction are deleted; the rest get their unlink hook and, when one is
// configured, an updated row.
func ApplyChanges[E Child](tx domain.Transaction, rel domain.Relation, parentID string, changes deferred.ChangeSet[E], hooks Hooks[E]) (Applied, error) {
	var applied Applied
	if parentID == "" {
		return applied, ErrParentNotPersisted
	}
	for _, child := range changes.Unlinks {
		if !child.Persisted() {
			continue
		}
		id := child.RecordID()
		if _, err := tx.Unlink(rel, parentID, id); err != nil {
			return applied, fmt.Errorf("unlink %s %s: %w", rel.Name, id, err)
		}
		if child.MarkedForDestruction() && rel.Dependent.Destructive() {
			if err := tx.Delete(rel.Child, id); err != nil {
				return applied, fmt.Errorf("destroy %s %s: %w", rel.Child, id, err)
			}
			applied.Destroyed = append(applied.Destroyed, id)
			continue
		}
		if hooks.Unlinked != nil {
			hooks.Unlinked(child)
			if err := tx.Update(child); err != nil {
				return applied, fmt.Errorf("update %s %s: %w", rel.Child, id, err)
			}
		}
		applied.Unlinked = append(applied.Unlinked, id)
	}
	for _, child := range changes.Links {
		if hooks.Linked != nil {
			hooks.Linked(child, parentID)
		}
		if child.Persisted() {
			if hooks.Linked != nil {
				if err := tx.Update(child); err != nil {
					return applied, fmt.Errorf("update %s %s: %w", rel.Child, child.RecordID(), err)
				}
			}
		} else {
			if res := domain.ValidateRecord(child); res.HasBlocking() {
				return applied, domain.RuleViolationError{Result: res}
			}
			if err := tx.Insert(child); err != nil {
				return applied, fmt.Errorf("insert %s: %w", rel.Child, err)
			}
		}
		id := child.RecordID()
		if err := tx.Link(rel, parentID, id); err != nil {
			return applied, fmt.Errorf("link %s %s: %w", rel.Name, id, err)
		}
		applied.Linked = append(applied.Linked, id)
	}
	return applied, nil
}
