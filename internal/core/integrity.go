package core

import (
	"context"

	"linkcore/pkg/domain"
)

// DanglingLink is a link table entry that points at a missing row. ChildID is
// empty when the parent row itself is missing.
type DanglingLink struct {
	Relation string     `json:"relation"`
	ParentID string     `json:"parent_id"`
	ChildID  string     `json:"child_id,omitempty"`
	Missing  EntityType `json:"missing"`
}

// FindDanglingLinks scans every built-in relation in view.
func FindDanglingLinks(view TransactionView) []DanglingLink {
	var out []DanglingLink
	for _, rel := range domain.Relations() {
		for _, parentID := range view.LinkedParents(rel) {
			if _, ok := view.Get(rel.Parent, parentID); !ok {
				out = append(out, DanglingLink{Relation: rel.Name, ParentID: parentID, Missing: rel.Parent})
				continue
			}
			for _, childID := range view.LinkedIDs(rel, parentID) {
				if _, ok := view.Get(rel.Child, childID); !ok {
					out = append(out, DanglingLink{Relation: rel.Name, ParentID: parentID, ChildID: childID, Missing: rel.Child})
				}
			}
		}
	}
	return out
}

// CheckLinks reports dangling links in the committed state.
func (s *Service) CheckLinks(ctx context.Context) ([]DanglingLink, error) {
	var out []DanglingLink
	err := s.store.View(ctx, func(view TransactionView) error {
		out = FindDanglingLinks(view)
		return nil
	})
	return out, err
}
