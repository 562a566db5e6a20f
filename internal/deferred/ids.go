package deferred

import (
	"context"
	"strconv"
	"strings"
)

// IDs loads the relation and returns member ids in order. Unsaved members
// have no id and are skipped.
func (p *Proxy[E]) IDs(ctx context.Context) ([]string, error) {
	if err := p.Load(ctx); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(p.working))
	for _, e := range p.working {
		if e.Persisted() {
			ids = append(ids, e.RecordID())
		}
	}
	return ids, nil
}

// SetIDs resolves ids through the source's repository lookup and replaces
// the members with the result. Blank entries are dropped; an empty list
// clears the relation.
func (p *Proxy[E]) SetIDs(ctx context.Context, ids []string) error {
	normalized := NormalizeIDs(ids)
	var members []E
	if len(normalized) > 0 {
		resolved, err := observe(ctx, p, "lookup", func() ([]E, error) {
			return p.src.Lookup(ctx, normalized)
		})
		if err != nil {
			return p.wrap("set ids", err)
		}
		members = resolved
	}
	return p.Replace(ctx, members)
}

// SetIDString is SetIDs for a comma separated list.
func (p *Proxy[E]) SetIDString(ctx context.Context, list string) error {
	return p.SetIDs(ctx, strings.Split(list, ","))
}

// NormalizeIDs trims entries, drops blanks and duplicates, and canonicalizes
// numeric ids.
func NormalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := NormalizeID(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// NormalizeID trims id and rewrites decimal integers without leading zeros.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return id
}
