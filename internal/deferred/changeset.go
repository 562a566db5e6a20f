package deferred

// ChangeSet lists the pending link table operations of a relation.
type ChangeSet[E Element] struct {
	Links   []E
	Unlinks []E
}

// Empty reports whether applying the change set would be a no-op.
func (c ChangeSet[E]) Empty() bool {
	return len(c.Links) == 0 && len(c.Unlinks) == 0
}

// Same reports whether a and b denote the same relation member: both
// persisted with equal ids, or both unsaved and the same reference.
func Same[E Element](a, b E) bool {
	var zero E
	if a == zero || b == zero {
		return a == b
	}
	ap, bp := a.Persisted(), b.Persisted()
	switch {
	case ap && bp:
		return a.RecordID() == b.RecordID()
	case !ap && !bp:
		return a == b
	default:
		return false
	}
}

// identitySet is an insertion-ordered set keyed by element identity.
type identitySet[E Element] struct {
	ids   map[string]struct{}
	refs  map[E]struct{}
	items []E
}

func newIdentitySet[E Element](capacity int) *identitySet[E] {
	return &identitySet[E]{
		ids:   make(map[string]struct{}, capacity),
		refs:  make(map[E]struct{}),
		items: make([]E, 0, capacity),
	}
}

func (s *identitySet[E]) has(e E) bool {
	if e.Persisted() {
		_, ok := s.ids[e.RecordID()]
		return ok
	}
	_, ok := s.refs[e]
	return ok
}

// add inserts e and reports whether it was new.
func (s *identitySet[E]) add(e E) bool {
	if s.has(e) {
		return false
	}
	if e.Persisted() {
		s.ids[e.RecordID()] = struct{}{}
	} else {
		s.refs[e] = struct{}{}
	}
	s.items = append(s.items, e)
	return true
}

// difference returns the members of from that are absent from minus,
// keeping the order of from and reporting each member once.
func difference[E Element](from, minus []E) []E {
	exclude := newIdentitySet[E](len(minus))
	for _, e := range minus {
		exclude.add(e)
	}
	out := newIdentitySet[E](len(from))
	for _, e := range from {
		if exclude.has(e) {
			continue
		}
		out.add(e)
	}
	return out.items
}

// compact drops zero elements and identity duplicates, keeping first
// occurrences in order.
func compact[E Element](elems []E) []E {
	var zero E
	set := newIdentitySet[E](len(elems))
	for _, e := range elems {
		if e == zero {
			continue
		}
		set.add(e)
	}
	return set.items
}

// withoutZero drops zero elements but keeps duplicates.
func withoutZero[E Element](elems []E) []E {
	var zero E
	out := make([]E, 0, len(elems))
	for _, e := range elems {
		if e != zero {
			out = append(out, e)
		}
	}
	return out
}

// Links returns members added since the last load, in working set order.
// A relation that was never loaded has no links and is not loaded here.
func (p *Proxy[E]) Links() []E {
	if p.state != Loaded {
		return []E{}
	}
	return difference(p.working, p.baseline)
}

// Unlinks returns members removed since the last load, in baseline order.
// A relation that was never loaded has no unlinks and is not loaded here.
func (p *Proxy[E]) Unlinks() []E {
	if p.state != Loaded {
		return []E{}
	}
	return difference(p.baseline, p.working)
}

// Changes returns links and unlinks together.
func (p *Proxy[E]) Changes() ChangeSet[E] {
	return ChangeSet[E]{Links: p.Links(), Unlinks: p.Unlinks()}
}

// HasPendingChanges reports whether a parent save has link table work to do
// for this relation. It never touches the source.
func (p *Proxy[E]) HasPendingChanges() bool {
	return len(p.Links()) > 0 || len(p.Unlinks()) > 0
}
