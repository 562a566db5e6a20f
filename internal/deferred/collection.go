package deferred

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrIndexOutOfRange is returned by SetAt for positions past the working set.
var ErrIndexOutOfRange = errors.New("deferred: index out of range")

// ErrZeroElement is returned by SetAt when asked to store a nil element.
var ErrZeroElement = errors.New("deferred: zero element")

// Each calls fn for every member in order until fn returns false.
func (p *Proxy[E]) Each(ctx context.Context, fn func(E) bool) error {
	return p.EachIndex(ctx, func(_ int, e E) bool { return fn(e) })
}

// EachIndex is Each with the member's position.
func (p *Proxy[E]) EachIndex(ctx context.Context, fn func(int, E) bool) error {
	if err := p.Load(ctx); err != nil {
		return err
	}
	for i, e := range slices.Clone(p.working) {
		if !fn(i, e) {
			return nil
		}
	}
	return nil
}

// At returns the member at index i. Negative indexes count from the end.
func (p *Proxy[E]) At(ctx context.Context, i int) (E, bool, error) {
	var zero E
	if err := p.Load(ctx); err != nil {
		return zero, false, err
	}
	if i < 0 {
		i += len(p.working)
	}
	if i < 0 || i >= len(p.working) {
		return zero, false, nil
	}
	return p.working[i], true, nil
}

// SetAt overwrites the member at index i without firing listeners. The
// displaced member shows up as an unlink and e as a link.
func (p *Proxy[E]) SetAt(ctx context.Context, i int, e E) error {
	var zero E
	if e == zero {
		return ErrZeroElement
	}
	if err := p.Load(ctx); err != nil {
		return err
	}
	if i < 0 {
		i += len(p.working)
	}
	if i < 0 || i >= len(p.working) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(p.working))
	}
	p.bindInverse(e)
	p.working[i] = e
	return nil
}

// Clear empties the working set without firing listeners; every baseline
// member becomes an unlink.
func (p *Proxy[E]) Clear(ctx context.Context) error {
	if err := p.Load(ctx); err != nil {
		return err
	}
	p.working = p.working[:0:0]
	return nil
}

// Select filters the loaded members in memory.
func (p *Proxy[E]) Select(ctx context.Context, keep func(E) bool) ([]E, error) {
	if err := p.Load(ctx); err != nil {
		return nil, err
	}
	out := make([]E, 0, len(p.working))
	for _, e := range p.working {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Where hands query to the source and returns persisted matches. It never
// loads the proxy and ignores uncommitted edits.
func (p *Proxy[E]) Where(ctx context.Context, query string) ([]E, error) {
	out, err := observe(ctx, p, "where", func() ([]E, error) { return p.src.Where(ctx, query) })
	if err != nil {
		return nil, p.wrap("where", err)
	}
	return out, nil
}

// Find returns the persisted member with id. Loaded proxies answer from the
// working set; ghosts ask the source.
func (p *Proxy[E]) Find(ctx context.Context, id string) (E, bool, error) {
	id = NormalizeID(id)
	if p.state == Loaded {
		e, ok := p.memberByID(id)
		return e, ok, nil
	}
	type found struct {
		elem E
		ok   bool
	}
	out, err := observe(ctx, p, "find", func() (found, error) {
		e, ok, err := p.src.Find(ctx, id)
		return found{elem: e, ok: ok}, err
	})
	if err != nil {
		var zero E
		return zero, false, p.wrap("find", err)
	}
	return out.elem, out.ok, nil
}

// DeleteFunc removes every member matching del, each inside its own unlink
// listener scope.
func (p *Proxy[E]) DeleteFunc(ctx context.Context, del func(E) bool) error {
	matches, err := p.Select(ctx, del)
	if err != nil {
		return err
	}
	return p.Remove(ctx, matches...)
}

// SortStableFunc reorders the working set. Ordering never produces links or
// unlinks.
func (p *Proxy[E]) SortStableFunc(ctx context.Context, cmp func(a, b E) int) error {
	if err := p.Load(ctx); err != nil {
		return err
	}
	slices.SortStableFunc(p.working, cmp)
	return nil
}

// Count asks the source how many members are persisted, ignoring
// uncommitted edits.
func (p *Proxy[E]) Count(ctx context.Context) (int, error) {
	n, err := observe(ctx, p, "count", func() (int, error) { return p.src.Count(ctx) })
	if err != nil {
		return 0, p.wrap("count", err)
	}
	return n, nil
}

// CountFunc counts loaded members matching pred.
func (p *Proxy[E]) CountFunc(ctx context.Context, pred func(E) bool) (int, error) {
	if err := p.Load(ctx); err != nil {
		return 0, err
	}
	n := 0
	for _, e := range p.working {
		if pred(e) {
			n++
		}
	}
	return n, nil
}

// Equal loads the proxy and compares its members with other by identity and
// position.
func (p *Proxy[E]) Equal(ctx context.Context, other []E) (bool, error) {
	if err := p.Load(ctx); err != nil {
		return false, err
	}
	return slices.EqualFunc(p.working, other, Same[E]), nil
}

// String renders the members without loading a ghost.
func (p *Proxy[E]) String() string {
	if p.state != Loaded {
		return fmt.Sprintf("%s<ghost>", p.cfg.name)
	}
	parts := make([]string, len(p.working))
	for i, e := range p.working {
		if s, ok := any(e).(fmt.Stringer); ok {
			parts[i] = s.String()
			continue
		}
		if e.Persisted() {
			parts[i] = e.RecordID()
			continue
		}
		parts[i] = "new"
	}
	return fmt.Sprintf("%s[%s]", p.cfg.name, strings.Join(parts, ", "))
}
