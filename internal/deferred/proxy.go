// Package deferred implements a collection proxy for many-valued relations
// that postpones link table writes until the parent record is saved.
//
// A Proxy starts as a ghost and materializes its members from a Source the
// first time an operation needs them. From then on callers mutate an in-memory
// working set; the difference between that working set and the baseline
// captured at load time is what the parent's save routine applies. A relation
// that was never loaded reports no changes and costs no queries.
//
// Proxies are not safe for concurrent use.
package deferred

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"linkcore/pkg/domain"
)

// ErrNoFactory is returned by Build and Create when the relation has no
// element constructor.
var ErrNoFactory = errors.New("deferred: relation has no element factory")

// Proxy presents a relation as an ordered collection while tracking pending
// link and unlink operations.
type Proxy[E Element] struct {
	src       Source[E]
	cfg       config[E]
	callbacks Registry[E]

	state    LoadState
	working  []E
	baseline []E
}

// New wraps src in a ghost proxy.
func New[E Element](src Source[E], opts ...Option[E]) *Proxy[E] {
	return &Proxy[E]{
		src:   src,
		cfg:   newConfig(opts),
		state: Ghost,
	}
}

// Name returns the relation label configured with WithName.
func (p *Proxy[E]) Name() string { return p.cfg.name }

// Dependent returns the relation's dependent policy.
func (p *Proxy[E]) Dependent() domain.Dependent { return p.cfg.dependent }

// On registers a listener on this proxy only.
func (p *Proxy[E]) On(kind EventKind, fn Listener[E]) Handle {
	return p.callbacks.Register(kind, fn)
}

// Listeners exposes the proxy's callback registry.
func (p *Proxy[E]) Listeners() *Registry[E] { return &p.callbacks }

// Get loads the relation and returns the working set. The slice shares its
// backing array with the proxy: index writes are visible to the proxy, but
// appends are not, and the slice must not be retained across mutations.
func (p *Proxy[E]) Get(ctx context.Context) ([]E, error) {
	if err := p.Load(ctx); err != nil {
		return nil, err
	}
	return slices.Clip(p.working), nil
}

// Replace makes candidates the new working set. Zero elements are dropped and
// the inverse is bound on the rest. The baseline is recomputed from what the
// source currently has persisted, so the resulting diff is relative to the
// committed state rather than to earlier in-memory edits. Unlink listeners
// then fire for every pending unlink and link listeners for every pending
// link; the replacement itself is not undone by a listener error.
func (p *Proxy[E]) Replace(ctx context.Context, candidates []E) error {
	members := withoutZero(candidates)
	for _, e := range members {
		p.bindInverse(e)
	}
	persisted, err := observe(ctx, p, "fetch_all", func() ([]E, error) {
		return p.src.FetchAll(ctx)
	})
	if err != nil {
		return p.wrap("replace", err)
	}
	p.working = members
	p.baseline = slices.Clip(withoutZero(persisted))
	p.state = Loaded

	for _, e := range p.Unlinks() {
		if err := p.callbacks.RunScoped(ctx, MutationUnlink, e, nil); err != nil {
			return err
		}
	}
	for _, e := range p.Links() {
		if err := p.callbacks.RunScoped(ctx, MutationLink, e, nil); err != nil {
			return err
		}
	}
	return nil
}

// Append adds elements to the working set. Zero elements and identity
// duplicates within the call are dropped. Each element is linked inside its
// own listener scope; an error stops the call but leaves earlier elements
// appended.
func (p *Proxy[E]) Append(ctx context.Context, elems ...E) error {
	if err := p.Load(ctx); err != nil {
		return err
	}
	for _, e := range compact(elems) {
		if err := p.link(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Remove drops elements from the working set, each inside its own unlink
// listener scope. Elements that are not members are a no-op apart from the
// listeners.
func (p *Proxy[E]) Remove(ctx context.Context, elems ...E) error {
	if err := p.Load(ctx); err != nil {
		return err
	}
	for _, e := range compact(elems) {
		if err := p.unlink(ctx, e, false); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAndMark removes elements like Remove and, when the relation's
// dependent policy is destructive, flags each one for deletion by the next
// parent save. It returns the elements that were processed.
func (p *Proxy[E]) RemoveAndMark(ctx context.Context, elems ...E) ([]E, error) {
	if err := p.Load(ctx); err != nil {
		return nil, err
	}
	processed := make([]E, 0, len(elems))
	for _, e := range compact(elems) {
		if err := p.unlink(ctx, e, true); err != nil {
			return processed, err
		}
		processed = append(processed, e)
	}
	return processed, nil
}

// RemoveAndMarkIDs resolves ids against the working set and removes the
// matches with RemoveAndMark semantics. Ids that match no member are skipped.
func (p *Proxy[E]) RemoveAndMarkIDs(ctx context.Context, ids ...string) ([]E, error) {
	if err := p.Load(ctx); err != nil {
		return nil, err
	}
	var resolved []E
	for _, id := range NormalizeIDs(ids) {
		if e, ok := p.memberByID(id); ok {
			resolved = append(resolved, e)
		}
	}
	return p.RemoveAndMark(ctx, resolved...)
}

// Build constructs an unsaved element with the relation's factory, applies
// the mutators, and links it into the working set.
func (p *Proxy[E]) Build(ctx context.Context, mutators ...func(E) error) (E, error) {
	var zero E
	e, err := p.construct(mutators)
	if err != nil {
		return zero, err
	}
	if err := p.Load(ctx); err != nil {
		return zero, err
	}
	if err := p.link(ctx, e); err != nil {
		return e, err
	}
	return e, nil
}

// Create persists a new element through the source right away and then
// invalidates the proxy so the next access re-reads the relation. Validation
// failures are reported in the result, not as an error.
func (p *Proxy[E]) Create(ctx context.Context, mutators ...func(E) error) (E, domain.Result, error) {
	var zero E
	e, err := p.construct(mutators)
	if err != nil {
		return zero, domain.Result{}, err
	}
	p.bindInverse(e)
	type created struct {
		elem E
		res  domain.Result
	}
	out, err := observe(ctx, p, "create", func() (created, error) {
		elem, res, err := p.src.Create(ctx, e)
		return created{elem: elem, res: res}, err
	})
	if rerr := p.Reload(ctx); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return out.elem, out.res, p.wrap("create", err)
	}
	return out.elem, out.res, nil
}

// CreateOrFail is Create with validation failures returned as a
// domain.RuleViolationError.
func (p *Proxy[E]) CreateOrFail(ctx context.Context, mutators ...func(E) error) (E, error) {
	var zero E
	e, err := p.construct(mutators)
	if err != nil {
		return zero, err
	}
	p.bindInverse(e)
	elem, err := observe(ctx, p, "create", func() (E, error) {
		return p.src.CreateOrFail(ctx, e)
	})
	if rerr := p.Reload(ctx); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return elem, p.wrap("create", err)
	}
	return elem, nil
}

// Size counts members. A ghost asks the source; a loaded proxy counts its
// working set so uncommitted edits are reflected.
func (p *Proxy[E]) Size(ctx context.Context) (int, error) {
	if p.state == Loaded {
		return len(p.working), nil
	}
	n, err := observe(ctx, p, "count", func() (int, error) { return p.src.Count(ctx) })
	if err != nil {
		return 0, p.wrap("size", err)
	}
	return n, nil
}

// First returns the first member without loading a ghost.
func (p *Proxy[E]) First(ctx context.Context) (E, bool, error) {
	if p.state == Loaded {
		if len(p.working) == 0 {
			var zero E
			return zero, false, nil
		}
		return p.working[0], true, nil
	}
	return p.edge(ctx, "first", p.src.First)
}

// Last returns the last member without loading a ghost.
func (p *Proxy[E]) Last(ctx context.Context) (E, bool, error) {
	if p.state == Loaded {
		if len(p.working) == 0 {
			var zero E
			return zero, false, nil
		}
		return p.working[len(p.working)-1], true, nil
	}
	return p.edge(ctx, "last", p.src.Last)
}

// IsEmpty reports whether the relation has no members without loading a
// ghost.
func (p *Proxy[E]) IsEmpty(ctx context.Context) (bool, error) {
	if p.state == Loaded {
		return len(p.working) == 0, nil
	}
	empty, err := observe(ctx, p, "is_empty", func() (bool, error) { return p.src.IsEmpty(ctx) })
	if err != nil {
		return false, p.wrap("is_empty", err)
	}
	return empty, nil
}

func (p *Proxy[E]) edge(ctx context.Context, op string, fn func(context.Context) (E, bool, error)) (E, bool, error) {
	type found struct {
		elem E
		ok   bool
	}
	out, err := observe(ctx, p, op, func() (found, error) {
		e, ok, err := fn(ctx)
		return found{elem: e, ok: ok}, err
	})
	if err != nil {
		var zero E
		return zero, false, p.wrap(op, err)
	}
	return out.elem, out.ok, nil
}

func (p *Proxy[E]) link(ctx context.Context, e E) error {
	return p.callbacks.RunScoped(ctx, MutationLink, e, func() {
		p.bindInverse(e)
		p.working = append(p.working, e)
	})
}

func (p *Proxy[E]) unlink(ctx context.Context, e E, mark bool) error {
	return p.callbacks.RunScoped(ctx, MutationUnlink, e, func() {
		p.working = slices.DeleteFunc(p.working, func(member E) bool { return Same(member, e) })
		if mark && p.cfg.dependent.Destructive() {
			if marker, ok := any(e).(interface{ MarkForDestruction() }); ok {
				marker.MarkForDestruction()
			}
		}
	})
}

func (p *Proxy[E]) memberByID(id string) (E, bool) {
	for _, e := range p.working {
		if e.Persisted() && NormalizeID(e.RecordID()) == id {
			return e, true
		}
	}
	var zero E
	return zero, false
}

func (p *Proxy[E]) bindInverse(e E) {
	if p.cfg.inverse != nil {
		p.cfg.inverse(e)
	}
}

func (p *Proxy[E]) construct(mutators []func(E) error) (E, error) {
	var zero E
	if p.cfg.factory == nil {
		return zero, ErrNoFactory
	}
	e := p.cfg.factory()
	for _, mutate := range mutators {
		if mutate == nil {
			continue
		}
		if err := mutate(e); err != nil {
			return zero, err
		}
	}
	return e, nil
}

func (p *Proxy[E]) wrap(op string, err error) error {
	return fmt.Errorf("%s %s: %w", p.cfg.name, op, err)
}
