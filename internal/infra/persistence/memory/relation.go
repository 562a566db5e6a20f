package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	exprlang "github.com/expr-lang/expr"

	"linkcore/internal/deferred"
	"linkcore/pkg/domain"
)

// ErrParentNotPersisted is returned when a relation operation needs the
// parent's id before the parent has been saved.
var ErrParentNotPersisted = errors.New("memory: parent record is not persisted")

// Child is a record that can be a member of a deferred relation.
type Child interface {
	deferred.Element
	domain.Record
}

// Relation serves one parent's side of a link table to a deferred.Proxy. It
// reads committed state only and caches what FetchAll returned until Reload.
type Relation[E Child] struct {
	store    domain.PersistentStore
	rel      domain.Relation
	parentID func() string
	decode   func(json.RawMessage) (E, error)

	target []E
	cached bool
}

var _ deferred.Source[*domain.Organism] = (*Relation[*domain.Organism])(nil)

// NewRelation builds the source for rel under the parent whose id parentID
// returns. parentID is consulted on every call so an unsaved parent can be
// saved later without rebuilding the source.
func NewRelation[T any, PT interface {
	*T
	Child
}](store domain.PersistentStore, rel domain.Relation, parentID func() string) *Relation[PT] {
	return &Relation[PT]{
		store:    store,
		rel:      rel,
		parentID: parentID,
		decode: func(raw json.RawMessage) (PT, error) {
			rec, err := domain.Decode[T](raw)
			if err != nil {
				return nil, err
			}
			return PT(rec), nil
		},
	}
}

// FetchAll returns the linked children in link order. An unsaved parent has
// no members.
func (r *Relation[E]) FetchAll(ctx context.Context) ([]E, error) {
	if r.cached {
		return append([]E(nil), r.target...), nil
	}
	var out []E
	parent := r.parentID()
	if parent != "" {
		err := r.store.View(ctx, func(view domain.TransactionView) error {
			members, err := r.resolve(view, view.LinkedIDs(r.rel, parent), false)
			out = members
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	r.target = out
	r.cached = true
	return append([]E(nil), out...), nil
}

// Reload drops the cached target.
func (r *Relation[E]) Reload(context.Context) error {
	r.target = nil
	r.cached = false
	return nil
}

// Count returns the number of committed links without decoding rows.
func (r *Relation[E]) Count(context.Context) (int, error) {
	if r.cached {
		return len(r.target), nil
	}
	parent := r.parentID()
	if parent == "" {
		return 0, nil
	}
	return len(r.store.LinkedIDs(r.rel, parent)), nil
}

// First decodes only the first linked child.
func (r *Relation[E]) First(ctx context.Context) (E, bool, error) {
	return r.edge(ctx, true)
}

// Last decodes only the last linked child.
func (r *Relation[E]) Last(ctx context.Context) (E, bool, error) {
	return r.edge(ctx, false)
}

func (r *Relation[E]) edge(_ context.Context, first bool) (E, bool, error) {
	var zero E
	if r.cached {
		if len(r.target) == 0 {
			return zero, false, nil
		}
		if first {
			return r.target[0], true, nil
		}
		return r.target[len(r.target)-1], true, nil
	}
	ids := r.linkedIDs()
	if len(ids) == 0 {
		return zero, false, nil
	}
	id := ids[len(ids)-1]
	if first {
		id = ids[0]
	}
	e, ok, err := r.get(id)
	return e, ok, err
}

// IsEmpty reports whether the parent has no committed links.
func (r *Relation[E]) IsEmpty(ctx context.Context) (bool, error) {
	n, err := r.Count(ctx)
	return n == 0, err
}

// Create inserts elem and links it to the parent in one transaction.
// Validation failures come back in the result with elem left unsaved.
func (r *Relation[E]) Create(ctx context.Context, elem E) (E, domain.Result, error) {
	if res := domain.ValidateRecord(elem); res.HasBlocking() {
		return elem, res, nil
	}
	parent := r.parentID()
	if parent == "" {
		return elem, domain.Result{}, ErrParentNotPersisted
	}
	res, err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.Insert(elem); err != nil {
			return err
		}
		return tx.Link(r.rel, parent, elem.RecordID())
	})
	var violation domain.RuleViolationError
	if errors.As(err, &violation) {
		return elem, violation.Result, nil
	}
	return elem, res, err
}

// CreateOrFail is Create with blocking violations returned as a
// domain.RuleViolationError.
func (r *Relation[E]) CreateOrFail(ctx context.Context, elem E) (E, error) {
	created, res, err := r.Create(ctx, elem)
	if err != nil {
		return created, err
	}
	if res.HasBlocking() {
		return created, domain.RuleViolationError{Result: res}
	}
	return created, nil
}

// Find returns the linked child with id.
func (r *Relation[E]) Find(_ context.Context, id string) (E, bool, error) {
	var zero E
	for _, linked := range r.linkedIDs() {
		if linked == id {
			return r.get(id)
		}
	}
	return zero, false, nil
}

// Where evaluates query as an expr-lang boolean expression against each
// linked row's JSON fields, for example `species == "newt" && name != ""`.
func (r *Relation[E]) Where(_ context.Context, query string) ([]E, error) {
	program, err := exprlang.Compile(query,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile where %q: %w", query, err)
	}
	var out []E
	for _, id := range r.linkedIDs() {
		raw, ok := r.store.Get(r.rel.Child, id)
		if !ok {
			continue
		}
		env := map[string]any{}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", r.rel.Child, id, err)
		}
		matched, err := exprlang.Run(program, env)
		if err != nil {
			return nil, fmt.Errorf("evaluate where %q: %w", query, err)
		}
		if keep, _ := matched.(bool); !keep {
			continue
		}
		e, err := r.decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", r.rel.Child, id, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Lookup resolves ids against every stored child, linked or not.
func (r *Relation[E]) Lookup(ctx context.Context, ids []string) ([]E, error) {
	var out []E
	err := r.store.View(ctx, func(view domain.TransactionView) error {
		members, err := r.resolve(view, ids, true)
		out = members
		return err
	})
	return out, err
}

func (r *Relation[E]) linkedIDs() []string {
	parent := r.parentID()
	if parent == "" {
		return nil
	}
	return r.store.LinkedIDs(r.rel, parent)
}

func (r *Relation[E]) get(id string) (E, bool, error) {
	var zero E
	raw, ok := r.store.Get(r.rel.Child, id)
	if !ok {
		return zero, false, nil
	}
	e, err := r.decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("decode %s %s: %w", r.rel.Child, id, err)
	}
	return e, true, nil
}

// resolve decodes ids from view. Missing rows are skipped unless strict.
func (r *Relation[E]) resolve(view domain.TransactionView, ids []string, strict bool) ([]E, error) {
	out := make([]E, 0, len(ids))
	for _, id := range ids {
		raw, ok := view.Get(r.rel.Child, id)
		if !ok {
			if strict {
				return nil, domain.ErrNotFound{Entity: r.rel.Child, ID: id}
			}
			continue
		}
		e, err := r.decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", r.rel.Child, id, err)
		}
		out = append(out, e)
	}
	return out, nil
}
