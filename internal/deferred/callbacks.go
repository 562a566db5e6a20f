package deferred

import "context"

// Mutation names the two kinds of change a proxy brackets with listeners.
type Mutation string

// Supported mutations.
const (
	MutationLink   Mutation = "link"
	MutationUnlink Mutation = "unlink"
)

// EventKind identifies when a listener fires relative to a mutation.
type EventKind string

// Listener event kinds.
const (
	BeforeLink   EventKind = "before_link"
	AfterLink    EventKind = "after_link"
	BeforeUnlink EventKind = "before_unlink"
	AfterUnlink  EventKind = "after_unlink"
)

// Before returns the event fired ahead of the mutation.
func (m Mutation) Before() EventKind { return EventKind("before_" + string(m)) }

// After returns the event fired once the mutation applied.
func (m Mutation) After() EventKind { return EventKind("after_" + string(m)) }

// Listener handles a link or unlink event for one element.
type Listener[E Element] func(ctx context.Context, elem E) error

type listenerEntry[E Element] struct {
	id   uint64
	kind EventKind
	fn   Listener[E]
}

// Registry holds ordered listeners for one proxy. The zero value is ready to
// use.
type Registry[E Element] struct {
	seq       uint64
	listeners []listenerEntry[E]
}

// Handle removes a registered listener.
type Handle struct {
	unregister func()
}

// Unregister detaches the listener. Calling it more than once is harmless.
func (h Handle) Unregister() {
	if h.unregister != nil {
		h.unregister()
	}
}

// Register appends fn to the listeners for kind.
func (r *Registry[E]) Register(kind EventKind, fn Listener[E]) Handle {
	if fn == nil {
		return Handle{}
	}
	r.seq++
	id := r.seq
	r.listeners = append(r.listeners, listenerEntry[E]{id: id, kind: kind, fn: fn})
	return Handle{unregister: func() { r.remove(id) }}
}

// Len reports the number of registered listeners.
func (r *Registry[E]) Len() int { return len(r.listeners) }

func (r *Registry[E]) remove(id uint64) {
	for i, entry := range r.listeners {
		if entry.id == id {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return
		}
	}
}

// Notify runs every listener registered for kind in registration order and
// stops at the first error.
func (r *Registry[E]) Notify(ctx context.Context, kind EventKind, elem E) error {
	// Listeners may register or unregister while running; iterate a copy.
	entries := append([]listenerEntry[E](nil), r.listeners...)
	for _, entry := range entries {
		if entry.kind != kind {
			continue
		}
		if err := entry.fn(ctx, elem); err != nil {
			return err
		}
	}
	return nil
}

// RunScoped brackets apply with the before and after listeners of m. A
// before-listener error prevents apply from running. An after-listener error
// is returned with the mutation already applied. apply may be nil when the
// mutation has been performed elsewhere.
func (r *Registry[E]) RunScoped(ctx context.Context, m Mutation, elem E, apply func()) error {
	if err := r.Notify(ctx, m.Before(), elem); err != nil {
		return err
	}
	if apply != nil {
		apply()
	}
	return r.Notify(ctx, m.After(), elem)
}
