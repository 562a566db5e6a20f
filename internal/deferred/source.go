package deferred

import (
	"context"

	"linkcore/pkg/domain"
)

// Element is a member of a deferred relation. Elements are compared by their
// persisted id once saved and by reference before that, so implementations
// are expected to be pointer types.
type Element interface {
	comparable
	RecordID() string
	Persisted() bool
}

// Loader materializes and invalidates the persisted side of a relation.
type Loader[E Element] interface {
	// FetchAll returns the persisted members in relation order.
	FetchAll(ctx context.Context) ([]E, error)
	// Reload drops any state the source cached. It must not fetch.
	Reload(ctx context.Context) error
}

// Counter answers cheap questions about the persisted members without
// materializing them.
type Counter[E Element] interface {
	Count(ctx context.Context) (int, error)
	First(ctx context.Context) (E, bool, error)
	Last(ctx context.Context) (E, bool, error)
	IsEmpty(ctx context.Context) (bool, error)
}

// Creator persists a new member immediately, bypassing deferral.
type Creator[E Element] interface {
	// Create reports validation failures through the returned result and
	// reserves the error for infrastructure problems.
	Create(ctx context.Context, elem E) (E, domain.Result, error)
	// CreateOrFail returns a domain.RuleViolationError on validation failure.
	CreateOrFail(ctx context.Context, elem E) (E, error)
}

// Querier resolves members by id or query without loading the relation.
type Querier[E Element] interface {
	// Find looks up a persisted member of this relation.
	Find(ctx context.Context, id string) (E, bool, error)
	// Where filters persisted members with a source specific query.
	Where(ctx context.Context, query string) ([]E, error)
	// Lookup resolves ids against the whole child repository, not only the
	// current members. Unknown ids yield domain.ErrNotFound.
	Lookup(ctx context.Context, ids []string) ([]E, error)
}

// Source is the full capability set a Proxy consumes.
type Source[E Element] interface {
	Loader[E]
	Counter[E]
	Creator[E]
	Querier[E]
}
