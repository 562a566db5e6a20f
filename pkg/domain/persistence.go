package domain

import (
	"context"
	"encoding/json"
)

// TransactionView provides read-only access to stored rows and link tables.
// Rows are returned as JSON documents; callers decode them into the concrete
// record type they expect.
type TransactionView interface {
	Get(entity EntityType, id string) (json.RawMessage, bool)
	List(entity EntityType) []json.RawMessage
	LinkedIDs(rel Relation, parentID string) []string
	LinkedParents(rel Relation) []string
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	// Insert stores a new record and stamps its identity. The stamp is reverted
	// when the surrounding transaction does not commit.
	Insert(rec Record) error
	Update(rec Record) error
	// Delete removes the row and every link that references it.
	Delete(entity EntityType, id string) error
	Link(rel Relation, parentID, childID string) error
	Unlink(rel Relation, parentID, childID string) (bool, error)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Get(entity EntityType, id string) (json.RawMessage, bool)
	List(entity EntityType) []json.RawMessage
	LinkedIDs(rel Relation, parentID string) []string
}

// Decode unmarshals a stored row into a freshly allocated record.
func Decode[T any](raw json.RawMessage) (*T, error) {
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}
