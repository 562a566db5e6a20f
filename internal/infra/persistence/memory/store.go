// Package memory provides an in-memory implementation of the core persistence
// store used for tests, ephemeral environments, and as the transactional
// engine behind the snapshotting SQL stores.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"linkcore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	records map[domain.EntityType]map[string]json.RawMessage
	order   map[domain.EntityType][]string
	links   map[string]map[string][]string
}

// Snapshot captures a point-in-time clone of the store state. Records are
// keyed by entity type then id, Order keeps insertion order per entity type,
// and Links maps relation name to parent id to ordered child ids.
type Snapshot struct {
	Records map[domain.EntityType]map[string]json.RawMessage `json:"records"`
	Order   map[domain.EntityType][]string                   `json:"order"`
	Links   map[string]map[string][]string                   `json:"links"`
}

func newMemoryState() memoryState {
	state := memoryState{
		records: make(map[domain.EntityType]map[string]json.RawMessage),
		order:   make(map[domain.EntityType][]string),
		links:   make(map[string]map[string][]string),
	}
	for _, entity := range domain.EntityTypes() {
		state.records[entity] = make(map[string]json.RawMessage)
	}
	for _, rel := range domain.Relations() {
		state.links[rel.Name] = make(map[string][]string)
	}
	return state
}

func (s memoryState) clone() memoryState {
	cp := memoryState{
		records: make(map[domain.EntityType]map[string]json.RawMessage, len(s.records)),
		order:   make(map[domain.EntityType][]string, len(s.order)),
		links:   make(map[string]map[string][]string, len(s.links)),
	}
	for entity, rows := range s.records {
		// Row payloads are never mutated in place, so sharing them is safe.
		cp.records[entity] = maps.Clone(rows)
	}
	for entity, ids := range s.order {
		cp.order[entity] = slices.Clone(ids)
	}
	for rel, parents := range s.links {
		table := make(map[string][]string, len(parents))
		for parent, children := range parents {
			table[parent] = slices.Clone(children)
		}
		cp.links[rel] = table
	}
	return cp
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cp := state.clone()
	return Snapshot{Records: cp.records, Order: cp.order, Links: cp.links}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for entity, rows := range s.Records {
		if state.records[entity] == nil {
			state.records[entity] = make(map[string]json.RawMessage, len(rows))
		}
		for id, raw := range rows {
			state.records[entity][id] = slices.Clone(raw)
		}
	}
	for entity, ids := range s.Order {
		state.order[entity] = slices.Clone(ids)
	}
	for rel, parents := range s.Links {
		if state.links[rel] == nil {
			state.links[rel] = make(map[string][]string, len(parents))
		}
		for parent, children := range parents {
			state.links[rel][parent] = slices.Clone(children)
		}
	}
	return migrateSnapshotOrder(state)
}

// migrateSnapshotOrder repairs order lists from older snapshots: ids missing
// from the order are appended sorted, stale ids are dropped.
func migrateSnapshotOrder(state memoryState) memoryState {
	for entity, rows := range state.records {
		ordered := slices.DeleteFunc(state.order[entity], func(id string) bool {
			_, ok := rows[id]
			return !ok
		})
		seen := make(map[string]struct{}, len(ordered))
		for _, id := range ordered {
			seen[id] = struct{}{}
		}
		var missing []string
		for id := range rows {
			if _, ok := seen[id]; !ok {
				missing = append(missing, id)
			}
		}
		slices.Sort(missing)
		state.order[entity] = append(ordered, missing...)
	}
	return state
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	idFn   func() string
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
		idFn:   uuid.NewString,
	}
}

// SetNowFunc overrides the clock used to stamp records.
func (s *Store) SetNowFunc(now func() time.Time) {
	if now == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = now
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// transaction represents a mutation set applied to a cloned store state.
type transaction struct {
	store     *Store
	state     memoryState
	changes   []Change
	now       time.Time
	rollbacks []func()
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// Get returns the stored row for id.
func (v transactionView) Get(entity domain.EntityType, id string) (json.RawMessage, bool) {
	raw, ok := v.state.records[entity][id]
	if !ok {
		return nil, false
	}
	return slices.Clone(raw), true
}

// List returns every row of entity in insertion order.
func (v transactionView) List(entity domain.EntityType) []json.RawMessage {
	rows := v.state.records[entity]
	out := make([]json.RawMessage, 0, len(rows))
	for _, id := range v.state.order[entity] {
		if raw, ok := rows[id]; ok {
			out = append(out, slices.Clone(raw))
		}
	}
	return out
}

// LinkedIDs returns the child ids linked to parentID in link order.
func (v transactionView) LinkedIDs(rel domain.Relation, parentID string) []string {
	return slices.Clone(v.state.links[rel.Name][parentID])
}

// LinkedParents returns the parent ids that have at least one link, sorted.
func (v transactionView) LinkedParents(rel domain.Relation) []string {
	out := make([]string, 0, len(v.state.links[rel.Name]))
	for parent, children := range v.state.links[rel.Name] {
		if len(children) > 0 {
			out = append(out, parent)
		}
	}
	slices.Sort(out)
	return out
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Records stamped by Insert or Update get their previous identity back when
// fn fails or the rules engine blocks the commit.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (_ Result, retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	defer func() {
		if retErr != nil {
			tx.rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// Get returns a committed row.
func (s *Store) Get(entity domain.EntityType, id string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).Get(entity, id)
}

// List returns committed rows of entity in insertion order.
func (s *Store) List(entity domain.EntityType) []json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).List(entity)
}

// LinkedIDs returns committed child ids of parentID.
func (s *Store) LinkedIDs(rel domain.Relation, parentID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).LinkedIDs(rel, parentID)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) rollback() {
	for i := len(tx.rollbacks) - 1; i >= 0; i-- {
		tx.rollbacks[i]()
	}
	tx.rollbacks = nil
}

func (tx *transaction) view() transactionView { return transactionView{state: &tx.state} }

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	snapshot := tx.state.clone()
	return newTransactionView(&snapshot)
}

func (tx *transaction) Get(entity domain.EntityType, id string) (json.RawMessage, bool) {
	return tx.view().Get(entity, id)
}

func (tx *transaction) List(entity domain.EntityType) []json.RawMessage {
	return tx.view().List(entity)
}

func (tx *transaction) LinkedIDs(rel domain.Relation, parentID string) []string {
	return tx.view().LinkedIDs(rel, parentID)
}

func (tx *transaction) LinkedParents(rel domain.Relation) []string {
	return tx.view().LinkedParents(rel)
}

func (tx *transaction) rows(entity domain.EntityType) (map[string]json.RawMessage, error) {
	rows, ok := tx.state.records[entity]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}
	return rows, nil
}

// Insert stores a new record, stamping it with a fresh id unless it already
// carries one.
func (tx *transaction) Insert(rec domain.Record) error {
	entity := rec.EntityType()
	rows, err := tx.rows(entity)
	if err != nil {
		return err
	}
	id := rec.RecordID()
	if id == "" {
		id = tx.store.idFn()
	}
	if _, exists := rows[id]; exists {
		return fmt.Errorf("%s %q already exists", entity, id)
	}
	prev := rec.Identity()
	rec.Stamp(id, tx.now)
	tx.rollbacks = append(tx.rollbacks, func() { rec.RestoreIdentity(prev) })

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", entity, err)
	}
	rows[id] = raw
	tx.state.order[entity] = append(tx.state.order[entity], id)
	tx.recordChange(Change{Entity: entity, Action: domain.ActionCreate, After: rec})
	return nil
}

// Update overwrites an existing row and refreshes UpdatedAt.
func (tx *transaction) Update(rec domain.Record) error {
	entity := rec.EntityType()
	rows, err := tx.rows(entity)
	if err != nil {
		return err
	}
	id := rec.RecordID()
	before, ok := rows[id]
	if !ok {
		return domain.ErrNotFound{Entity: entity, ID: id}
	}
	prev := rec.Identity()
	rec.Stamp(id, tx.now)
	tx.rollbacks = append(tx.rollbacks, func() { rec.RestoreIdentity(prev) })

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", entity, err)
	}
	rows[id] = raw
	tx.recordChange(Change{Entity: entity, Action: domain.ActionUpdate, Before: before, After: rec})
	return nil
}

// Delete removes a row and every link that references it.
func (tx *transaction) Delete(entity domain.EntityType, id string) error {
	rows, err := tx.rows(entity)
	if err != nil {
		return err
	}
	before, ok := rows[id]
	if !ok {
		return domain.ErrNotFound{Entity: entity, ID: id}
	}
	delete(rows, id)
	tx.state.order[entity] = slices.DeleteFunc(tx.state.order[entity], func(existing string) bool { return existing == id })
	for _, rel := range domain.Relations() {
		table := tx.state.links[rel.Name]
		if rel.Parent == entity {
			delete(table, id)
		}
		if rel.Child == entity {
			for parent, children := range table {
				table[parent] = slices.DeleteFunc(children, func(child string) bool { return child == id })
			}
		}
	}
	tx.recordChange(Change{Entity: entity, Action: domain.ActionDelete, Before: before})
	return nil
}

// Link appends childID to parentID's link list. Linking an existing pair is
// a no-op.
func (tx *transaction) Link(rel domain.Relation, parentID, childID string) error {
	if _, ok := tx.state.records[rel.Parent][parentID]; !ok {
		return domain.ErrNotFound{Entity: rel.Parent, ID: parentID}
	}
	if _, ok := tx.state.records[rel.Child][childID]; !ok {
		return domain.ErrNotFound{Entity: rel.Child, ID: childID}
	}
	table := tx.state.links[rel.Name]
	if table == nil {
		return fmt.Errorf("unknown relation %q", rel.Name)
	}
	if slices.Contains(table[parentID], childID) {
		return nil
	}
	table[parentID] = append(table[parentID], childID)
	tx.recordChange(Change{
		Entity: domain.EntityLink,
		Action: domain.ActionLink,
		After:  domain.LinkChange{Relation: rel.Name, ParentID: parentID, ChildID: childID},
	})
	return nil
}

// Unlink removes the pair and reports whether it existed.
func (tx *transaction) Unlink(rel domain.Relation, parentID, childID string) (bool, error) {
	table := tx.state.links[rel.Name]
	if table == nil {
		return false, fmt.Errorf("unknown relation %q", rel.Name)
	}
	children := table[parentID]
	idx := slices.Index(children, childID)
	if idx < 0 {
		return false, nil
	}
	table[parentID] = slices.Delete(children, idx, idx+1)
	if len(table[parentID]) == 0 {
		delete(table, parentID)
	}
	tx.recordChange(Change{
		Entity: domain.EntityLink,
		Action: domain.ActionUnlink,
		Before: domain.LinkChange{Relation: rel.Name, ParentID: parentID, ChildID: childID},
	})
	return true, nil
}
