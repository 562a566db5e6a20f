// Package core wires parent records, their deferred relations, and the save
// routine that persists pending link changes through a PersistentStore.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"linkcore/internal/infra/persistence/memory"
	"linkcore/internal/journal"
	"linkcore/pkg/domain"
)

// Service exposes parent records and transactional saves over a store.
type Service struct {
	store   PersistentStore
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	journal *journal.Recorder
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Service{
		store:   store,
		logger:  cfg.logger,
		clock:   cfg.clock,
		metrics: cfg.metrics,
		tracer:  cfg.tracer,
		journal: cfg.journal,
	}
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// Journal returns the save journal, or nil when none is configured.
func (s *Service) Journal() *journal.Recorder { return s.journal }

// CreateOrganism validates and persists a standalone organism.
func (s *Service) CreateOrganism(ctx context.Context, organism *Organism) (Result, error) {
	return s.create(ctx, "create_organism", organism)
}

// CreateFacility validates and persists a standalone facility.
func (s *Service) CreateFacility(ctx context.Context, facility *Facility) (Result, error) {
	return s.create(ctx, "create_facility", facility)
}

func (s *Service) create(ctx context.Context, op string, rec domain.Record) (Result, error) {
	return s.run(ctx, op, func(ctx context.Context) (Result, error) {
		if res := domain.ValidateRecord(rec); res.HasBlocking() {
			return res, RuleViolationError{Result: res}
		}
		return s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.Insert(rec)
		})
	})
}

// run brackets an operation with a span, a metrics observation and an
// outcome log line.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (Result, error)) (res Result, err error) {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	defer func() {
		span.End(err)
		s.metrics.Observe(ctx, op, err == nil, s.clock.Now().Sub(start))
		var violation RuleViolationError
		switch {
		case err == nil:
			s.logger.Debug("operation completed", "operation", op)
		case errors.As(err, &violation):
			s.logger.Warn("operation blocked", "operation", op, "violations", len(violation.Result.Violations))
		default:
			s.logger.Error("operation failed", "operation", op, "error", err)
		}
	}()
	return fn(ctx)
}

func (s *Service) now() time.Time { return s.clock.Now() }

func load[T any](ctx context.Context, store PersistentStore, entity EntityType, id string) (*T, error) {
	var raw json.RawMessage
	var ok bool
	if err := store.View(ctx, func(view TransactionView) error {
		raw, ok = view.Get(entity, id)
		return nil
	}); err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound{Entity: entity, ID: id}
	}
	return domain.Decode[T](raw)
}
