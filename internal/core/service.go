package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Service exposes higher-level transactional operations for the tracker
// domain. The backing store is always injected explicitly; there is no
// ambient shared instance.
type Service struct {
	store   PersistentStore
	logger  zerolog.Logger
	metrics MetricsRecorder
	tracer  Tracer
	clock   Clock
}

// ServiceOption customises service construction.
type ServiceOption func(*Service)

// WithLogger wires a structured logger into the service.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithMetricsRecorder wires a metrics recorder into the service.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer wires a tracer into the service.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock overrides the service time source.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		logger:  zerolog.Nop(),
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// Events returns the hub announcing committed transactions.
func (s *Service) Events() *Hub { return s.store.Events() }

func (s *Service) run(ctx context.Context, operation string, fn func(Transaction) error) (Result, error) {
	ctx, span := s.tracer.Start(ctx, operation)
	started := s.clock.Now()
	res, err := s.store.RunInTransaction(ctx, fn)
	duration := s.clock.Now().Sub(started)
	span.End(err)
	s.metrics.Observe(ctx, operation, err == nil, duration)

	switch {
	case err != nil:
		s.logger.Error().Err(err).Str("operation", operation).Dur("duration", duration).Msg("transaction failed")
	case len(res.Violations) > 0:
		s.logger.Warn().Str("operation", operation).Int("violations", len(res.Violations)).Msg("transaction committed with violations")
	default:
		s.logger.Debug().Str("operation", operation).Dur("duration", duration).Msg("transaction committed")
	}
	return res, err
}

// AddExpense persists a new expense item.
func (s *Service) AddExpense(ctx context.Context, expense Expense) (Expense, Result, error) {
	var created Expense
	res, err := s.run(ctx, "add_expense", func(tx Transaction) error {
		var err error
		created, err = tx.AddExpense(expense)
		return err
	})
	return created, res, err
}

// UpdateExpense replaces an expense using the provided mutator.
func (s *Service) UpdateExpense(ctx context.Context, id string, mutator func(*Expense) error) (Expense, Result, error) {
	var updated Expense
	res, err := s.run(ctx, "update_expense", func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateExpense(id, mutator)
		return err
	})
	return updated, res, err
}

// RemoveExpense deletes an expense. Removing an absent ID is a no-op; the
// bool reports whether anything was removed.
func (s *Service) RemoveExpense(ctx context.Context, id string) (bool, Result, error) {
	var removed bool
	res, err := s.run(ctx, "remove_expense", func(tx Transaction) error {
		removed = tx.RemoveExpense(id)
		return nil
	})
	return removed, res, err
}

// AddProspect persists a new prospect.
func (s *Service) AddProspect(ctx context.Context, prospect Prospect) (Prospect, Result, error) {
	var created Prospect
	res, err := s.run(ctx, "add_prospect", func(tx Transaction) error {
		var err error
		created, err = tx.AddProspect(prospect)
		return err
	})
	return created, res, err
}

// UpdateProspect replaces a prospect using the provided mutator.
func (s *Service) UpdateProspect(ctx context.Context, id string, mutator func(*Prospect) error) (Prospect, Result, error) {
	var updated Prospect
	res, err := s.run(ctx, "update_prospect", func(tx Transaction) error {
		var err error
		updated, err = tx.UpdateProspect(id, mutator)
		return err
	})
	return updated, res, err
}

// RemoveProspect deletes a prospect; absent IDs are a no-op.
func (s *Service) RemoveProspect(ctx context.Context, id string) (bool, Result, error) {
	var removed bool
	res, err := s.run(ctx, "remove_prospect", func(tx Transaction) error {
		removed = tx.RemoveProspect(id)
		return nil
	})
	return removed, res, err
}

// ToggleProspectContacted flips the contacted flag on an existing prospect.
func (s *Service) ToggleProspectContacted(ctx context.Context, id string) (Prospect, Result, error) {
	var updated Prospect
	res, err := s.run(ctx, "toggle_prospect_contacted", func(tx Transaction) error {
		var err error
		updated, err = tx.ToggleProspectContacted(id)
		return err
	})
	return updated, res, err
}

// ToggleFavorite flips membership of key in the favorites set. The bool
// reports whether the key is favorited after the call.
func (s *Service) ToggleFavorite(ctx context.Context, key string) (bool, Result, error) {
	var favorited bool
	res, err := s.run(ctx, "toggle_favorite", func(tx Transaction) error {
		var err error
		favorited, err = tx.ToggleFavorite(key)
		return err
	})
	return favorited, res, err
}

// RemoveFavorite deletes key from the favorites set; absent keys are a no-op.
func (s *Service) RemoveFavorite(ctx context.Context, key string) (bool, Result, error) {
	var removed bool
	res, err := s.run(ctx, "remove_favorite", func(tx Transaction) error {
		removed = tx.RemoveFavorite(key)
		return nil
	})
	return removed, res, err
}

// ContainsExpense reports whether an expense with the given ID is committed.
func (s *Service) ContainsExpense(id string) bool { return s.store.ContainsExpense(id) }

// ContainsProspect reports whether a prospect with the given ID is committed.
func (s *Service) ContainsProspect(id string) bool { return s.store.ContainsProspect(id) }

// ContainsFavorite reports whether key is favorited.
func (s *Service) ContainsFavorite(key string) bool { return s.store.ContainsFavorite(key) }
