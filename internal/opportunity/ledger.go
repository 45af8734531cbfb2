// Package opportunity keeps the append-only audit trail of attempted routes.
// Records are created Pending and finalized exactly once; a second finalize
// is rejected, which is the guard that keeps concurrent completion attempts
// from double-counting an outcome.
package opportunity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Ledger wraps an OpportunityStore with the lifecycle rules of the audit
// trail.
type Ledger struct {
	store  domain.OpportunityStore
	logger *slog.Logger
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store domain.OpportunityStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.With(slog.String("component", "opportunity_ledger")),
	}
}

// Record inserts a Pending record for the route and returns its id. The
// route is snapshotted as-is; later mutations by the caller do not affect
// the stored record.
func (l *Ledger) Record(ctx context.Context, route domain.Route) (int64, error) {
	rec := domain.OpportunityRecord{
		Route:     snapshotRoute(route),
		Status:    domain.OppPending,
		CreatedAt: time.Now().UTC(),
	}
	id, err := l.store.Insert(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("opportunity: record: %w", err)
	}
	return id, nil
}

// RecordRejected inserts a record that never reached Pending execution:
// validation failed before any external call. The record is terminal from
// birth.
func (l *Ledger) RecordRejected(ctx context.Context, route domain.Route, reason string) (int64, error) {
	now := time.Now().UTC()
	rec := domain.OpportunityRecord{
		Route:       snapshotRoute(route),
		Status:      domain.OppRejected,
		FailReason:  reason,
		CreatedAt:   now,
		FinalizedAt: &now,
	}
	id, err := l.store.Insert(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("opportunity: record rejected: %w", err)
	}
	return id, nil
}

// Finalize transitions a Pending record to a terminal status, exactly once.
// A second finalize on the same id fails with domain.ErrAlreadyFinalized.
func (l *Ledger) Finalize(ctx context.Context, id int64, status domain.OppStatus, profit int64, reason string) error {
	if !status.Terminal() {
		return fmt.Errorf("opportunity: finalize %d to non-terminal status %q", id, status)
	}
	if err := l.store.Finalize(ctx, id, status, profit, reason); err != nil {
		return fmt.Errorf("opportunity: finalize %d: %w", id, err)
	}
	l.logger.Info("opportunity finalized",
		slog.Int64("id", id),
		slog.String("status", string(status)),
		slog.Int64("profit", profit),
		slog.String("reason", reason),
	)
	return nil
}

// Get returns the record for the given id.
func (l *Ledger) Get(ctx context.Context, id int64) (domain.OpportunityRecord, error) {
	return l.store.GetByID(ctx, id)
}

// ListRecent returns the most recent records.
func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]domain.OpportunityRecord, error) {
	return l.store.ListRecent(ctx, limit)
}

// snapshotRoute deep-copies a route so the stored record is immune to caller
// mutation of the legs slice.
func snapshotRoute(r domain.Route) domain.Route {
	snap := r
	snap.Legs = make([]domain.Leg, len(r.Legs))
	copy(snap.Legs, r.Legs)
	return snap
}
