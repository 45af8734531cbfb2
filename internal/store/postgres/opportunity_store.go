package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL. The
// table is append-only: rows are inserted Pending (or already terminal for
// rejected routes) and finalized at most once; nothing is ever deleted.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert creates a record and returns its monotonically increasing id.
func (s *OpportunityStore) Insert(ctx context.Context, rec domain.OpportunityRecord) (int64, error) {
	legs, err := json.Marshal(rec.Route.Legs)
	if err != nil {
		return 0, fmt.Errorf("postgres: marshal legs: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO opportunity_records (source_asset, loan_amount, min_profit, legs, status, realized_profit, fail_reason, created_at, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		rec.Route.SourceAsset, int64(rec.Route.LoanAmount), int64(rec.Route.MinProfit),
		legs, string(rec.Status), rec.RealizedProfit, rec.FailReason, rec.CreatedAt, rec.FinalizedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert opportunity_record: %w", err)
	}
	return id, nil
}

// Finalize transitions a Pending record to a terminal status. The
// status-conditional UPDATE is the one-shot guard: a second finalize matches
// no rows and is reported as ErrAlreadyFinalized.
func (s *OpportunityStore) Finalize(ctx context.Context, id int64, status domain.OppStatus, profit int64, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE opportunity_records
		SET status = $2, realized_profit = $3, fail_reason = $4, finalized_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		id, string(status), profit, reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: finalize opportunity_record %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM opportunity_records WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check opportunity_record %d: %w", id, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrAlreadyFinalized
	}
	return nil
}

// GetByID returns the record for the given id.
func (s *OpportunityStore) GetByID(ctx context.Context, id int64) (domain.OpportunityRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, source_asset, loan_amount, min_profit, legs, status, realized_profit, fail_reason, created_at, finalized_at
		FROM opportunity_records WHERE id = $1`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OpportunityRecord{}, domain.ErrNotFound
		}
		return domain.OpportunityRecord{}, fmt.Errorf("postgres: get opportunity_record %d: %w", id, err)
	}
	return rec, nil
}

// ListRecent returns the most recent records, newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.OpportunityRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_asset, loan_amount, min_profit, legs, status, realized_profit, fail_reason, created_at, finalized_at
		FROM opportunity_records ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunity_records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ListFinalizedBefore returns terminal records finalized strictly before the
// cutoff, oldest first, for archival.
func (s *OpportunityStore) ListFinalizedBefore(ctx context.Context, before time.Time) ([]domain.OpportunityRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_asset, loan_amount, min_profit, legs, status, realized_profit, fail_reason, created_at, finalized_at
		FROM opportunity_records
		WHERE finalized_at IS NOT NULL AND finalized_at < $1
		ORDER BY id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list finalized opportunity_records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]domain.OpportunityRecord, error) {
	var list []domain.OpportunityRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

func scanRecord(row pgx.Row) (domain.OpportunityRecord, error) {
	var (
		rec        domain.OpportunityRecord
		loanAmount int64
		minProfit  int64
		legsJSON   []byte
		status     string
	)
	err := row.Scan(&rec.ID, &rec.Route.SourceAsset, &loanAmount, &minProfit,
		&legsJSON, &status, &rec.RealizedProfit, &rec.FailReason, &rec.CreatedAt, &rec.FinalizedAt)
	if err != nil {
		return domain.OpportunityRecord{}, err
	}
	rec.Route.LoanAmount = uint64(loanAmount)
	rec.Route.MinProfit = uint64(minProfit)
	rec.Status = domain.OppStatus(status)
	if err := json.Unmarshal(legsJSON, &rec.Route.Legs); err != nil {
		return domain.OpportunityRecord{}, fmt.Errorf("unmarshal legs: %w", err)
	}
	return rec, nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
