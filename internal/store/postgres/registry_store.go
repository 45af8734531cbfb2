package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// RegistryStore implements domain.RegistryStore using PostgreSQL.
type RegistryStore struct {
	pool *pgxpool.Pool
}

// NewRegistryStore creates a new RegistryStore.
func NewRegistryStore(pool *pgxpool.Pool) *RegistryStore {
	return &RegistryStore{pool: pool}
}

// Set upserts a counterparty's trust flag.
func (s *RegistryStore) Set(ctx context.Context, id string, trusted bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO registry_entries (id, trusted, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET trusted = EXCLUDED.trusted, updated_at = NOW()`,
		id, trusted,
	)
	if err != nil {
		return fmt.Errorf("postgres: set registry_entry %s: %w", id, err)
	}
	return nil
}

// Get returns the entry for the given counterparty.
func (s *RegistryStore) Get(ctx context.Context, id string) (domain.RegistryEntry, error) {
	var e domain.RegistryEntry
	err := s.pool.QueryRow(ctx,
		"SELECT id, trusted, updated_at FROM registry_entries WHERE id = $1", id,
	).Scan(&e.ID, &e.Trusted, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RegistryEntry{}, domain.ErrNotFound
		}
		return domain.RegistryEntry{}, fmt.Errorf("postgres: get registry_entry %s: %w", id, err)
	}
	return e, nil
}

// List returns all registry entries.
func (s *RegistryStore) List(ctx context.Context) ([]domain.RegistryEntry, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, trusted, updated_at FROM registry_entries ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("postgres: list registry_entries: %w", err)
	}
	defer rows.Close()

	var list []domain.RegistryEntry
	for rows.Next() {
		var e domain.RegistryEntry
		if err := rows.Scan(&e.ID, &e.Trusted, &e.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// Compile-time interface check.
var _ domain.RegistryStore = (*RegistryStore)(nil)
