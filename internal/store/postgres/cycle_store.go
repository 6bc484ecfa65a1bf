package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// CycleStore implements domain.CycleStore using PostgreSQL.
type CycleStore struct {
	pool *pgxpool.Pool
}

// NewCycleStore creates a new CycleStore.
func NewCycleStore(pool *pgxpool.Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

// Insert stores a finished cycle summary. Re-inserting the same ID is a no-op.
func (s *CycleStore) Insert(ctx context.Context, c domain.CycleSummary) error {
	errsJSON, err := json.Marshal(c.Errors)
	if err != nil {
		return fmt.Errorf("postgres: marshal cycle errors: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO cycle_runs (id, strategy, started_at, finished_at, accounts_checked, opportunities_found,
			skipped, executed, successful, failed, value_moved_usd, errors, aborted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`,
		c.ID, c.Strategy, c.StartedAt, c.FinishedAt, c.AccountsChecked, c.OpportunitiesFound,
		c.Skipped, c.Executed, c.Successful, c.Failed, c.ValueMovedUSD, errsJSON, c.Aborted,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cycle %s: %w", c.ID, err)
	}
	return nil
}

// ListRecent returns the newest cycle summaries.
func (s *CycleStore) ListRecent(ctx context.Context, limit int) ([]domain.CycleSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, strategy, started_at, finished_at, accounts_checked, opportunities_found,
			skipped, executed, successful, failed, value_moved_usd, errors, aborted
		FROM cycle_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cycles: %w", err)
	}
	defer rows.Close()

	var list []domain.CycleSummary
	for rows.Next() {
		var c domain.CycleSummary
		var errsJSON []byte
		if err := rows.Scan(&c.ID, &c.Strategy, &c.StartedAt, &c.FinishedAt, &c.AccountsChecked,
			&c.OpportunitiesFound, &c.Skipped, &c.Executed, &c.Successful, &c.Failed,
			&c.ValueMovedUSD, &errsJSON, &c.Aborted); err != nil {
			return nil, fmt.Errorf("postgres: scan cycle: %w", err)
		}
		if len(errsJSON) > 0 {
			if err := json.Unmarshal(errsJSON, &c.Errors); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal cycle errors: %w", err)
			}
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

var _ domain.CycleStore = (*CycleStore)(nil)
