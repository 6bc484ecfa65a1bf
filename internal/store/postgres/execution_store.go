package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL. Each
// attempt is one executions row plus one execution_steps row per custody
// call.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `id, opportunity, success, reference, failed_step, error, completed_at`

// Record inserts the attempt and its steps in one transaction and returns
// the generated execution ID.
func (s *ExecutionStore) Record(ctx context.Context, entry domain.HistoryEntry) (string, error) {
	opp := entry.Opportunity
	oppJSON, err := json.Marshal(opp)
	if err != nil {
		return "", fmt.Errorf("postgres: marshal opportunity: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := uuid.NewString()
	res := entry.Result
	_, err = tx.Exec(ctx, `
		INSERT INTO executions (id, opportunity_id, kind, account, from_protocol, from_vault, to_protocol, to_vault,
			amount_raw, amount_usd, apy_diff, expected_yearly_gain, priority, success, reference, failed_step, error,
			opportunity, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		id, opp.ID, string(opp.Kind), domain.NormalizeAddress(opp.Account),
		opp.FromProtocol, opp.FromVault, opp.ToProtocol, opp.ToVault,
		string(opp.AmountRaw), opp.AmountUSD, opp.APYDiff, opp.ExpectedYearlyGain, opp.Priority,
		res.Success, nullable(string(res.Reference)), nullable(string(res.FailedStep)), nullable(res.Error),
		oppJSON, entry.CompletedAt,
	)
	if err != nil {
		return "", fmt.Errorf("postgres: insert execution: %w", err)
	}

	for i, st := range res.Steps {
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_steps (execution_id, seq, step, tx_ref, error, started_at, duration_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, i, string(st.Step), nullable(string(st.TxRef)), nullable(st.Error),
			st.StartedAt, st.Duration.Milliseconds(),
		)
		if err != nil {
			return "", fmt.Errorf("postgres: insert execution step: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("postgres: commit execution: %w", err)
	}
	return id, nil
}

// GetByID returns one execution with its steps.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionRecord, error) {
	rec, err := scanExecution(s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT step, tx_ref, error, started_at, duration_ms
		FROM execution_steps WHERE execution_id = $1 ORDER BY seq`, id)
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			st         domain.StepResult
			step       string
			ref, msg   *string
			durationMS int64
		)
		if err := rows.Scan(&step, &ref, &msg, &st.StartedAt, &durationMS); err != nil {
			return domain.ExecutionRecord{}, fmt.Errorf("postgres: scan execution step: %w", err)
		}
		st.Step = domain.Step(step)
		st.TxRef = domain.TxRef(deref(ref))
		st.Error = deref(msg)
		st.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Result.Steps = append(rec.Result.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: execution steps rows: %w", err)
	}
	return rec, nil
}

// ListRecent returns the newest executions without their steps.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(ctx, `SELECT `+executionColumns+` FROM executions ORDER BY completed_at DESC LIMIT $1`, limit)
}

// ListBefore returns every execution completed strictly before the cutoff,
// oldest first. Used by the archiver.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error) {
	return s.list(ctx, `SELECT `+executionColumns+` FROM executions WHERE completed_at < $1 ORDER BY completed_at`, before)
}

// DeleteBefore removes executions (and, by cascade, their steps) completed
// before the cutoff. Run only after the archive upload succeeded.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE completed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SumValueMoved returns the USD value of successful executions since the
// given time.
func (s *ExecutionStore) SumValueMoved(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_usd), 0) FROM executions WHERE success AND completed_at >= $1`, since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum executions value: %w", err)
	}
	return sum, nil
}

func (s *ExecutionStore) list(ctx context.Context, query string, arg any) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var list []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

func scanExecution(row pgx.Row) (domain.ExecutionRecord, error) {
	var (
		rec                    domain.ExecutionRecord
		oppJSON                []byte
		ref, failedStep, cause *string
	)
	if err := row.Scan(&rec.ID, &oppJSON, &rec.Result.Success, &ref, &failedStep, &cause, &rec.CompletedAt); err != nil {
		return domain.ExecutionRecord{}, err
	}
	if err := json.Unmarshal(oppJSON, &rec.Opportunity); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("unmarshal opportunity: %w", err)
	}
	rec.Result.Reference = domain.TxRef(deref(ref))
	rec.Result.FailedStep = domain.Step(deref(failedStep))
	rec.Result.Error = deref(cause)
	return rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
