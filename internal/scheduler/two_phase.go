package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// StrategyTwoPhase and StrategyFused name the built-in strategies.
const (
	StrategyTwoPhase = "two_phase"
	StrategyFused    = "fused"
)

// TwoPhaseConfig tunes the two-phase strategy.
type TwoPhaseConfig struct {
	// BatchSize is how many accounts are evaluated concurrently.
	BatchSize int
	// TopN is how many queued opportunities phase two executes.
	TopN int
	// ExecutionPacing is waited between executions.
	ExecutionPacing time.Duration
}

// TwoPhase evaluates every account into the queue, then executes the
// highest-priority queued opportunities one at a time.
type TwoPhase struct {
	cfg     TwoPhaseConfig
	scanner *Scanner
	queue   domain.OpportunityQueue
	exec    Executor
	logger  *slog.Logger
}

// NewTwoPhase creates the two-phase strategy.
func NewTwoPhase(cfg TwoPhaseConfig, scanner *Scanner, queue domain.OpportunityQueue, exec Executor, logger *slog.Logger) *TwoPhase {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	return &TwoPhase{
		cfg:     cfg,
		scanner: scanner,
		queue:   queue,
		exec:    exec,
		logger:  logger.With(slog.String("component", "two_phase")),
	}
}

// Name implements Strategy.
func (t *TwoPhase) Name() string { return StrategyTwoPhase }

// RunCycle runs Evaluate followed by ExecuteTop(TopN). An evaluation error
// does not prevent executing what is already queued.
func (t *TwoPhase) RunCycle(ctx context.Context) (domain.CycleSummary, error) {
	sum, evalErr := t.Evaluate(ctx)
	if ctx.Err() != nil {
		sum.Aborted = true
		return sum, evalErr
	}
	execSum, execErr := t.ExecuteTop(ctx, t.cfg.TopN)
	sum.Merge(execSum)
	return sum, errors.Join(evalErr, execErr)
}

// Evaluate is phase one. Accounts are scanned in batches of BatchSize, each
// batch concurrently, and every accepted opportunity is pushed to the queue.
func (t *TwoPhase) Evaluate(ctx context.Context) (domain.CycleSummary, error) {
	var sum domain.CycleSummary

	accounts, best, err := t.scanner.prepare(ctx)
	if err != nil {
		sum.Errors = append(sum.Errors, err.Error())
		return sum, err
	}
	t.logger.InfoContext(ctx, "evaluation started",
		slog.Int("accounts", len(accounts)),
		slog.String("best_vault", best.Address),
		slog.Float64("best_net_apy", best.NetAPY),
	)

	for start := 0; start < len(accounts); start += t.cfg.BatchSize {
		if ctx.Err() != nil {
			sum.Aborted = true
			break
		}
		end := min(start+t.cfg.BatchSize, len(accounts))
		batch := accounts[start:end]
		scans := make([]accountScan, len(batch))

		var g errgroup.Group
		for i, acct := range batch {
			g.Go(func() error {
				scans[i] = t.scanner.scanAccount(ctx, acct, best)
				return nil
			})
		}
		_ = g.Wait()

		for _, sc := range scans {
			sc.fold(&sum)
			for _, opp := range sc.opportunities {
				if err := t.queue.Push(ctx, opp); err != nil {
					sum.Errors = append(sum.Errors, fmt.Sprintf("%s: queue push: %s", sc.account, err.Error()))
					t.logger.ErrorContext(ctx, "queue push failed",
						slog.String("opportunity_id", opp.ID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}

	t.logger.InfoContext(ctx, "evaluation finished",
		slog.Int("accounts_checked", sum.AccountsChecked),
		slog.Int("opportunities_found", sum.OpportunitiesFound),
		slog.Int("skipped", sum.Skipped),
	)
	return sum, nil
}

// ExecuteTop is phase two: the n highest-priority opportunities are executed
// sequentially with ExecutionPacing between attempts. A failure never stops
// the remaining executions.
func (t *TwoPhase) ExecuteTop(ctx context.Context, n int) (domain.CycleSummary, error) {
	var sum domain.CycleSummary

	top, err := t.queue.Top(ctx, n)
	if err != nil {
		err = fmt.Errorf("scheduler: queue top: %w", err)
		sum.Errors = append(sum.Errors, err.Error())
		return sum, err
	}

	for i, opp := range top {
		if i > 0 {
			if err := pause(ctx, t.cfg.ExecutionPacing); err != nil {
				sum.Aborted = true
				break
			}
		}
		executeOne(ctx, t.exec, opp, &sum, t.logger)
	}
	return sum, nil
}
