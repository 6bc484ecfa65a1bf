package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// FusedConfig tunes the fused strategy.
type FusedConfig struct {
	// ExecutionPacing is waited between executions.
	ExecutionPacing time.Duration
	// AccountPacing is waited between accounts.
	AccountPacing time.Duration
}

// Fused scans accounts one by one and executes each account's opportunities
// as soon as they are found, without the queue.
type Fused struct {
	cfg     FusedConfig
	scanner *Scanner
	exec    Executor
	logger  *slog.Logger
}

// NewFused creates the fused strategy.
func NewFused(cfg FusedConfig, scanner *Scanner, exec Executor, logger *slog.Logger) *Fused {
	return &Fused{
		cfg:     cfg,
		scanner: scanner,
		exec:    exec,
		logger:  logger.With(slog.String("component", "fused")),
	}
}

// Name implements Strategy.
func (f *Fused) Name() string { return StrategyFused }

// RunCycle implements Strategy.
func (f *Fused) RunCycle(ctx context.Context) (domain.CycleSummary, error) {
	var sum domain.CycleSummary

	accounts, best, err := f.scanner.prepare(ctx)
	if err != nil {
		sum.Errors = append(sum.Errors, err.Error())
		return sum, err
	}

	executed := 0
	for i, acct := range accounts {
		if i > 0 {
			if err := pause(ctx, f.cfg.AccountPacing); err != nil {
				sum.Aborted = true
				break
			}
		}
		if ctx.Err() != nil {
			sum.Aborted = true
			break
		}

		sc := f.scanner.scanAccount(ctx, acct, best)
		sc.fold(&sum)

		for _, opp := range sc.opportunities {
			if executed > 0 {
				if err := pause(ctx, f.cfg.ExecutionPacing); err != nil {
					sum.Aborted = true
					return sum, nil
				}
			}
			executeOne(ctx, f.exec, opp, &sum, f.logger)
			executed++
		}
	}
	return sum, nil
}
