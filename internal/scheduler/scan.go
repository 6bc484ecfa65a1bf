// Package scheduler drives rebalance cycles: it finds opportunities for
// every enrolled account and executes them under one of two strategies.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/yieldrebalancer/internal/cooldown"
	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/alanyoungcy/yieldrebalancer/internal/evaluator"
)

// Strategy runs one complete cycle.
type Strategy interface {
	Name() string
	RunCycle(ctx context.Context) (domain.CycleSummary, error)
}

// Gate decides whether an account may be considered this cycle.
type Gate interface {
	CanSubmit(ctx context.Context, account string) (cooldown.Verdict, error)
}

// Executor executes a single opportunity.
type Executor interface {
	Execute(ctx context.Context, opp domain.Opportunity) (domain.Result, error)
}

// Scanner finds opportunities for one account at a time. It is shared by
// both strategies.
type Scanner struct {
	registry  domain.AccountRegistry
	catalog   domain.VaultCatalog
	positions domain.PositionProvider
	balances  domain.BalanceProvider
	eval      *evaluator.Evaluator
	gate      Gate
	logger    *slog.Logger
}

// NewScanner wires a Scanner. balances may be nil, in which case idle wallet
// balances are never considered.
func NewScanner(
	registry domain.AccountRegistry,
	catalog domain.VaultCatalog,
	positions domain.PositionProvider,
	balances domain.BalanceProvider,
	eval *evaluator.Evaluator,
	gate Gate,
	logger *slog.Logger,
) *Scanner {
	return &Scanner{
		registry:  registry,
		catalog:   catalog,
		positions: positions,
		balances:  balances,
		eval:      eval,
		gate:      gate,
		logger:    logger.With(slog.String("component", "scanner")),
	}
}

// accountScan is the outcome of scanning one account.
type accountScan struct {
	account       string
	opportunities []domain.Opportunity
	rateLimited   bool
	reason        string
	errs          []string
}

// prepare loads the enrolled accounts and the best vault for this cycle.
func (s *Scanner) prepare(ctx context.Context) ([]domain.Account, domain.Vault, error) {
	accounts, err := s.registry.List(ctx)
	if err != nil {
		return nil, domain.Vault{}, fmt.Errorf("scheduler: list accounts: %w", err)
	}
	vaults, err := s.catalog.Eligible(ctx)
	if err != nil {
		return nil, domain.Vault{}, fmt.Errorf("scheduler: eligible vaults: %w", err)
	}
	if len(vaults) == 0 {
		return nil, domain.Vault{}, domain.ErrNoEligibleVaults
	}
	return accounts, vaults[0], nil
}

// scanAccount applies the cooldown gate, then the idle balance path, then
// evaluates every position not already in best. Uninvested opportunities
// come first in the result.
func (s *Scanner) scanAccount(ctx context.Context, acct domain.Account, best domain.Vault) accountScan {
	out := accountScan{account: acct.Address}
	log := s.logger.With(slog.String("account", acct.Address))

	verdict, err := s.gate.CanSubmit(ctx, acct.Address)
	if err != nil {
		out.errs = append(out.errs, fmt.Sprintf("%s: cooldown: %s", acct.Address, err.Error()))
		log.WarnContext(ctx, "cooldown check failed", slog.String("error", err.Error()))
		return out
	}
	if !verdict.Allowed {
		out.rateLimited = true
		out.reason = verdict.Reason
		log.DebugContext(ctx, "account rate limited", slog.String("reason", verdict.Reason))
		return out
	}

	if s.balances != nil {
		bal, err := s.balances.SpendableBalance(ctx, acct)
		if err != nil {
			out.errs = append(out.errs, fmt.Sprintf("%s: balance: %s", acct.Address, err.Error()))
			log.WarnContext(ctx, "balance lookup failed", slog.String("error", err.Error()))
		} else if d := s.eval.EvaluateIdle(acct, bal, best); d.Accepted {
			out.opportunities = append(out.opportunities, d.Opportunity)
			log.InfoContext(ctx, "uninvested balance found",
				slog.Float64("amount_usd", bal.AmountUSD),
				slog.String("to_vault", best.Address),
			)
		}
	}

	positions, err := s.positions.Positions(ctx, acct)
	if err != nil {
		out.errs = append(out.errs, fmt.Sprintf("%s: positions: %s", acct.Address, err.Error()))
		log.WarnContext(ctx, "position lookup failed", slog.String("error", err.Error()))
		return out
	}

	for _, pos := range positions {
		if evaluator.InBestVault(pos, best) {
			continue
		}
		d := s.eval.Evaluate(acct, pos, best)
		if !d.Accepted {
			log.DebugContext(ctx, "position rejected",
				slog.String("vault", pos.VaultAddress),
				slog.String("reason", d.Reason),
			)
			continue
		}
		out.opportunities = append(out.opportunities, d.Opportunity)
		log.InfoContext(ctx, "rebalance opportunity found",
			slog.String("from_vault", pos.VaultAddress),
			slog.String("to_vault", best.Address),
			slog.Float64("apy_diff", d.Opportunity.APYDiff),
			slog.Float64("priority", d.Opportunity.Priority),
		)
	}
	return out
}

// fold adds one account's scan into the summary.
func (sc accountScan) fold(sum *domain.CycleSummary) {
	sum.AccountsChecked++
	if sc.rateLimited {
		sum.Skipped++
	}
	sum.OpportunitiesFound += len(sc.opportunities)
	sum.Errors = append(sum.Errors, sc.errs...)
}
