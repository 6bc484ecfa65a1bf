package executor

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// step is one custody call in a plan plus the pause that must follow it
// before the next dependent call.
type step struct {
	name   domain.Step
	submit func(ctx context.Context) (domain.TxRef, error)
	settle time.Duration
}

// buildPlan returns the ordered steps for opp. Uninvested moves skip the
// withdraw because funds already sit in the wallet.
func (e *Executor) buildPlan(opp domain.Opportunity) ([]step, error) {
	amount, err := opp.AmountRaw.BigInt()
	if err != nil {
		return nil, fmt.Errorf("executor: amount: %w", err)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("executor: amount %s: %w", opp.AmountRaw, domain.ErrInvalidAmount)
	}

	acct := domain.Account{Address: opp.Account, KeyID: opp.KeyID}
	dest := domain.VaultRef{Protocol: opp.ToProtocol, Address: opp.ToVault}

	approve := step{
		name: domain.StepApprove,
		submit: func(ctx context.Context) (domain.TxRef, error) {
			return e.custody.SubmitApprove(ctx, acct, dest, new(big.Int).Set(amount))
		},
		settle: e.cfg.StepConfirmationDelay,
	}
	deposit := step{
		name: domain.StepDeposit,
		submit: func(ctx context.Context) (domain.TxRef, error) {
			return e.custody.SubmitDeposit(ctx, acct, dest, new(big.Int).Set(amount))
		},
	}

	if opp.IsUninvested() {
		return []step{approve, deposit}, nil
	}

	wa := domain.WithdrawAmount{Assets: amount}
	if opp.SharesRaw != "" {
		shares, err := opp.SharesRaw.BigInt()
		if err != nil {
			return nil, fmt.Errorf("executor: shares: %w", err)
		}
		if shares.Sign() > 0 {
			wa.Shares = shares
		}
	}
	source := domain.VaultRef{Protocol: opp.FromProtocol, Address: opp.FromVault}
	withdraw := step{
		name: domain.StepWithdraw,
		submit: func(ctx context.Context) (domain.TxRef, error) {
			return e.custody.SubmitWithdraw(ctx, acct, source, wa)
		},
		settle: e.cfg.WithdrawConfirmationDelay,
	}
	return []step{withdraw, approve, deposit}, nil
}

// firstStep names the step that would have run first for opp. Used when the
// plan cannot be built at all.
func firstStep(opp domain.Opportunity) domain.Step {
	if opp.IsUninvested() {
		return domain.StepApprove
	}
	return domain.StepWithdraw
}
