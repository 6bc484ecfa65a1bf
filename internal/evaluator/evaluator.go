// Package evaluator decides whether moving a position to the best available
// vault is worth doing and scores the resulting opportunity.
package evaluator

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

const daysPerYear = 365

// Weights blend near-term gain, position size and yield delta into a
// priority score. UninvestedBase is added on top for idle-balance moves.
type Weights struct {
	Gain           float64
	Size           float64
	Delta          float64
	UninvestedBase float64
	// FlatUninvested scores idle-balance moves as UninvestedBase alone,
	// without the ordinary formula.
	FlatUninvested bool
}

// DefaultWeights returns the reference weighting
// expectedGain*100 + usd/100 + apyDiff*10000, with a 1000 bonus for idle
// balance. The bonus is added to the ordinary score so a large idle balance
// still outranks a rebalance of the same size; set FlatUninvested for a
// constant 1000 instead.
func DefaultWeights() Weights {
	return Weights{Gain: 100, Size: 0.01, Delta: 10000, UninvestedBase: 1000}
}

// Policy holds the thresholds applied by Evaluate. Yields are decimal
// fractions (0.005 is half a percentage point).
type Policy struct {
	MinAPYDelta       float64
	MinPositionUSD    float64
	Cooldown          time.Duration
	FixedCostUSD      float64
	ProfitMultiplier  float64
	MinIdleBalanceUSD float64
	Weights           Weights
}

// DefaultPolicy returns the reference policy.
func DefaultPolicy() Policy {
	return Policy{
		MinAPYDelta:       0.005,
		MinPositionUSD:    100,
		Cooldown:          12 * time.Hour,
		FixedCostUSD:      0.10,
		ProfitMultiplier:  3,
		MinIdleBalanceUSD: 1,
		Weights:           DefaultWeights(),
	}
}

// Decision is either an accepted Opportunity or a rejection reason.
type Decision struct {
	Accepted    bool
	Opportunity domain.Opportunity
	Reason      string
}

func accept(o domain.Opportunity) Decision { return Decision{Accepted: true, Opportunity: o} }

func reject(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Evaluator applies a Policy. It holds no state besides the clock and is
// safe for concurrent use.
type Evaluator struct {
	policy Policy
	now    func() time.Time
}

// Option customises an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the time source used to stamp opportunities.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// New creates an Evaluator for p.
func New(p Policy, opts ...Option) *Evaluator {
	e := &Evaluator{policy: p, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Policy returns the policy in effect.
func (e *Evaluator) Policy() Policy { return e.policy }

// InBestVault reports whether pos already sits in best. Callers filter such
// positions out before calling Evaluate.
func InBestVault(pos domain.Position, best domain.Vault) bool {
	return pos.InVault(best)
}

// Evaluate checks, in order, yield delta, position size and profitability
// within one cooldown window, and returns the first failing check as a
// rejection.
func (e *Evaluator) Evaluate(acct domain.Account, pos domain.Position, best domain.Vault) Decision {
	p := e.policy

	if InBestVault(pos, best) {
		return reject("Already in best vault")
	}

	apyDiff := best.NetAPY - pos.CurrentAPY
	if apyDiff < p.MinAPYDelta {
		return reject("APY difference too small (%.2f%%)", apyDiff*100)
	}

	if pos.AmountUSD < p.MinPositionUSD {
		return reject("Position too small ($%.2f)", pos.AmountUSD)
	}
	if !pos.AmountRaw.IsPositive() {
		return reject("Position amount not positive (%q)", string(pos.AmountRaw))
	}

	gain := ExpectedGain(pos.AmountUSD, apyDiff, p.Cooldown)
	threshold := p.FixedCostUSD * p.ProfitMultiplier
	if gain < threshold {
		return reject("Not profitable enough (expected $%.4f vs $%.2f threshold)", gain, threshold)
	}

	created := e.now().UTC()
	opp := domain.Opportunity{
		ID:                 domain.OpportunityID(acct.Address, pos.VaultAddress, best.Address, created),
		Kind:               domain.KindRebalance,
		Account:            domain.NormalizeAddress(acct.Address),
		KeyID:              acct.KeyID,
		FromProtocol:       pos.Protocol,
		FromVault:          pos.VaultAddress,
		FromVaultName:      pos.VaultName,
		ToProtocol:         best.Protocol,
		ToVault:            best.Address,
		ToVaultName:        best.Name,
		AmountRaw:          pos.AmountRaw,
		SharesRaw:          pos.SharesRaw,
		AmountUSD:          pos.AmountUSD,
		CurrentAPY:         pos.CurrentAPY,
		TargetAPY:          best.NetAPY,
		APYDiff:            apyDiff,
		ExpectedGain:       gain,
		ExpectedYearlyGain: pos.AmountUSD * apyDiff,
		CreatedAt:          created,
	}
	opp.Priority = Score(opp, p.Weights)
	return accept(opp)
}

// EvaluateIdle synthesizes an uninvested-balance opportunity when the
// account holds more than MinIdleBalanceUSD of spendable balance.
func (e *Evaluator) EvaluateIdle(acct domain.Account, bal domain.Balance, best domain.Vault) Decision {
	p := e.policy

	if bal.AmountUSD <= p.MinIdleBalanceUSD {
		return reject("Idle balance below threshold ($%.2f)", bal.AmountUSD)
	}
	if !bal.AmountRaw.IsPositive() {
		return reject("Idle balance amount not positive (%q)", string(bal.AmountRaw))
	}
	if best.NetAPY < 0 {
		return reject("Best vault yield negative (%.2f%%)", best.NetAPY*100)
	}

	created := e.now().UTC()
	opp := domain.Opportunity{
		ID:                 domain.OpportunityID(acct.Address, domain.ProtocolWallet, best.Address, created),
		Kind:               domain.KindUninvested,
		Account:            domain.NormalizeAddress(acct.Address),
		KeyID:              acct.KeyID,
		FromProtocol:       domain.ProtocolWallet,
		FromVault:          domain.ProtocolWallet,
		ToProtocol:         best.Protocol,
		ToVault:            best.Address,
		ToVaultName:        best.Name,
		AmountRaw:          bal.AmountRaw,
		AmountUSD:          bal.AmountUSD,
		CurrentAPY:         0,
		TargetAPY:          best.NetAPY,
		APYDiff:            best.NetAPY,
		ExpectedGain:       ExpectedGain(bal.AmountUSD, best.NetAPY, p.Cooldown),
		ExpectedYearlyGain: bal.AmountUSD * best.NetAPY,
		CreatedAt:          created,
	}
	opp.Priority = Score(opp, p.Weights)
	return accept(opp)
}

// ExpectedGain is the USD gained over one cooldown window, the earliest
// point at which another move could happen anyway.
func ExpectedGain(usd, apyDiff float64, window time.Duration) float64 {
	return (usd * apyDiff / daysPerYear) * (window.Hours() / 24)
}

// Score computes the priority of o from its own fields. It is pure: the same
// opportunity always scores the same.
func Score(o domain.Opportunity, w Weights) float64 {
	if o.IsUninvested() && w.FlatUninvested {
		return w.UninvestedBase
	}
	s := o.ExpectedGain*w.Gain + o.AmountUSD*w.Size + o.APYDiff*w.Delta
	if o.IsUninvested() {
		s += w.UninvestedBase
	}
	return s
}
