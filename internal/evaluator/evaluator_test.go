package evaluator_test

import (
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/alanyoungcy/yieldrebalancer/internal/evaluator"
)

var (
	fixedNow = time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)
	acct     = domain.Account{Address: "0xAbC0000000000000000000000000000000000001", KeyID: "wallet-1"}
	best     = domain.Vault{Protocol: domain.ProtocolMorpho, Address: "0xBEST", Name: "Best USDC", NetAPY: 0.05}
)

func newEvaluator() *evaluator.Evaluator {
	return evaluator.New(evaluator.DefaultPolicy(), evaluator.WithClock(func() time.Time { return fixedNow }))
}

func position(usd, apy float64) domain.Position {
	return domain.Position{
		Protocol:     domain.ProtocolAaveV3,
		VaultAddress: "0xPOOL",
		VaultName:    "Aave USDC",
		AmountRaw:    domain.RawFromUnits(usd, domain.USDCDecimals),
		AmountUSD:    usd,
		CurrentAPY:   apy,
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		pos        domain.Position
		vault      domain.Vault
		wantAccept bool
		wantReason string
	}{
		{
			name:       "accepts large profitable move",
			pos:        position(50_000, 0.03),
			vault:      best,
			wantAccept: true,
		},
		{
			name:       "rejects small yield delta",
			pos:        position(50_000, 0.047),
			vault:      best,
			wantReason: "APY difference too small",
		},
		{
			name:       "rejects negative delta",
			pos:        position(50_000, 0.08),
			vault:      best,
			wantReason: "APY difference too small",
		},
		{
			name:       "rejects tiny position regardless of delta",
			pos:        position(99.99, 0.0),
			vault:      best,
			wantReason: "Position too small",
		},
		{
			// $500 at 3% vs 4%: expected gain over 12h is about $0.007, far
			// below the $0.30 threshold.
			name:       "profitability gate dominates delta and size checks",
			pos:        position(500, 0.03),
			vault:      domain.Vault{Protocol: domain.ProtocolMorpho, Address: "0xY", NetAPY: 0.04},
			wantReason: "Not profitable enough",
		},
		{
			name: "rejects position already in best vault",
			pos: func() domain.Position {
				p := position(50_000, 0.01)
				p.VaultAddress = "0xbest"
				return p
			}(),
			vault:      best,
			wantReason: "Already in best vault",
		},
		{
			name: "rejects zero raw amount",
			pos: func() domain.Position {
				p := position(50_000, 0.01)
				p.AmountRaw = "0"
				return p
			}(),
			vault:      best,
			wantReason: "Position amount not positive",
		},
	}

	e := newEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(acct, tt.pos, tt.vault)
			if d.Accepted != tt.wantAccept {
				t.Fatalf("Accepted = %v, want %v (reason %q)", d.Accepted, tt.wantAccept, d.Reason)
			}
			if !tt.wantAccept && !strings.HasPrefix(d.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want prefix %q", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluateAcceptedFields(t *testing.T) {
	d := newEvaluator().Evaluate(acct, position(50_000, 0.03), best)
	if !d.Accepted {
		t.Fatalf("expected accept, got %q", d.Reason)
	}
	o := d.Opportunity

	if o.Account != domain.NormalizeAddress(acct.Address) {
		t.Errorf("Account = %q, want normalized address", o.Account)
	}
	if o.KeyID != "wallet-1" {
		t.Errorf("KeyID = %q", o.KeyID)
	}
	if o.TargetAPY < o.CurrentAPY {
		t.Errorf("target %v below current %v", o.TargetAPY, o.CurrentAPY)
	}
	if o.ID == "" || o.ID != domain.OpportunityID(acct.Address, "0xPOOL", "0xBEST", fixedNow) {
		t.Errorf("ID = %q, not derived from account/source/dest/creation", o.ID)
	}
	wantGain := 50_000 * 0.02 / 365 * 0.5
	if diff := o.ExpectedGain - wantGain; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("ExpectedGain = %v, want %v", o.ExpectedGain, wantGain)
	}
	wantScore := wantGain*100 + 500 + 0.02*10000
	if diff := o.Priority - wantScore; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("Priority = %v, want %v", o.Priority, wantScore)
	}
}

func TestScoreDeterministic(t *testing.T) {
	d := newEvaluator().Evaluate(acct, position(12_345, 0.02), best)
	if !d.Accepted {
		t.Fatalf("expected accept, got %q", d.Reason)
	}
	w := evaluator.DefaultWeights()
	first := evaluator.Score(d.Opportunity, w)
	second := evaluator.Score(d.Opportunity, w)
	if first != second || first != d.Opportunity.Priority {
		t.Fatalf("scores differ: %v, %v, stored %v", first, second, d.Opportunity.Priority)
	}
}

func TestScoreUsesConfiguredWeights(t *testing.T) {
	o := domain.Opportunity{ExpectedGain: 2, AmountUSD: 1000, APYDiff: 0.01}
	got := evaluator.Score(o, evaluator.Weights{Gain: 1, Size: 1, Delta: 1})
	if want := 2 + 1000 + 0.01; got != want {
		t.Fatalf("Score = %v, want %v", got, want)
	}
}

func TestScoreFlatUninvested(t *testing.T) {
	idle := domain.Opportunity{Kind: domain.KindUninvested, FromVault: domain.ProtocolWallet, ExpectedGain: 5, AmountUSD: 50_000, APYDiff: 0.05}
	reb := domain.Opportunity{Kind: domain.KindRebalance, FromVault: "0xfrom", ExpectedGain: 5, AmountUSD: 50_000, APYDiff: 0.05}

	w := evaluator.DefaultWeights()
	w.FlatUninvested = true
	if got := evaluator.Score(idle, w); got != 1000 {
		t.Fatalf("flat idle score = %v, want 1000", got)
	}
	if got, want := evaluator.Score(reb, w), evaluator.Score(reb, evaluator.DefaultWeights()); got != want {
		t.Fatalf("flat weights changed rebalance score: %v, want %v", got, want)
	}
	if got := evaluator.Score(idle, evaluator.DefaultWeights()); got <= 1000 {
		t.Fatalf("additive idle score = %v, want above 1000", got)
	}
}

func TestUninvestedOutranksRebalanceOfSameSize(t *testing.T) {
	e := newEvaluator()
	for _, usd := range []float64{150, 1_000, 25_000, 400_000, 5_000_000} {
		for _, current := range []float64{0, 0.01, 0.02, 0.04} {
			bal := domain.Balance{AmountRaw: domain.RawFromUnits(usd, domain.USDCDecimals), AmountUSD: usd}
			idle := e.EvaluateIdle(acct, bal, best)
			if !idle.Accepted {
				t.Fatalf("idle $%v rejected: %s", usd, idle.Reason)
			}
			reb := e.Evaluate(acct, position(usd, current), best)
			if !reb.Accepted {
				continue
			}
			if idle.Opportunity.Priority < reb.Opportunity.Priority {
				t.Errorf("usd=%v current=%v: idle score %v < rebalance score %v",
					usd, current, idle.Opportunity.Priority, reb.Opportunity.Priority)
			}
		}
	}
}

func TestEvaluateIdle(t *testing.T) {
	e := newEvaluator()

	t.Run("below threshold", func(t *testing.T) {
		d := e.EvaluateIdle(acct, domain.Balance{AmountRaw: "1000000", AmountUSD: 1}, best)
		if d.Accepted {
			t.Fatal("balance of exactly $1 should not be deployed")
		}
	})

	t.Run("above threshold", func(t *testing.T) {
		d := e.EvaluateIdle(acct, domain.Balance{AmountRaw: "2500000", AmountUSD: 2.5}, best)
		if !d.Accepted {
			t.Fatalf("rejected: %s", d.Reason)
		}
		o := d.Opportunity
		if o.Kind != domain.KindUninvested || o.FromVault != domain.ProtocolWallet {
			t.Errorf("unexpected source: kind=%s from=%s", o.Kind, o.FromVault)
		}
		if o.CurrentAPY != 0 || o.APYDiff != best.NetAPY {
			t.Errorf("CurrentAPY=%v APYDiff=%v", o.CurrentAPY, o.APYDiff)
		}
		if o.Priority < evaluator.DefaultWeights().UninvestedBase {
			t.Errorf("Priority %v below uninvested base", o.Priority)
		}
	})
}
