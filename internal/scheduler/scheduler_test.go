package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/cache/memory"
	"github.com/alanyoungcy/yieldrebalancer/internal/cooldown"
	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/alanyoungcy/yieldrebalancer/internal/evaluator"
	"github.com/alanyoungcy/yieldrebalancer/internal/scheduler"
)

const (
	acctA    = "0xaaa"
	acctB    = "0xbbb"
	acctC    = "0xccc"
	bestAddr = "0xbest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeCatalog struct{ vaults []domain.Vault }

func (f fakeCatalog) Eligible(context.Context) ([]domain.Vault, error) { return f.vaults, nil }

type fakePositions map[string][]domain.Position

func (f fakePositions) Positions(_ context.Context, a domain.Account) ([]domain.Position, error) {
	return f[a.Address], nil
}

type fakeBalances map[string]domain.Balance

func (f fakeBalances) SpendableBalance(_ context.Context, a domain.Account) (domain.Balance, error) {
	return f[a.Address], nil
}

type fakeExecutor struct {
	mu   sync.Mutex
	ran  []domain.Opportunity
	fail map[string]bool
}

func (f *fakeExecutor) Execute(_ context.Context, opp domain.Opportunity) (domain.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, opp)
	if f.fail[opp.Account] {
		return domain.Result{FailedStep: domain.StepWithdraw, Error: "boom"}, nil
	}
	return domain.Result{Success: true, Reference: "0xdeposit"}, nil
}

type fixture struct {
	queue   *memory.Queue
	scanner *scheduler.Scanner
	policy  *cooldown.Policy
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	best := domain.Vault{Protocol: domain.ProtocolMorpho, Address: bestAddr, Name: "Best", NetAPY: 0.08, APY: 0.08, TotalAssetsUSD: 5e6}

	reg := memory.NewRegistry(
		domain.Account{Address: acctA, KeyID: "a"},
		domain.Account{Address: acctB, KeyID: "b"},
		domain.Account{Address: acctC, KeyID: "c"},
	)
	positions := fakePositions{
		acctA: {{Protocol: domain.ProtocolMorpho, VaultAddress: "0xlow", AmountRaw: "10000000000", AmountUSD: 10000, CurrentAPY: 0.03}},
		acctB: {{Protocol: domain.ProtocolMorpho, VaultAddress: "0xlow", AmountRaw: "10000000000", AmountUSD: 10000, CurrentAPY: 0.03}},
		acctC: {{Protocol: domain.ProtocolMorpho, VaultAddress: bestAddr, AmountRaw: "10000000000", AmountUSD: 10000, CurrentAPY: 0.08}},
	}
	balances := fakeBalances{
		acctA: {AmountRaw: "50000000", AmountUSD: 50},
	}

	policy := cooldown.New(memory.NewCooldownStore(), 12*time.Hour, 2)
	if err := policy.RecordMove(ctx, acctB); err != nil {
		t.Fatal(err)
	}

	eval := evaluator.New(evaluator.DefaultPolicy())
	sc := scheduler.NewScanner(reg, fakeCatalog{vaults: []domain.Vault{best}}, positions, balances, eval, policy, discard)
	return fixture{queue: memory.NewQueue(), scanner: sc, policy: policy}
}

func TestTwoPhaseEvaluate(t *testing.T) {
	f := newFixture(t)
	tp := scheduler.NewTwoPhase(scheduler.TwoPhaseConfig{BatchSize: 2, TopN: 5}, f.scanner, f.queue, &fakeExecutor{}, discard)

	sum, err := tp.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sum.AccountsChecked != 3 {
		t.Errorf("accounts checked = %d, want 3", sum.AccountsChecked)
	}
	if sum.Skipped != 1 {
		t.Errorf("skipped = %d, want 1 (rate limited)", sum.Skipped)
	}
	if sum.OpportunitiesFound != 2 {
		t.Errorf("found = %d, want 2", sum.OpportunitiesFound)
	}

	top, _ := f.queue.Top(context.Background(), 10)
	if len(top) != 2 {
		t.Fatalf("queued = %d, want 2", len(top))
	}
	if !top[0].IsUninvested() {
		t.Errorf("top opportunity kind = %s, want uninvested first", top[0].Kind)
	}
	for _, o := range top {
		if o.Account != acctA {
			t.Errorf("unexpected account %s in queue", o.Account)
		}
	}
}

func TestTwoPhaseEvaluateRefreshesSlot(t *testing.T) {
	f := newFixture(t)
	tp := scheduler.NewTwoPhase(scheduler.TwoPhaseConfig{}, f.scanner, f.queue, &fakeExecutor{}, discard)
	for i := 0; i < 3; i++ {
		if _, err := tp.Evaluate(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := f.queue.Len(context.Background()); n != 2 {
		t.Errorf("queue len after repeated cycles = %d, want 2", n)
	}
}

func TestTwoPhaseExecuteTop(t *testing.T) {
	ctx := context.Background()
	q := memory.NewQueue()
	for i, acct := range []string{"0x1", "0x2", "0x3", "0x4"} {
		o := domain.Opportunity{
			Account:   acct,
			FromVault: "0xfrom",
			ToVault:   "0xto",
			AmountUSD: 100,
			Priority:  float64(10 * (i + 1)),
			CreatedAt: time.Unix(int64(i), 0),
		}
		o.ID = domain.OpportunityID(o.Account, o.FromVault, o.ToVault, o.CreatedAt)
		if err := q.Push(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	exec := &fakeExecutor{fail: map[string]bool{"0x4": true}}
	tp := scheduler.NewTwoPhase(scheduler.TwoPhaseConfig{}, nil, q, exec, discard)
	sum, err := tp.ExecuteTop(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}

	if len(exec.ran) != 3 {
		t.Fatalf("executed %d, want 3", len(exec.ran))
	}
	for i := 1; i < len(exec.ran); i++ {
		if exec.ran[i].Priority > exec.ran[i-1].Priority {
			t.Fatalf("execution order not by priority: %v", exec.ran)
		}
	}
	if exec.ran[0].Account != "0x4" {
		t.Errorf("first executed = %s, want highest priority 0x4", exec.ran[0].Account)
	}
	if sum.Executed != 3 || sum.Successful != 2 || sum.Failed != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.ValueMovedUSD != 200 {
		t.Errorf("value moved = %v, want 200", sum.ValueMovedUSD)
	}
}

func TestFusedExecutesUninvestedFirst(t *testing.T) {
	f := newFixture(t)
	exec := &fakeExecutor{}
	fu := scheduler.NewFused(scheduler.FusedConfig{}, f.scanner, exec, discard)

	sum, err := fu.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(exec.ran) != 2 {
		t.Fatalf("executed %d, want 2", len(exec.ran))
	}
	if !exec.ran[0].IsUninvested() || exec.ran[1].IsUninvested() {
		t.Errorf("execution order = %s, %s; want uninvested then rebalance", exec.ran[0].Kind, exec.ran[1].Kind)
	}
	if sum.Successful != 2 || sum.Skipped != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if n, _ := f.queue.Len(context.Background()); n != 0 {
		t.Errorf("fused strategy touched the queue: len %d", n)
	}
}

type stubStrategy struct {
	name  string
	calls int
	block chan struct{}
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) RunCycle(ctx context.Context) (domain.CycleSummary, error) {
	s.calls++
	if s.block != nil {
		<-s.block
	}
	return domain.CycleSummary{AccountsChecked: 1}, nil
}

type recordingCycles struct {
	mu   sync.Mutex
	rows []domain.CycleSummary
}

func (r *recordingCycles) Insert(_ context.Context, s domain.CycleSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, s)
	return nil
}

func (r *recordingCycles) ListRecent(context.Context, int) ([]domain.CycleSummary, error) {
	return r.rows, nil
}

func TestRunnerRunOnce(t *testing.T) {
	strat := &stubStrategy{name: "stub"}
	cycles := &recordingCycles{}
	r, err := scheduler.NewRunner(scheduler.RunnerConfig{CycleTimeout: time.Second}, scheduler.NewRegistry(strat), "stub", memory.NewLockManager(), discard)
	if err != nil {
		t.Fatal(err)
	}
	r.SetCycleStore(cycles)

	sum, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.ID == "" || sum.Strategy != "stub" || sum.FinishedAt.Before(sum.StartedAt) {
		t.Errorf("summary not stamped: %+v", sum)
	}
	if len(cycles.rows) != 1 {
		t.Errorf("persisted %d cycles, want 1", len(cycles.rows))
	}
	if last, ok := r.Last(); !ok || last.ID != sum.ID {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
}

func TestRunnerRefusesOverlappingCycle(t *testing.T) {
	strat := &stubStrategy{name: "stub"}
	locks := memory.NewLockManager()
	r, err := scheduler.NewRunner(scheduler.RunnerConfig{LockTTL: time.Minute}, scheduler.NewRegistry(strat), "stub", locks, discard)
	if err != nil {
		t.Fatal(err)
	}

	unlock, err := locks.Acquire(context.Background(), "cycle", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	if _, err := r.RunOnce(context.Background()); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("RunOnce err = %v, want ErrLockHeld", err)
	}
	if strat.calls != 0 {
		t.Error("strategy ran without the lock")
	}
}

func TestRunnerSwitchStrategy(t *testing.T) {
	a := &stubStrategy{name: "a"}
	b := &stubStrategy{name: "b"}
	r, err := scheduler.NewRunner(scheduler.RunnerConfig{}, scheduler.NewRegistry(a, b), "a", memory.NewLockManager(), discard)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.SetStrategy("missing"); err == nil {
		t.Error("SetStrategy accepted an unknown name")
	}
	if err := r.SetStrategy("b"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a.calls != 0 || b.calls != 1 {
		t.Errorf("calls a=%d b=%d, want 0 and 1", a.calls, b.calls)
	}
}

func TestRunnerTriggerCoalesces(t *testing.T) {
	r, err := scheduler.NewRunner(scheduler.RunnerConfig{}, scheduler.NewRegistry(&stubStrategy{name: "s"}), "s", memory.NewLockManager(), discard)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Trigger() {
		t.Fatal("first trigger refused")
	}
	if r.Trigger() {
		t.Fatal("second pending trigger accepted")
	}
}
