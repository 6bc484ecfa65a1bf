package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// cycleLockKey is the LockManager key held for the length of a cycle.
const cycleLockKey = "cycle"

// CycleListener is told about every finished cycle.
type CycleListener interface {
	CycleFinished(ctx context.Context, s domain.CycleSummary)
}

// RunnerConfig tunes the cycle loop.
type RunnerConfig struct {
	// Interval between scheduled cycles. Zero disables the ticker so cycles
	// only run on Trigger.
	Interval     time.Duration
	RunOnStartup bool
	// CycleTimeout bounds one cycle. Work left when it expires is abandoned
	// and picked up by the next cycle.
	CycleTimeout time.Duration
	// LockTTL bounds how long a crashed process can hold the cycle lock.
	LockTTL time.Duration
}

// Runner runs the active Strategy on a ticker and on demand. Only one cycle
// runs at a time across every process sharing the LockManager.
type Runner struct {
	cfg      RunnerConfig
	registry *Registry
	lock     domain.LockManager
	logger   *slog.Logger

	cycles    domain.CycleStore
	bus       domain.SignalBus
	listeners []CycleListener

	trigger chan struct{}

	mu     sync.RWMutex
	active Strategy
	last   *domain.CycleSummary
}

// NewRunner creates a Runner using the strategy named active.
func NewRunner(cfg RunnerConfig, registry *Registry, active string, lock domain.LockManager, logger *slog.Logger) (*Runner, error) {
	s, err := registry.Get(active)
	if err != nil {
		return nil, err
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.CycleTimeout + time.Minute
	}
	return &Runner{
		cfg:      cfg,
		registry: registry,
		lock:     lock,
		logger:   logger.With(slog.String("component", "scheduler")),
		trigger:  make(chan struct{}, 1),
		active:   s,
	}, nil
}

// SetCycleStore persists every summary.
func (r *Runner) SetCycleStore(s domain.CycleStore) { r.cycles = s }

// SetSignalBus publishes every summary on domain.ChannelCycle.
func (r *Runner) SetSignalBus(b domain.SignalBus) { r.bus = b }

// AddListener registers l for finished cycles.
func (r *Runner) AddListener(l CycleListener) { r.listeners = append(r.listeners, l) }

// Strategy returns the active strategy.
func (r *Runner) Strategy() Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// ActiveName returns the active strategy's name.
func (r *Runner) ActiveName() string { return r.Strategy().Name() }

// Strategies lists the registered strategy names.
func (r *Runner) Strategies() []string { return r.registry.Names() }

// SetStrategy switches the active strategy. It takes effect from the next
// cycle.
func (r *Runner) SetStrategy(name string) error {
	s, err := r.registry.Get(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.active = s
	r.mu.Unlock()
	r.logger.Info("strategy switched", slog.String("strategy", name))
	return nil
}

// Last returns the most recent cycle summary, if any.
func (r *Runner) Last() (domain.CycleSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return domain.CycleSummary{}, false
	}
	return *r.last, true
}

// Trigger requests a cycle as soon as the loop is free. It reports false when
// a request is already pending.
func (r *Runner) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run loops until ctx is cancelled. Cycle errors are logged and never end
// the loop.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "scheduler started",
		slog.String("strategy", r.Strategy().Name()),
		slog.Duration("interval", r.cfg.Interval),
		slog.Bool("run_on_startup", r.cfg.RunOnStartup),
	)
	defer r.logger.Info("scheduler stopped")

	if r.cfg.RunOnStartup {
		r.runLogged(ctx)
	}

	var tick <-chan time.Time
	if r.cfg.Interval > 0 {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			r.runLogged(ctx)
		case <-r.trigger:
			r.runLogged(ctx)
		}
	}
}

func (r *Runner) runLogged(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.WarnContext(ctx, "cycle finished with error", slog.String("error", err.Error()))
	}
}

// RunOnce runs one cycle of the active strategy.
func (r *Runner) RunOnce(ctx context.Context) (domain.CycleSummary, error) {
	s := r.Strategy()
	return r.RunLocked(ctx, s.Name(), s.RunCycle)
}

// RunLocked runs fn as a cycle named name: under the cycle lock and budget,
// with the resulting summary stamped, persisted and published. It returns
// domain.ErrLockHeld when another cycle is running.
func (r *Runner) RunLocked(ctx context.Context, name string, fn func(context.Context) (domain.CycleSummary, error)) (domain.CycleSummary, error) {
	unlock, err := r.lock.Acquire(ctx, cycleLockKey, r.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			r.logger.InfoContext(ctx, "cycle skipped, another cycle holds the lock", slog.String("strategy", name))
		}
		return domain.CycleSummary{}, fmt.Errorf("scheduler: cycle lock: %w", err)
	}
	defer unlock()

	cctx := ctx
	if r.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, r.cfg.CycleTimeout)
		defer cancel()
	}

	started := time.Now().UTC()
	sum, err := fn(cctx)
	sum.ID = uuid.NewString()
	sum.Strategy = name
	sum.StartedAt = started
	sum.FinishedAt = time.Now().UTC()
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		sum.Aborted = true
	}

	r.mu.Lock()
	r.last = &sum
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "cycle complete",
		slog.String("cycle_id", sum.ID),
		slog.String("strategy", name),
		slog.Int("accounts_checked", sum.AccountsChecked),
		slog.Int("opportunities_found", sum.OpportunitiesFound),
		slog.Int("skipped", sum.Skipped),
		slog.Int("executed", sum.Executed),
		slog.Int("successful", sum.Successful),
		slog.Int("failed", sum.Failed),
		slog.Float64("value_moved_usd", sum.ValueMovedUSD),
		slog.Duration("duration", sum.Duration()),
		slog.Bool("aborted", sum.Aborted),
	)

	r.publish(context.WithoutCancel(ctx), sum)
	return sum, err
}

func (r *Runner) publish(ctx context.Context, sum domain.CycleSummary) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if r.cycles != nil {
		if err := r.cycles.Insert(ctx, sum); err != nil {
			r.logger.WarnContext(ctx, "cycle persist failed", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		if payload, err := json.Marshal(sum); err == nil {
			if err := r.bus.Publish(ctx, domain.ChannelCycle, payload); err != nil {
				r.logger.WarnContext(ctx, "cycle publish failed", slog.String("error", err.Error()))
			}
		}
	}
	for _, l := range r.listeners {
		l.CycleFinished(ctx, sum)
	}
}
