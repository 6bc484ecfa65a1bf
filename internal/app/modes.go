package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/yieldrebalancer/internal/blob/s3"
	"github.com/alanyoungcy/yieldrebalancer/internal/cooldown"
	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/alanyoungcy/yieldrebalancer/internal/evaluator"
	"github.com/alanyoungcy/yieldrebalancer/internal/executor"
	"github.com/alanyoungcy/yieldrebalancer/internal/scheduler"
	"github.com/alanyoungcy/yieldrebalancer/internal/server"
	"github.com/alanyoungcy/yieldrebalancer/internal/server/handler"
	"github.com/alanyoungcy/yieldrebalancer/internal/server/ws"
	"github.com/alanyoungcy/yieldrebalancer/internal/service"
)

// engine is the rebalancing core built on top of Dependencies.
type engine struct {
	cooldown *cooldown.Policy
	executor *executor.Executor
	twoPhase *scheduler.TwoPhase
	runner   *scheduler.Runner
}

// buildEngine assembles evaluator, cooldown, executor, strategies and the
// runner. In server mode the runner never ticks and cycles only run on
// trigger.
func (a *App) buildEngine(mode string, deps *Dependencies) (*engine, error) {
	rc := a.cfg.Rebalance
	sc := a.cfg.Scheduler

	eval := evaluator.New(evaluator.Policy{
		MinAPYDelta:       rc.MinAPYDiff,
		MinPositionUSD:    rc.MinPositionUSD,
		Cooldown:          rc.Cooldown.Duration,
		FixedCostUSD:      rc.FixedCostUSD,
		ProfitMultiplier:  rc.ProfitMultiplier,
		MinIdleBalanceUSD: rc.MinIdleBalanceUSD,
		Weights: evaluator.Weights{
			Gain:           rc.Weights.Gain,
			Size:           rc.Weights.Size,
			Delta:          rc.Weights.Delta,
			UninvestedBase: rc.Weights.UninvestedBase,
			FlatUninvested: rc.Weights.FlatUninvested,
		},
	})
	cd := cooldown.New(deps.Cooldowns, rc.Cooldown.Duration, rc.MaxPerDay)

	exec := executor.New(executor.Config{
		WithdrawConfirmationDelay: a.cfg.Executor.WithdrawConfirmationDelay.Duration,
		StepConfirmationDelay:     a.cfg.Executor.StepConfirmationDelay.Duration,
		DedupTTL:                  a.cfg.Executor.DedupTTL.Duration,
		BookkeepingTimeout:        a.cfg.Executor.BookkeepingTimeout.Duration,
	}, deps.Custody, deps.Queue, deps.History, cd, a.logger)
	if deps.Confirmer != nil {
		exec.SetConfirmer(deps.Confirmer)
	}
	// A nil *ExecutionStore must not reach the interface as a typed nil.
	var executions domain.ExecutionStore
	if deps.Executions != nil {
		executions = deps.Executions
	}
	exec.SetRecording(executions, deps.Audit)
	exec.SetSignalBus(deps.SignalBus)
	exec.AddListener(deps.Notifier)

	scanner := scheduler.NewScanner(deps.Registry, deps.Catalog, deps.Positions, deps.Balances, eval, cd, a.logger)
	twoPhase := scheduler.NewTwoPhase(scheduler.TwoPhaseConfig{
		BatchSize:       sc.BatchSize,
		TopN:            sc.TopN,
		ExecutionPacing: sc.ExecutionPacing.Duration,
	}, scanner, deps.Queue, exec, a.logger)
	fused := scheduler.NewFused(scheduler.FusedConfig{
		ExecutionPacing: sc.ExecutionPacing.Duration,
		AccountPacing:   sc.AccountPacing.Duration,
	}, scanner, exec, a.logger)

	active := sc.Strategy
	if mode == scheduler.StrategyTwoPhase || mode == scheduler.StrategyFused {
		active = mode
	}
	rcfg := scheduler.RunnerConfig{
		Interval:     sc.Interval.Duration,
		RunOnStartup: sc.RunOnStartup,
		CycleTimeout: sc.CycleTimeout.Duration,
		LockTTL:      sc.LockTTL.Duration,
	}
	if mode == "server" {
		rcfg.Interval = 0
		rcfg.RunOnStartup = false
	}
	runner, err := scheduler.NewRunner(rcfg, scheduler.NewRegistry(twoPhase, fused), active, deps.LockManager, a.logger)
	if err != nil {
		return nil, err
	}
	runner.SetCycleStore(deps.Cycles)
	runner.SetSignalBus(deps.SignalBus)
	runner.AddListener(deps.Notifier)

	return &engine{cooldown: cd, executor: exec, twoPhase: twoPhase, runner: runner}, nil
}

// LoopMode runs cycles on the scheduler interval, plus the admin API when
// enabled. The two_phase and fused modes differ only in the initial
// strategy.
func (a *App) LoopMode(ctx context.Context, deps *Dependencies, eng *engine) error {
	a.logger.InfoContext(ctx, "starting loop mode",
		slog.String("strategy", eng.runner.ActiveName()),
		slog.Duration("interval", a.cfg.Scheduler.Interval.Duration),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.runner.Run(ctx)
	})
	a.startDedupJanitor(ctx, g, eng)
	a.startArchiver(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}

	return g.Wait()
}

// OnceMode runs a single cycle of the configured strategy and returns. This
// is the shape for cron-style invocation.
func (a *App) OnceMode(ctx context.Context, eng *engine) error {
	a.logger.InfoContext(ctx, "running one cycle", slog.String("strategy", eng.runner.ActiveName()))

	sum, err := eng.runner.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("once: %w", err)
	}
	if sum.Failed > 0 {
		a.logger.WarnContext(ctx, "cycle had failed executions",
			slog.Int("failed", sum.Failed),
			slog.Int("successful", sum.Successful),
		)
	}
	return nil
}

// ServerMode serves the admin API only. Cycles run when triggered through
// the API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, eng *engine) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.Int("port", a.cfg.Server.Port))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.runner.Run(ctx)
	})
	a.startDedupJanitor(ctx, g, eng)
	a.startArchiver(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, eng)

	return g.Wait()
}

// startHTTPServer adds the admin API and the WebSocket hub to g. The server
// is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine) {
	reports := service.NewReportService(deps.Queue, deps.History, deps.Catalog, deps.Cycles)
	accounts := service.NewAccountService(deps.Registry, eng.cooldown, deps.SignalBus, deps.Audit, a.logger)

	h := server.Handlers{
		Health:   handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, a.startedAt, eng.runner, reports),
		Accounts: handler.NewAccountHandler(accounts, a.logger),
		Reports:  handler.NewReportHandler(reports),
		Cycles:   handler.NewCycleHandler(eng.runner, eng.twoPhase, reports, a.cfg.Scheduler.TopN, a.logger),
	}
	if deps.BlobReader != nil {
		h.Archive = handler.NewArchiveHandler(deps.BlobReader, s3blob.ArchivePath, a.logger)
	}

	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: a.startedAt,
		Strategy:  eng.runner.ActiveName,
	}, a.logger)

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
	}, h, hub, deps.RateLimiter, a.logger)

	if a.cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "server.api_key is empty; admin API is unauthenticated")
	}

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiver moves executions older than history.archive_after to S3 on
// history.archive_interval. It is a no-op without an archiver.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	after := a.cfg.History.ArchiveAfter.Duration
	if deps.Archiver == nil || after <= 0 {
		return
	}
	var archiver domain.Archiver = deps.Archiver
	interval := a.cfg.History.ArchiveInterval.Duration

	g.Go(func() error {
		runOnce := func() {
			before := time.Now().UTC().Add(-after)
			n, err := archiver.ArchiveExecutions(ctx, before)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					a.logger.ErrorContext(ctx, "archive failed", slog.String("error", err.Error()))
				}
				return
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "executions archived",
					slog.Int64("count", n),
					slog.Time("before", before),
				)
			}
		}

		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})
}

// startDedupJanitor drops expired in-flight markers so the map stays small.
func (a *App) startDedupJanitor(ctx context.Context, g *errgroup.Group, eng *engine) {
	ttl := a.cfg.Executor.DedupTTL.Duration
	if ttl <= 0 {
		return
	}
	g.Go(func() error {
		ticker := time.NewTicker(ttl)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				eng.executor.CleanupDedup()
			}
		}
	})
}
