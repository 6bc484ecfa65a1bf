// Package executor carries out one opportunity as a strictly sequential
// chain of custody calls and performs the bookkeeping that must follow every
// attempt.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// MoveRecorder records a completed fund move for cooldown accounting.
type MoveRecorder interface {
	RecordMove(ctx context.Context, account string) error
}

// Listener is told about every finished attempt, e.g. to send alerts.
type Listener interface {
	ExecutionFinished(ctx context.Context, entry domain.HistoryEntry)
}

// Config tunes the pauses between dependent custody calls.
type Config struct {
	// WithdrawConfirmationDelay is waited after a withdraw before approving.
	WithdrawConfirmationDelay time.Duration
	// StepConfirmationDelay is waited after an approve before depositing.
	StepConfirmationDelay time.Duration
	// DedupTTL refuses re-execution of an ID for this long after it ends.
	DedupTTL time.Duration
	// BookkeepingTimeout bounds post-attempt writes, which ignore the
	// caller's cancellation.
	BookkeepingTimeout time.Duration
}

// DefaultConfig returns the delays used against a live chain.
func DefaultConfig() Config {
	return Config{
		WithdrawConfirmationDelay: 3 * time.Second,
		StepConfirmationDelay:     2 * time.Second,
		DedupTTL:                  10 * time.Minute,
		BookkeepingTimeout:        10 * time.Second,
	}
}

// Executor runs opportunities against a Custody backend.
type Executor struct {
	cfg      Config
	custody  domain.Custody
	queue    domain.OpportunityQueue
	history  domain.HistoryLog
	cooldown MoveRecorder
	dedup    *Dedup
	logger   *slog.Logger

	// Optional collaborators.
	confirmer  domain.Confirmer
	executions domain.ExecutionStore
	audit      domain.AuditStore
	bus        domain.SignalBus
	listeners  []Listener

	now func() time.Time
}

// New creates an Executor. queue, history and cooldown are required.
func New(
	cfg Config,
	custody domain.Custody,
	queue domain.OpportunityQueue,
	history domain.HistoryLog,
	cooldown MoveRecorder,
	logger *slog.Logger,
) *Executor {
	if cfg.BookkeepingTimeout <= 0 {
		cfg.BookkeepingTimeout = 10 * time.Second
	}
	return &Executor{
		cfg:      cfg,
		custody:  custody,
		queue:    queue,
		history:  history,
		cooldown: cooldown,
		dedup:    NewDedup(cfg.DedupTTL),
		logger:   logger.With(slog.String("component", "executor")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetConfirmer replaces the fixed settle delays with real confirmation.
func (e *Executor) SetConfirmer(c domain.Confirmer) { e.confirmer = c }

// SetRecording enables durable execution records and the audit trail.
// Either store may be nil.
func (e *Executor) SetRecording(executions domain.ExecutionStore, audit domain.AuditStore) {
	e.executions = executions
	e.audit = audit
}

// SetSignalBus publishes finished attempts on domain.ChannelExecution and
// appends them to domain.StreamExecutions.
func (e *Executor) SetSignalBus(bus domain.SignalBus) { e.bus = bus }

// AddListener registers l for finished attempts.
func (e *Executor) AddListener(l Listener) { e.listeners = append(e.listeners, l) }

// Config returns the executor's delays.
func (e *Executor) Config() Config { return e.cfg }

// CleanupDedup trims expired de-duplication entries.
func (e *Executor) CleanupDedup() { e.dedup.Cleanup() }

// Execute runs opp to completion or to its first failing step. Failures are
// reported in the Result, never retried or rolled back. The only error is
// domain.ErrAlreadyExecuting. When the refused ID already finished within the
// dedup TTL it is still removed from the queue; an in-flight ID is left alone.
//
// Whatever the outcome, opp is removed from the queue and the attempt is
// written to history even if ctx is cancelled mid-chain. The cooldown is
// only charged on success.
func (e *Executor) Execute(ctx context.Context, opp domain.Opportunity) (domain.Result, error) {
	switch e.dedup.Begin(opp.ID) {
	case ClaimInFlight:
		return domain.Result{}, fmt.Errorf("executor: %s: %w", opp.ID, domain.ErrAlreadyExecuting)
	case ClaimFinished:
		// A re-pushed copy of an attempt that already ran. Drop it so it is
		// not picked up again once the TTL lapses.
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.BookkeepingTimeout)
		defer cancel()
		if err := e.queue.Remove(bctx, opp.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			e.logger.ErrorContext(ctx, "queue remove failed",
				slog.String("opportunity_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
		return domain.Result{}, fmt.Errorf("executor: %s: %w", opp.ID, domain.ErrAlreadyExecuting)
	}
	defer e.dedup.Finish(opp.ID)

	log := e.logger.With(
		slog.String("opportunity_id", opp.ID),
		slog.String("account", opp.Account),
		slog.String("kind", string(opp.Kind)),
		slog.String("to_vault", opp.ToVault),
	)
	log.InfoContext(ctx, "executing opportunity",
		slog.String("from_vault", opp.FromVault),
		slog.Float64("amount_usd", opp.AmountUSD),
		slog.Float64("priority", opp.Priority),
	)

	res := e.run(ctx, opp, log)

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.BookkeepingTimeout)
	defer cancel()
	e.finish(bctx, opp, res, log)

	return res, nil
}

// run walks the plan. It stops at the first error and keeps every reference
// produced so far.
func (e *Executor) run(ctx context.Context, opp domain.Opportunity, log *slog.Logger) domain.Result {
	var res domain.Result

	plan, err := e.buildPlan(opp)
	if err != nil {
		res.FailedStep = firstStep(opp)
		res.Error = err.Error()
		log.ErrorContext(ctx, "invalid opportunity", slog.String("error", err.Error()))
		return res
	}

	for i, st := range plan {
		started := e.now()
		ref, err := st.submit(ctx)
		sr := domain.StepResult{
			Step:      st.name,
			TxRef:     ref,
			StartedAt: started,
			Duration:  e.now().Sub(started),
		}
		if err == nil && ref == "" {
			err = fmt.Errorf("%s returned no transaction reference: %w", st.name, domain.ErrCustodyRejected)
		}
		if err != nil {
			sr.Error = err.Error()
			res.Steps = append(res.Steps, sr)
			res.FailedStep = st.name
			res.Error = fmt.Sprintf("%s failed: %s", st.name, err.Error())
			log.ErrorContext(ctx, "step failed",
				slog.String("step", string(st.name)),
				slog.String("error", err.Error()),
				slog.Int("completed_steps", i),
			)
			return res
		}
		res.Steps = append(res.Steps, sr)
		log.InfoContext(ctx, "step submitted",
			slog.String("step", string(st.name)),
			slog.String("tx", string(ref)),
		)

		if i == len(plan)-1 {
			break
		}
		if err := e.settle(ctx, ref, st.settle); err != nil {
			res.Steps[len(res.Steps)-1].Error = err.Error()
			res.FailedStep = st.name
			res.Error = fmt.Sprintf("%s not confirmed: %s", st.name, err.Error())
			log.ErrorContext(ctx, "step not confirmed",
				slog.String("step", string(st.name)),
				slog.String("error", err.Error()),
			)
			return res
		}
	}

	res.Success = true
	res.Reference = res.Steps[len(res.Steps)-1].TxRef
	return res
}

// settle waits for ref to be safe to build on: through the Confirmer when one
// is set, otherwise for the fixed delay d.
func (e *Executor) settle(ctx context.Context, ref domain.TxRef, d time.Duration) error {
	if e.confirmer != nil {
		return e.confirmer.WaitConfirmed(ctx, ref)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// finish performs the post-attempt bookkeeping. Each write is independent;
// a failing one is logged and the rest still run.
func (e *Executor) finish(ctx context.Context, opp domain.Opportunity, res domain.Result, log *slog.Logger) {
	if err := e.queue.Remove(ctx, opp.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.ErrorContext(ctx, "queue remove failed", slog.String("error", err.Error()))
	}

	entry := domain.HistoryEntry{Opportunity: opp, Result: res, CompletedAt: e.now()}
	if err := e.history.Append(ctx, entry); err != nil {
		log.ErrorContext(ctx, "history append failed", slog.String("error", err.Error()))
	}

	if res.Success {
		if err := e.cooldown.RecordMove(ctx, opp.Account); err != nil {
			log.ErrorContext(ctx, "cooldown record failed", slog.String("error", err.Error()))
		}
	}

	var execID string
	if e.executions != nil {
		id, err := e.executions.Record(ctx, entry)
		if err != nil {
			log.WarnContext(ctx, "execution record failed", slog.String("error", err.Error()))
		}
		execID = id
	}

	if e.audit != nil {
		event := "execution.success"
		if !res.Success {
			event = "execution.failed"
		}
		detail := map[string]any{
			"opportunity_id": opp.ID,
			"execution_id":   execID,
			"account":        opp.Account,
			"from_vault":     opp.FromVault,
			"to_vault":       opp.ToVault,
			"amount_raw":     string(opp.AmountRaw),
			"failed_step":    string(res.FailedStep),
			"reference":      string(res.Reference),
		}
		if err := e.audit.Log(ctx, event, detail); err != nil {
			log.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	if e.bus != nil {
		if payload, err := json.Marshal(entry); err == nil {
			if err := e.bus.Publish(ctx, domain.ChannelExecution, payload); err != nil {
				log.WarnContext(ctx, "execution publish failed", slog.String("error", err.Error()))
			}
			if err := e.bus.StreamAppend(ctx, domain.StreamExecutions, payload); err != nil {
				log.WarnContext(ctx, "execution stream append failed", slog.String("error", err.Error()))
			}
		}
	}

	for _, l := range e.listeners {
		l.ExecutionFinished(ctx, entry)
	}

	if res.Success {
		log.InfoContext(ctx, "opportunity executed", slog.String("reference", string(res.Reference)))
	} else if res.Partial() {
		log.WarnContext(ctx, "opportunity partially executed, funds may be in an intermediate location",
			slog.String("failed_step", string(res.FailedStep)),
			slog.String("withdraw_tx", string(res.Ref(domain.StepWithdraw))),
			slog.String("approve_tx", string(res.Ref(domain.StepApprove))),
		)
	}
}
