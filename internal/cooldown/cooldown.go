// Package cooldown gates how often an account may be rebalanced: a minimum
// interval between successful moves and a cap on moves per UTC day.
package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// dayCounterTTL lets the daily counter expire on its own.
const dayCounterTTL = 24 * time.Hour

// Verdict is the outcome of CanSubmit. Reason is set when Allowed is false.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// State is the rate-limit state of one account, for reporting.
type State struct {
	LastMove   *time.Time `json:"last_move,omitempty"`
	MovesToday int        `json:"moves_today"`
}

// Policy checks and records moves against a CooldownStore.
type Policy struct {
	store     domain.CooldownStore
	window    time.Duration
	maxPerDay int
	now       func() time.Time
}

// Option customises a Policy.
type Option func(*Policy)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// New creates a Policy with the given cooldown window and daily cap.
func New(store domain.CooldownStore, window time.Duration, maxPerDay int, opts ...Option) *Policy {
	p := &Policy{store: store, window: window, maxPerDay: maxPerDay, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Window returns the configured cooldown window.
func (p *Policy) Window() time.Duration { return p.window }

// CanSubmit reports whether account may be evaluated for a new move.
func (p *Policy) CanSubmit(ctx context.Context, account string) (Verdict, error) {
	account = domain.NormalizeAddress(account)
	now := p.now()

	last, ok, err := p.store.LastMove(ctx, account)
	if err != nil {
		return Verdict{}, fmt.Errorf("cooldown: last move %s: %w", account, err)
	}
	if ok {
		if since := now.Sub(last); since < p.window {
			return Verdict{Reason: fmt.Sprintf("Too soon since last rebalance (%d min ago)", int(since.Minutes()))}, nil
		}
	}

	count, err := p.store.MovesOn(ctx, account, Day(now))
	if err != nil {
		return Verdict{}, fmt.Errorf("cooldown: daily count %s: %w", account, err)
	}
	if count >= p.maxPerDay {
		return Verdict{Reason: fmt.Sprintf("Max rebalances per day reached (%d)", count)}, nil
	}
	return Verdict{Allowed: true}, nil
}

// RecordMove stamps a successful move for account.
func (p *Policy) RecordMove(ctx context.Context, account string) error {
	account = domain.NormalizeAddress(account)
	now := p.now()
	if err := p.store.RecordMove(ctx, account, now, Day(now), dayCounterTTL); err != nil {
		return fmt.Errorf("cooldown: record move %s: %w", account, err)
	}
	return nil
}

// State returns the current rate-limit state of account.
func (p *Policy) State(ctx context.Context, account string) (State, error) {
	account = domain.NormalizeAddress(account)
	var st State
	last, ok, err := p.store.LastMove(ctx, account)
	if err != nil {
		return st, fmt.Errorf("cooldown: last move %s: %w", account, err)
	}
	if ok {
		st.LastMove = &last
	}
	st.MovesToday, err = p.store.MovesOn(ctx, account, Day(p.now()))
	if err != nil {
		return st, fmt.Errorf("cooldown: daily count %s: %w", account, err)
	}
	return st, nil
}

// Day formats the UTC calendar day used to bucket the daily counter.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
