package domain

import (
	"context"
	"time"
)

// OpportunityQueue is the durable, score-ordered collection of pending
// opportunities, keyed by opportunity ID.
type OpportunityQueue interface {
	// Push inserts opp, replacing any pending opportunity for the same slot.
	Push(ctx context.Context, opp Opportunity) error
	// Top returns at most n opportunities in non-increasing priority order
	// without removing them.
	Top(ctx context.Context, n int) ([]Opportunity, error)
	Get(ctx context.Context, id string) (Opportunity, error)
	Remove(ctx context.Context, id string) error
	Len(ctx context.Context) (int64, error)
}

// CooldownStore persists per-account rate-limit state.
type CooldownStore interface {
	LastMove(ctx context.Context, account string) (time.Time, bool, error)
	MovesOn(ctx context.Context, account string, day string) (int, error)
	RecordMove(ctx context.Context, account string, at time.Time, day string, counterTTL time.Duration) error
}

// HistoryLog is the bounded, newest-first record of execution attempts.
type HistoryLog interface {
	Append(ctx context.Context, entry HistoryEntry) error
	Recent(ctx context.Context, limit int) ([]HistoryEntry, error)
	Len(ctx context.Context) (int64, error)
}

// ExecutionRecord is a durably stored execution attempt.
type ExecutionRecord struct {
	ID string `json:"id"`
	HistoryEntry
}

// ExecutionStore persists every execution attempt with its steps.
type ExecutionStore interface {
	Record(ctx context.Context, entry HistoryEntry) (string, error)
	GetByID(ctx context.Context, id string) (ExecutionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionRecord, error)
	SumValueMoved(ctx context.Context, since time.Time) (float64, error)
}

// CycleStore persists scheduler cycle summaries.
type CycleStore interface {
	Insert(ctx context.Context, s CycleSummary) error
	ListRecent(ctx context.Context, limit int) ([]CycleSummary, error)
}

// AuditStore records an append-only audit trail.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// AuditEntry is one stored audit row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
