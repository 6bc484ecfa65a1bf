package service

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// QueueEntry is a pending opportunity as shown to operators.
type QueueEntry struct {
	domain.Opportunity
	APYDiffPercent float64 `json:"apy_diff_percent"`
	Age            string  `json:"age"`
}

// HistoryStats summarises a slice of history entries.
type HistoryStats struct {
	Total             int     `json:"total"`
	Successful        int     `json:"successful"`
	Failed            int     `json:"failed"`
	Partial           int     `json:"partial"`
	SuccessRate       float64 `json:"success_rate"`
	TotalExpectedGain float64 `json:"total_expected_gain"`
	ValueMovedUSD     float64 `json:"value_moved_usd"`
}

// HistoryReport is the recent history plus its stats.
type HistoryReport struct {
	Entries []domain.HistoryEntry `json:"entries"`
	Stats   HistoryStats          `json:"stats"`
}

// Stats computes totals over entries. Expected gain and value moved count
// successful moves only.
func Stats(entries []domain.HistoryEntry) HistoryStats {
	var st HistoryStats
	for _, e := range entries {
		st.Total++
		if e.Result.Success {
			st.Successful++
			st.TotalExpectedGain += e.Opportunity.ExpectedYearlyGain
			st.ValueMovedUSD += e.Opportunity.AmountUSD
			continue
		}
		st.Failed++
		if e.Result.Partial() {
			st.Partial++
		}
	}
	if st.Total > 0 {
		st.SuccessRate = float64(st.Successful) / float64(st.Total)
	}
	return st
}

// ReportService serves read-only views of the queue, history and catalog.
type ReportService struct {
	queue   domain.OpportunityQueue
	history domain.HistoryLog
	catalog domain.VaultCatalog
	cycles  domain.CycleStore
	now     func() time.Time
}

// NewReportService creates a ReportService. cycles may be nil.
func NewReportService(queue domain.OpportunityQueue, history domain.HistoryLog, catalog domain.VaultCatalog, cycles domain.CycleStore) *ReportService {
	return &ReportService{queue: queue, history: history, catalog: catalog, cycles: cycles, now: time.Now}
}

// Queue returns the top pending opportunities.
func (s *ReportService) Queue(ctx context.Context, limit int) ([]QueueEntry, error) {
	opps, err := s.queue.Top(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("report_service: queue: %w", err)
	}
	now := s.now()
	out := make([]QueueEntry, 0, len(opps))
	for _, o := range opps {
		out = append(out, QueueEntry{
			Opportunity:    o,
			APYDiffPercent: o.APYDiff * 100,
			Age:            o.Age(now).Round(time.Second).String(),
		})
	}
	return out, nil
}

// QueueLen returns the number of pending opportunities.
func (s *ReportService) QueueLen(ctx context.Context) (int64, error) {
	return s.queue.Len(ctx)
}

// History returns the newest entries and their stats.
func (s *ReportService) History(ctx context.Context, limit int) (HistoryReport, error) {
	entries, err := s.history.Recent(ctx, limit)
	if err != nil {
		return HistoryReport{}, fmt.Errorf("report_service: history: %w", err)
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return HistoryReport{Entries: entries, Stats: Stats(entries)}, nil
}

// Vaults returns the current eligible vaults, best first.
func (s *ReportService) Vaults(ctx context.Context) ([]domain.Vault, error) {
	vaults, err := s.catalog.Eligible(ctx)
	if err != nil {
		return nil, fmt.Errorf("report_service: vaults: %w", err)
	}
	return vaults, nil
}

// Cycles returns recent persisted cycle summaries, or ErrNotFound when no
// cycle store is configured.
func (s *ReportService) Cycles(ctx context.Context, limit int) ([]domain.CycleSummary, error) {
	if s.cycles == nil {
		return nil, fmt.Errorf("report_service: cycles: %w", domain.ErrNotFound)
	}
	list, err := s.cycles.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("report_service: cycles: %w", err)
	}
	return list, nil
}
