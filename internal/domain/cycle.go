package domain

import "time"

// CycleSummary is the aggregate outcome of one scheduler cycle and the only
// externally surfaced signal of the engine.
type CycleSummary struct {
	ID                 string    `json:"id"`
	Strategy           string    `json:"strategy"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	AccountsChecked    int       `json:"accounts_checked"`
	OpportunitiesFound int       `json:"opportunities_found"`
	Skipped            int       `json:"skipped"`
	Executed           int       `json:"executed"`
	Successful         int       `json:"successful"`
	Failed             int       `json:"failed"`
	ValueMovedUSD      float64   `json:"value_moved_usd"`
	Errors             []string  `json:"errors,omitempty"`
	Aborted            bool      `json:"aborted,omitempty"`
}

// Duration returns the wall-clock length of the cycle.
func (s CycleSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Merge folds the counters of other into s. Used when a cycle runs its two
// phases as separate steps.
func (s *CycleSummary) Merge(other CycleSummary) {
	s.AccountsChecked += other.AccountsChecked
	s.OpportunitiesFound += other.OpportunitiesFound
	s.Skipped += other.Skipped
	s.Executed += other.Executed
	s.Successful += other.Successful
	s.Failed += other.Failed
	s.ValueMovedUSD += other.ValueMovedUSD
	s.Errors = append(s.Errors, other.Errors...)
	s.Aborted = s.Aborted || other.Aborted
}
