package domain

import "time"

// Step names one custody call in an execution plan.
type Step string

const (
	StepWithdraw Step = "withdraw"
	StepApprove  Step = "approve"
	StepDeposit  Step = "deposit"
)

// TxRef is the transaction reference returned by the custody service.
type TxRef string

// StepResult records the outcome of one custody call.
type StepResult struct {
	Step      Step          `json:"step"`
	TxRef     TxRef         `json:"tx_ref,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// OK reports whether the step produced a transaction reference.
func (s StepResult) OK() bool {
	return s.Error == "" && s.TxRef != ""
}

// Result is the outcome of executing an Opportunity. On failure Steps holds
// every reference produced before the failing step so stranded funds can be
// traced.
type Result struct {
	Success    bool         `json:"success"`
	Reference  TxRef        `json:"reference,omitempty"`
	Steps      []StepResult `json:"steps"`
	FailedStep Step         `json:"failed_step,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Ref returns the transaction reference produced by step, if any.
func (r Result) Ref(step Step) TxRef {
	for _, s := range r.Steps {
		if s.Step == step {
			return s.TxRef
		}
	}
	return ""
}

// Partial reports whether at least one step succeeded before a failure,
// meaning funds may be sitting in an intermediate location.
func (r Result) Partial() bool {
	if r.Success {
		return false
	}
	for _, s := range r.Steps {
		if s.OK() {
			return true
		}
	}
	return false
}

// HistoryEntry is the immutable record of one execution attempt.
type HistoryEntry struct {
	Opportunity Opportunity `json:"opportunity"`
	Result      Result      `json:"result"`
	CompletedAt time.Time   `json:"completed_at"`
}
