package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// ExecutionFinished reports an execution attempt. Partial failures get their
// own event since funds may be parked between vaults.
func (n *Notifier) ExecutionFinished(ctx context.Context, e domain.HistoryEntry) {
	event, title := EventExecutionSuccess, "Rebalance executed"
	switch {
	case e.Result.Success:
	case e.Result.Partial():
		event, title = EventExecutionPartial, "Rebalance partially executed"
	default:
		event, title = EventExecutionFailed, "Rebalance failed"
	}
	if !n.Enabled(event) {
		return
	}
	if err := n.Notify(ctx, event, title, FormatExecution(e)); err != nil {
		n.logger.WarnContext(ctx, "execution notification failed", slog.String("error", err.Error()))
	}
}

// CycleFinished reports a cycle summary. Cycles that found nothing and had no
// errors stay quiet.
func (n *Notifier) CycleFinished(ctx context.Context, s domain.CycleSummary) {
	event := EventCycleFinished
	if len(s.Errors) > 0 || s.Aborted {
		event = EventCycleErrors
	} else if s.OpportunitiesFound == 0 && s.Executed == 0 {
		return
	}
	if !n.Enabled(event) {
		return
	}
	if err := n.Notify(ctx, event, "Rebalance cycle "+s.Strategy, FormatCycle(s)); err != nil {
		n.logger.WarnContext(ctx, "cycle notification failed", slog.String("error", err.Error()))
	}
}

// FormatExecution renders an attempt as plain text.
func FormatExecution(e domain.HistoryEntry) string {
	o := e.Opportunity
	var b strings.Builder
	fmt.Fprintf(&b, "Account: %s\n", o.Account)
	fmt.Fprintf(&b, "From: %s %s\n", o.FromProtocol, vaultLabel(o.FromVaultName, o.FromVault))
	fmt.Fprintf(&b, "To: %s %s\n", o.ToProtocol, vaultLabel(o.ToVaultName, o.ToVault))
	fmt.Fprintf(&b, "Amount: $%.2f\n", o.AmountUSD)
	fmt.Fprintf(&b, "APY: %.2f%% -> %.2f%%\n", o.CurrentAPY*100, o.TargetAPY*100)
	if e.Result.Success {
		fmt.Fprintf(&b, "Tx: %s", e.Result.Reference)
		return b.String()
	}
	fmt.Fprintf(&b, "Failed at: %s\nError: %s", e.Result.FailedStep, e.Result.Error)
	for _, st := range e.Result.Steps {
		if st.OK() {
			fmt.Fprintf(&b, "\n%s: %s", st.Step, st.TxRef)
		}
	}
	return b.String()
}

// FormatCycle renders a cycle summary as plain text.
func FormatCycle(s domain.CycleSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Accounts checked: %d\n", s.AccountsChecked)
	fmt.Fprintf(&b, "Opportunities: %d (skipped %d)\n", s.OpportunitiesFound, s.Skipped)
	fmt.Fprintf(&b, "Executed: %d (ok %d, failed %d)\n", s.Executed, s.Successful, s.Failed)
	fmt.Fprintf(&b, "Value moved: $%.2f\n", s.ValueMovedUSD)
	fmt.Fprintf(&b, "Duration: %s", s.Duration().Round(time.Millisecond))
	if s.Aborted {
		b.WriteString("\nAborted: cycle budget exceeded")
	}
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "\n- %s", e)
	}
	return b.String()
}

func vaultLabel(name, addr string) string {
	if name == "" {
		return addr
	}
	return name
}
