package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// executeOne runs opp and folds the outcome into sum.
func executeOne(ctx context.Context, exec Executor, opp domain.Opportunity, sum *domain.CycleSummary, logger *slog.Logger) {
	res, err := exec.Execute(ctx, opp)
	if errors.Is(err, domain.ErrAlreadyExecuting) {
		sum.Skipped++
		logger.InfoContext(ctx, "opportunity already executing", slog.String("opportunity_id", opp.ID))
		return
	}
	if err != nil {
		sum.Failed++
		sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %s", opp.ID, err.Error()))
		return
	}

	sum.Executed++
	if res.Success {
		sum.Successful++
		sum.ValueMovedUSD += opp.AmountUSD
		return
	}
	sum.Failed++
	sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %s", opp.ID, res.Error))
}
