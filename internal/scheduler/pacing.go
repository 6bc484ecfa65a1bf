package scheduler

import (
	"context"
	"time"
)

// pause waits d or until ctx is done, returning ctx.Err() in the latter case.
func pause(ctx context.Context, d time.Duration) error {
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
