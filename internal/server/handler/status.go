package handler

import (
	"context"
	"net/http"
	"time"
)

// StatusSource supplies the numbers shown by GET /api/status.
type StatusSource interface {
	QueueLen(ctx context.Context) (int64, error)
}

// StatusHandler serves the engine status.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	cycles    CycleController
	reports   StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, startedAt time.Time, cycles CycleController, reports StatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, cycles: cycles, reports: reports}
}

// GetStatus reports mode, active strategy, queue depth and the last cycle.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	queued, err := h.reports.QueueLen(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := map[string]any{
		"mode":           h.mode,
		"strategy":       h.cycles.ActiveName(),
		"strategies":     h.cycles.Strategies(),
		"queue_length":   queued,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if last, ok := h.cycles.Last(); ok {
		resp["last_cycle"] = last
	}
	writeJSON(w, http.StatusOK, resp)
}
