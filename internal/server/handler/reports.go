package handler

import (
	"context"
	"net/http"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/alanyoungcy/yieldrebalancer/internal/service"
)

// Reporter is the report service as seen by the admin API.
type Reporter interface {
	Queue(ctx context.Context, limit int) ([]service.QueueEntry, error)
	History(ctx context.Context, limit int) (service.HistoryReport, error)
	Vaults(ctx context.Context) ([]domain.Vault, error)
}

// ReportHandler serves the read-only queue, history and vault views.
type ReportHandler struct {
	reports Reporter
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(reports Reporter) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Queue lists pending opportunities, best first.
// GET /api/queue?limit=20
func (h *ReportHandler) Queue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.reports.Queue(r.Context(), intParam(r, "limit", 20))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []service.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": entries, "count": len(entries)})
}

// History lists recent execution attempts with stats.
// GET /api/history?limit=50
func (h *ReportHandler) History(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.History(r.Context(), intParam(r, "limit", 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Vaults lists the eligible vaults, best first.
// GET /api/vaults
func (h *ReportHandler) Vaults(w http.ResponseWriter, r *http.Request) {
	vaults, err := h.reports.Vaults(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if vaults == nil {
		vaults = []domain.Vault{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"vaults": vaults, "count": len(vaults)})
}
