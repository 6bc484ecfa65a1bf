package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
)

// CycleController is the scheduler runner as seen by the admin API.
type CycleController interface {
	Trigger() bool
	Last() (domain.CycleSummary, bool)
	ActiveName() string
	Strategies() []string
	SetStrategy(name string) error
	RunLocked(ctx context.Context, name string, fn func(context.Context) (domain.CycleSummary, error)) (domain.CycleSummary, error)
}

// PhaseRunner runs the two phases of a two-phase cycle separately.
type PhaseRunner interface {
	Evaluate(ctx context.Context) (domain.CycleSummary, error)
	ExecuteTop(ctx context.Context, n int) (domain.CycleSummary, error)
}

// CycleLister lists persisted cycle summaries.
type CycleLister interface {
	Cycles(ctx context.Context, limit int) ([]domain.CycleSummary, error)
}

// CycleHandler serves cycle control endpoints.
type CycleHandler struct {
	ctrl    CycleController
	phases  PhaseRunner
	history CycleLister
	topN    int
	logger  *slog.Logger
}

// NewCycleHandler creates a CycleHandler. phases may be nil, in which case
// the evaluate/execute endpoints answer 501.
func NewCycleHandler(ctrl CycleController, phases PhaseRunner, history CycleLister, topN int, logger *slog.Logger) *CycleHandler {
	return &CycleHandler{ctrl: ctrl, phases: phases, history: history, topN: topN, logger: logger}
}

// Trigger asks the runner for a cycle as soon as it is free.
// POST /api/cycle/trigger
func (h *CycleHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	queued := h.ctrl.Trigger()
	h.logger.InfoContext(r.Context(), "cycle trigger requested", slog.Bool("queued", queued))
	msg := "cycle trigger enqueued"
	if !queued {
		msg = "a cycle trigger is already pending"
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"message":      msg,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Evaluate runs the evaluation phase now and returns its summary.
// POST /api/cycle/evaluate
func (h *CycleHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	if h.phases == nil {
		writeError(w, http.StatusNotImplemented, "phase control requires the two_phase strategy")
		return
	}
	h.run(w, r, "evaluate", h.phases.Evaluate)
}

// Execute runs the execution phase over the top n queued opportunities.
// POST /api/cycle/execute?n=
func (h *CycleHandler) Execute(w http.ResponseWriter, r *http.Request) {
	if h.phases == nil {
		writeError(w, http.StatusNotImplemented, "phase control requires the two_phase strategy")
		return
	}
	n := intParam(r, "n", h.topN)
	h.run(w, r, "execute", func(ctx context.Context) (domain.CycleSummary, error) {
		return h.phases.ExecuteTop(ctx, n)
	})
}

// run detaches from the request so a dropped client cannot abandon a
// half-executed phase; the runner's cycle budget still applies.
func (h *CycleHandler) run(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context) (domain.CycleSummary, error)) {
	sum, err := h.ctrl.RunLocked(context.WithoutCancel(r.Context()), name, fn)
	if err != nil && sum.ID == "" {
		writeDomainError(w, err)
		return
	}
	resp := map[string]any{"summary": sum}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// List returns recent cycles.
// GET /api/cycles?limit=
func (h *CycleHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.history.Cycles(r.Context(), intParam(r, "limit", 20))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []domain.CycleSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": list})
}

// GetStrategy returns the active and available strategies.
// GET /api/strategy
func (h *CycleHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":     h.ctrl.ActiveName(),
		"strategies": h.ctrl.Strategies(),
	})
}

// SetStrategy switches the active strategy from the next cycle on.
// POST /api/strategy {"name": "fused"}
func (h *CycleHandler) SetStrategy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := h.ctrl.SetStrategy(name); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active": name})
}
