package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/alanyoungcy/yieldrebalancer/internal/service"
)

// AccountManager is the account service as seen by the admin API.
type AccountManager interface {
	Register(ctx context.Context, address, keyID string) (domain.Account, error)
	Unregister(ctx context.Context, address string) error
	List(ctx context.Context) ([]service.AccountView, error)
}

// AccountHandler serves account enrolment endpoints.
type AccountHandler struct {
	accounts AccountManager
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountManager, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

// List returns enrolled accounts with last move and moves today.
// GET /api/accounts
func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.accounts.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": views, "count": len(views)})
}

// Register enrols an account.
// POST /api/accounts {"address": "0x…", "key_id": "…"}
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address string `json:"address"`
		KeyID   string `json:"key_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.KeyID == "" {
		writeError(w, http.StatusBadRequest, "key_id is required")
		return
	}
	acct, err := h.accounts.Register(r.Context(), body.Address, body.KeyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// Unregister removes an account.
// DELETE /api/accounts/{address}
func (h *AccountHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Unregister(r.Context(), r.PathValue("address")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
