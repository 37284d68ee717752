package handler

import (
	"log/slog"
	"net/http"

	"github.com/fundforge/ffcore/internal/domain"
)

// AccountService defines the methods the account handler requires from the
// matching engine's ledger.
type AccountService interface {
	Account(id string) (domain.Account, bool)
	Statistics(account string) domain.AccountStatistics
}

// AccountHandler serves account snapshot and statistics endpoints.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

// GetAccount returns the current snapshot of an account: cash, positions,
// and commission paid.
// GET /api/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}
	acc, ok := h.accounts.Account(id)
	if !ok {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// GetStatistics returns the account's derived trade statistics (spec
// §4.8/§8): win rate, profit factor, drawdown, and friends.
// GET /api/accounts/{id}/statistics
func (h *AccountHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}
	writeJSON(w, http.StatusOK, h.accounts.Statistics(id))
}
