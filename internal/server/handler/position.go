package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fundforge/ffcore/internal/domain"
)

// PositionService defines the methods the position handler requires.
type PositionService interface {
	GetOpen(ctx context.Context, account string) ([]domain.Position, error)
	ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.ClosedTrade, error)
}

// PositionHandler serves read-only position/closed-trade monitoring
// endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{positions: positions, logger: logger}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns open positions for an account.
// GET /api/positions?account=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account query parameter required")
		return
	}

	positions, err := h.positions.GetOpen(r.Context(), account)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

type listClosedTradesResponse struct {
	Trades []domain.ClosedTrade `json:"trades"`
}

// ListClosedTrades returns the realized round-trip history for an account.
// GET /api/trades?account=...&limit=50&offset=0
func (h *PositionHandler) ListClosedTrades(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account query parameter required")
		return
	}

	trades, err := h.positions.ListByAccount(r.Context(), account, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list closed trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list closed trades")
		return
	}
	if trades == nil {
		trades = []domain.ClosedTrade{}
	}
	writeJSON(w, http.StatusOK, listClosedTradesResponse{Trades: trades})
}
