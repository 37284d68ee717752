package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fundforge/ffcore/internal/domain"
)

// OrderService defines the methods the order handler requires from the
// durable order store.
type OrderService interface {
	ListOpen(ctx context.Context, account string) ([]domain.Order, error)
	ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Order, error)
	GetByID(ctx context.Context, id string) (domain.Order, error)
}

// OrderHandler serves read-only order monitoring endpoints. Order placement
// and cancellation happen over the strategy<->server wire protocol (spec
// §4.1), not HTTP — this is ambient monitoring surface only.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// ListOrders returns open orders for an account, or paginated order history.
// GET /api/orders?account=...&open=true&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account query parameter required")
		return
	}

	var orders []domain.Order
	var err error
	if r.URL.Query().Get("open") == "true" {
		orders, err = h.orders.ListOpen(r.Context(), account)
	} else {
		orders, err = h.orders.ListByAccount(r.Context(), account, parseListOpts(r))
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}

// GetOrder returns a single order by ID.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}
	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get order failed", slog.String("order_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}
