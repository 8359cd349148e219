package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/redstone/orderflow/internal/fault"
	"github.com/redstone/orderflow/internal/logger"
	"github.com/redstone/orderflow/internal/order"
)

type OrderService interface {
	Submit(ctx context.Context, req order.CreateRequest) (order.Order, error)
	Get(ctx context.Context, id string) (order.Order, error)
}

type orderHandler struct {
	orders OrderService
	log    *logger.Logger
}

type createResponse struct {
	Message string      `json:"message"`
	OrderID string      `json:"orderId"`
	Order   order.Order `json:"order"`
}

type errorResponse struct {
	Error   string            `json:"error"`
	Details []fault.Violation `json:"details,omitempty"`
}

func (h *orderHandler) create(w http.ResponseWriter, r *http.Request) {
	req, err := order.DecodeRequest(r.Body)
	if err != nil {
		h.fail(w, err)
		return
	}
	o, err := h.orders.Submit(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{
		Message: "Order created successfully",
		OrderID: o.OrderID,
		Order:   o,
	})
}

func (h *orderHandler) fail(w http.ResponseWriter, err error) {
	switch fault.KindOf(err) {
	case fault.KindValidation:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Validation Error", Details: fault.ViolationsOf(err)})
	default:
		h.log.Error("create order failed", map[string]any{
			"kind": fault.KindOf(err).String(),
			"err":  err,
		})
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal Server Error"})
	}
}

func (h *orderHandler) get(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, order.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Order not found"})
		return
	}
	if err != nil {
		h.log.Error("get order failed", map[string]any{"err": err})
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal Server Error"})
		return
	}
	writeJSON(w, http.StatusOK, o)
}
