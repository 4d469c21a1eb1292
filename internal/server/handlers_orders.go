package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
	"brokerdash/internal/security"
	"brokerdash/internal/store"
	"brokerdash/internal/trading"
)

func parseOrderFilter(r *http.Request) (store.OrderFilter, error) {
	q := r.URL.Query()
	filter := store.OrderFilter{
		Status: models.OrderStatus(strings.ToUpper(q.Get("status"))),
		Symbol: strings.TrimSpace(q.Get("symbol")),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, apperrors.NewValidationError("limit", raw, "must be a positive integer")
		}
		filter.Limit = n
	}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, apperrors.NewValidationError("since", raw, "must be an RFC 3339 timestamp")
		}
		filter.Since = t
	}
	return filter, nil
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := parseOrderFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	orders, err := s.orders.ListOrders(r.Context(), userID(r), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	s.writeData(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.GetOrder(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, order)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req trading.PlaceOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	order, err := s.orders.PlaceOrder(r.Context(), userID(r), &req)
	s.recordAudit(r, orderEvent(security.AuditOrderPlaced, userID(r), order, &req), err)
	if apperrors.Is(err, apperrors.ErrOrderRejected) {
		// A broker rejection still produced a stored REJECTED order.
		s.writeErrorWithData(w, r, err, order)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusCreated, order)
}

func (s *Server) handleModifyOrder(w http.ResponseWriter, r *http.Request) {
	var req trading.ModifyOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	order, err := s.orders.ModifyOrder(r.Context(), userID(r), chi.URLParam(r, "id"), &req)
	event := orderEvent(security.AuditOrderModified, userID(r), order, nil)
	if order == nil {
		event.OrderID = chi.URLParam(r, "id")
	}
	s.recordAudit(r, event, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.CancelOrder(r.Context(), userID(r), chi.URLParam(r, "id"))
	event := orderEvent(security.AuditOrderCancelled, userID(r), order, nil)
	if order == nil {
		event.OrderID = chi.URLParam(r, "id")
	}
	s.recordAudit(r, event, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, order)
}

func (s *Server) handleSyncOrders(w http.ResponseWriter, r *http.Request) {
	result, err := s.orders.SyncOrders(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, result)
}

func orderEvent(kind security.AuditEventType, userID string, order *models.Order, req *trading.PlaceOrderRequest) security.AuditEvent {
	event := security.AuditEvent{EventType: kind, UserID: userID}
	switch {
	case order != nil:
		event.OrderID = order.ID
		event.Symbol = order.Symbol
		event.Action = string(order.TransactionType)
		event.Details = map[string]interface{}{
			"broker_order_id": order.BrokerOrderID,
			"status":          string(order.Status),
			"quantity":        order.Quantity,
			"order_type":      string(order.OrderType),
		}
	case req != nil:
		event.Symbol = strings.ToUpper(req.Symbol)
		event.Action = string(req.TransactionType)
		event.Details = map[string]interface{}{"quantity": req.Quantity, "order_type": string(req.OrderType)}
	}
	return event
}
