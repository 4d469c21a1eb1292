package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/models"
	"brokerdash/internal/security"
	"brokerdash/internal/trading"
)

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.portfolio.GetPortfolio(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, p)
}

func (s *Server) handlePortfolioSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.portfolio.Summary(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, summary)
}

func (s *Server) handleSyncPortfolio(w http.ResponseWriter, r *http.Request) {
	result, err := s.portfolio.Sync(r.Context(), userID(r))
	event := security.AuditEvent{EventType: security.AuditPortfolioSync, UserID: userID(r), Action: "full_sync"}
	if result != nil {
		event.Details = map[string]interface{}{
			"holdings":        len(result.Portfolio.Holdings),
			"skipped_records": result.SkippedRecords,
		}
	}
	s.recordAudit(r, event, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, result)
}

func (s *Server) handleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	result, err := s.portfolio.RefreshPrices(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, result)
}

func (s *Server) handleMovers(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, apperrors.NewValidationError("limit", raw, "must be a positive integer"))
			return
		}
		limit = n
	}

	movers, err := s.portfolio.Movers(r.Context(), userID(r), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, movers)
}

func (s *Server) handleAddHolding(w http.ResponseWriter, r *http.Request) {
	var req trading.ManualHolding
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Exchange = models.Exchange(strings.ToUpper(string(req.Exchange)))

	p, err := s.portfolio.AddHolding(r.Context(), userID(r), req)
	s.recordAudit(r, security.AuditEvent{
		EventType: security.AuditHoldingChanged,
		UserID:    userID(r),
		Symbol:    strings.ToUpper(req.Symbol),
		Action:    "add",
		Details:   map[string]interface{}{"quantity": req.Quantity, "average_price": req.AveragePrice},
	}, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, p)
}

func (s *Server) handleRemoveHolding(w http.ResponseWriter, r *http.Request) {
	exchange, err := models.ParseExchange(chi.URLParam(r, "exchange"))
	if err != nil {
		s.writeError(w, r, apperrors.NewValidationError("exchange", chi.URLParam(r, "exchange"), "unknown exchange"))
		return
	}
	symbol := chi.URLParam(r, "symbol")

	p, err := s.portfolio.RemoveHolding(r.Context(), userID(r), symbol, exchange)
	s.recordAudit(r, security.AuditEvent{
		EventType: security.AuditHoldingChanged,
		UserID:    userID(r),
		Symbol:    strings.ToUpper(symbol),
		Action:    "remove",
	}, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeData(w, http.StatusOK, p)
}
