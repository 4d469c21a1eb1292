package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/logging"
	"brokerdash/internal/resilience"
	"brokerdash/internal/security"
)

const maxBodyBytes = 1 << 20

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeData(w http.ResponseWriter, status int, data interface{}) {
	s.writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError maps err to a status and a user-facing message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorWithData(w, r, err, nil)
}

// writeErrorWithData is writeError plus a payload, used when a failed
// request still produced a record (a rejected order).
func (s *Server) writeErrorWithData(w http.ResponseWriter, r *http.Request, err error, data interface{}) {
	status, message := classify(err)

	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Str("error", security.MaskSecrets(err.Error())).Int("status", status).Msg("Request failed")
	} else {
		logger.Debug().Str("error", security.MaskSecrets(err.Error())).Int("status", status).Msg("Request rejected")
	}

	s.writeJSON(w, status, envelope{Success: false, Message: message, Data: data})
}

// classify returns the HTTP status and message for err. Validation and
// broker messages are passed through; internal failures are not.
func classify(err error) (int, string) {
	var ve *apperrors.ValidationError
	if apperrors.As(err, &ve) {
		return http.StatusBadRequest, ve.Field + " " + ve.Message
	}

	var be *apperrors.BrokerError
	isBroker := apperrors.As(err, &be)

	switch {
	case apperrors.Is(err, apperrors.ErrNotAuthenticated):
		return http.StatusUnauthorized, "authentication required"
	case apperrors.Is(err, apperrors.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid email or password"
	case apperrors.Is(err, apperrors.ErrSessionExpired):
		return http.StatusUnauthorized, "broker session expired, link your broker account again"
	case apperrors.Is(err, apperrors.ErrBrokerNotLinked):
		return http.StatusConflict, "link a broker account first"
	case apperrors.Is(err, apperrors.ErrSyncInProgress):
		return http.StatusConflict, err.Error()
	case apperrors.Is(err, apperrors.ErrAlreadyExists):
		return http.StatusConflict, "already exists"
	case apperrors.Is(err, apperrors.ErrDataNotFound):
		return http.StatusNotFound, "not found"
	case apperrors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests, apperrors.BrokerMessage(err)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "broker temporarily unavailable"
	case isBroker:
		return http.StatusBadGateway, be.Message
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	}
	return http.StatusInternalServerError, "internal error"
}

// decodeJSON reads a JSON body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.NewValidationError("body", "", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// recordAudit writes an audit event for the request outcome.
func (s *Server) recordAudit(r *http.Request, event security.AuditEvent, err error) {
	if auditErr := s.audit.Record(r.Context(), event, err); auditErr != nil {
		log := logging.FromContext(r.Context())
		log.Warn().Err(auditErr).Msg("Failed to write audit event")
	}
}
