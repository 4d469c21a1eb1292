package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	apperrors "brokerdash/internal/errors"
	"brokerdash/internal/logging"
	"brokerdash/internal/security"
)

// loggingMiddleware logs HTTP requests and attaches a request-scoped logger
// and audit metadata to the context.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())

		ctx := logging.WithLogger(r.Context(), s.log.With().Str("request_id", reqID).Logger())
		ctx = security.WithAuditMeta(ctx, security.AuditMeta{RequestID: reqID, IPAddress: r.RemoteAddr})

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		event := s.log.Info()
		if ww.Status() >= http.StatusInternalServerError {
			event = s.log.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", reqID).
			Msg("HTTP request")
	})
}

// authMiddleware requires a valid bearer token and stores the user id in
// the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			s.writeError(w, r, apperrors.ErrNotAuthenticated)
			return
		}

		claims, err := s.auth.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), logging.UserIDKey, claims.UserID)
		ctx = logging.WithLogger(ctx, logging.WithUser(logging.FromContext(ctx), claims.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userID returns the authenticated user for the request.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(logging.UserIDKey).(string)
	return id
}
