package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/FairForge/continuity/internal/audit"
	"github.com/FairForge/continuity/internal/auth"
	"github.com/FairForge/continuity/internal/ha"
	"github.com/FairForge/continuity/internal/logging"
	"github.com/FairForge/continuity/internal/ratelimit"
)

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		ctx := context.WithValue(r.Context(), logging.ContextKeyRequestID, middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.WithContext(ctx, s.logger).Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

// authMiddleware requires a valid bearer token, and scope when non-empty
func (s *Server) authMiddleware(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.tokens == nil {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				respondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := s.tokens.Validate(token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if scope != "" && !claims.HasScope(scope) {
				respondError(w, http.StatusForbidden, auth.ErrInsufficientScope.Error())
				return
			}

			ctx := context.WithValue(r.Context(), logging.ContextKeySubject, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// callerKey rate limits by token subject when authenticated, else by address
func (s *Server) callerKey(r *http.Request) string {
	if s.tokens != nil {
		if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			if claims, err := s.tokens.Validate(token); err == nil {
				return "sub:" + claims.Subject
			}
		}
	}
	return "ip:" + ratelimit.RemoteIP(r)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var cfgErr *ha.ConfigError
	var planErr *ha.PlanningError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &planErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, audit.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, audit.ErrManifestTampered), errors.Is(err, audit.ErrSignatureMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Error("request failed", zap.Error(err))
	}
	resp := errorResponse{Error: err.Error()}
	var planErr *ha.PlanningError
	if errors.As(err, &planErr) {
		resp.Reason = string(planErr.Reason)
	}
	respondJSON(w, status, resp)
}
