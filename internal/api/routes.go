package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FairForge/continuity/internal/auth"
)

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware(s.callerKey))

		r.Get("/status", s.handleStatus)
		r.Get("/audit", s.handleListAudits)
		r.Get("/audit/{id}", s.handleGetAudit)
		r.Get("/history", s.handleHistory)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware(""))
			r.Post("/plan", s.handlePlan)
			r.Post("/simulate", s.handleSimulate)
			r.Post("/audit/{id}/verify", s.handleVerifyAudit)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware(auth.ScopeExecute))
			r.Post("/execute", s.handleExecute)
		})
	})
	return r
}
