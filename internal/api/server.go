// Package api serves the continuity engine over HTTP
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FairForge/continuity/internal/auth"
	"github.com/FairForge/continuity/internal/config"
	"github.com/FairForge/continuity/internal/engine"
	"github.com/FairForge/continuity/internal/ratelimit"
)

// Deps are the collaborators of the server
type Deps struct {
	Engine   *engine.Engine
	Tokens   *auth.TokenService // nil disables authentication
	Limiter  *ratelimit.KeyedLimiter
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type Server struct {
	cfg        config.ServerConfig
	engine     *engine.Engine
	tokens     *auth.TokenService
	limiter    *ratelimit.KeyedLimiter
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
	startTime  time.Time
}

func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		engine:    deps.Engine,
		tokens:    deps.Tokens,
		limiter:   deps.Limiter,
		gatherer:  deps.Gatherer,
		logger:    deps.Logger,
		startTime: time.Now(),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewKeyedLimiter(0, 0)
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.tokens == nil {
		s.logger.Warn("api authentication disabled: no jwt secret configured")
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.logger.Info("starting api server", zap.Int("port", s.cfg.Port))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
