package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/FairForge/continuity/internal/api"
	"github.com/FairForge/continuity/internal/auth"
	"github.com/FairForge/continuity/internal/config"
	"github.com/FairForge/continuity/internal/ha"
	"github.com/FairForge/continuity/internal/ratelimit"
)

func runServe(c *cli, args []string) int {
	fs := c.flags("serve")
	port := fs.Int("port", c.cfg.Server.Port, "listen port")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	c.cfg.Server.Port = *port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := c.build(ctx)
	if err != nil {
		return c.fail(err)
	}
	defer func() { _ = rt.Close() }()
	eng := rt.engine

	var tokens *auth.TokenService
	if c.cfg.Auth.JWTSecret != "" {
		tokens, err = auth.NewTokenService(c.cfg.Auth.JWTSecret, c.cfg.Auth.Issuer)
		if err != nil {
			return c.fail(err)
		}
	}

	server := api.NewServer(c.cfg.Server, api.Deps{
		Engine:   eng,
		Tokens:   tokens,
		Limiter:  ratelimit.NewKeyedLimiter(c.cfg.RateLimit.RequestsPerSecond, c.cfg.RateLimit.Burst),
		Gatherer: rt.registry,
		Logger:   c.logger.Named("api"),
	})

	go eng.Monitor().Run(ctx, func() ha.Cluster { return eng.Topology().Cluster }, func(cl ha.Cluster, q ha.QuorumStatus) {
		if !q.HasQuorum {
			c.logger.Warn("quorum lost",
				zap.String("cluster_id", cl.ID),
				zap.Int("healthy", q.HealthyNodes),
				zap.Int("quorum_size", q.QuorumSize))
		}
	})

	if c.cfg.Topology.Watch {
		watcher, err := config.NewWatcher(c.cfg.Topology.ClusterFile, c.cfg.Topology.PolicyFile, c.logger.Named("topology"))
		if err != nil {
			return c.fail(err)
		}
		go func() {
			if err := watcher.Run(ctx, eng.SetTopology); err != nil {
				c.logger.Error("topology watcher stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	fmt.Fprintf(c.stdout, "continuity serving cluster %s on :%d\n", eng.Topology().Cluster.ID, c.cfg.Server.Port)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return c.fail(err)
		}
	case <-ctx.Done():
		c.logger.Info("shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		c.logger.Error("shutdown error", zap.Error(err))
		return exitFailure
	}
	return exitOK
}
