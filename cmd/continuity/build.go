package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FairForge/continuity/internal/actions"
	"github.com/FairForge/continuity/internal/audit"
	"github.com/FairForge/continuity/internal/config"
	"github.com/FairForge/continuity/internal/database"
	"github.com/FairForge/continuity/internal/engine"
	"github.com/FairForge/continuity/internal/ha"
	"github.com/FairForge/continuity/internal/storage"
)

// runtime is a wired engine plus the resources it holds open
type runtime struct {
	engine   *engine.Engine
	registry *prometheus.Registry
	closers  []func() error
}

func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// build loads the topology and wires every backend named in the settings
func (c *cli) build(ctx context.Context) (rt *runtime, err error) {
	top, err := config.LoadTopology(c.cfg.Topology.ClusterFile, c.cfg.Topology.PolicyFile)
	if err != nil {
		return nil, err
	}

	rt = &runtime{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	store, history, err := c.auditStore(ctx, rt)
	if err != nil {
		return nil, err
	}

	auditOpts := []audit.Option{audit.WithLogger(c.logger)}
	if secret := c.cfg.Audit.SigningSecret; secret != "" {
		signer, err := audit.NewSigner([]byte(secret))
		if err != nil {
			return nil, err
		}
		auditOpts = append(auditOpts, audit.WithSigner(signer))
	}
	auditor := audit.NewAuditor(c.cfg.Audit.Confidence, auditOpts...)

	heartbeats, err := c.heartbeatStore(ctx, rt)
	if err != nil {
		return nil, err
	}

	metrics := ha.NewMetrics(rt.registry)
	tracker := ha.NewHealthTracker(c.cfg.Tracker, ha.RealClock{})
	tracker.Subscribe(func(ev ha.HealthEvent) {
		c.logger.Warn("node health changed",
			zap.String("node_id", ev.NodeID),
			zap.String("event", ev.Type.String()),
			zap.String("message", ev.Message))
	})
	rt.closers = append(rt.closers, func() error {
		tracker.Stop()
		return nil
	})

	var probe ha.Probe
	if c.cfg.Heartbeats.Probe == config.ProbeHTTP {
		hp := ha.NewHTTPProbe(c.cfg.Heartbeats.ProbePort, c.cfg.Monitor.ProbeTimeout)
		hp.Path = c.cfg.Heartbeats.ProbePath
		probe = hp
	}
	monitor := ha.NewHeartbeatMonitor(c.cfg.Monitor, ha.MonitorDeps{
		Probe:   probe,
		Store:   heartbeats,
		Tracker: tracker,
		Metrics: metrics,
		Logger:  c.logger.Named("monitor"),
	})

	registry, err := actions.Connect(ctx, c.cfg.Actions, c.logger.Named("actions"))
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, registry.Close)

	opts := engine.Options{
		Tuning:   c.cfg.Engine,
		Handlers: registry.Handlers(),
		Monitor:  monitor,
		Auditor:  auditor,
		Audits:   store,
		Metrics:  metrics,
		Logger:   c.logger,
	}
	if history != nil {
		opts.History = history
	}
	rt.engine, err = engine.New(top, opts)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (c *cli) auditStore(ctx context.Context, rt *runtime) (audit.Store, *database.HistoryStore, error) {
	cfg := c.cfg.Audit
	switch cfg.Backend {
	case config.BackendMemory:
		return audit.NewMemoryStore(), nil, nil
	case config.BackendFile:
		store, err := audit.NewFileStore(cfg.Dir)
		return store, nil, err
	case config.BackendPostgres:
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		rt.closers = append(rt.closers, db.Close)
		if err := db.CreateTables(ctx); err != nil {
			return nil, nil, err
		}
		return audit.NewPostgresStore(db.DB()), database.NewHistoryStore(db.DB()), nil
	case config.BackendS3:
		client, err := audit.NewS3Client(ctx, cfg.S3.Options())
		if err != nil {
			return nil, nil, err
		}
		return audit.NewS3Store(client, cfg.S3.Bucket, cfg.S3.Prefix, c.logger.Named("audit")), nil, nil
	default:
		return nil, nil, &ha.ConfigError{Field: "audit.backend", Msg: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
}

func (c *cli) heartbeatStore(ctx context.Context, rt *runtime) (ha.HeartbeatStore, error) {
	cfg := c.cfg.Heartbeats
	if cfg.Backend != config.HeartbeatsRedis {
		return ha.NewMemoryHeartbeatStore(cfg.History), nil
	}
	opts := storage.RedisOptions{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		History:  cfg.History,
		TTL:      cfg.TTL,
	}
	client, err := storage.NewRedisClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, client.Close)
	return storage.NewRedisHeartbeatStore(client, opts), nil
}
