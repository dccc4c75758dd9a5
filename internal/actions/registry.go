// Package actions performs the side effects of failover actions: event
// notification over NATS, service record flips in etcd and node agent
// calls over HTTP.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/FairForge/continuity/internal/config"
	"github.com/FairForge/continuity/internal/ha"
)

// Registry maps action types to their handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[ha.ActionType]ha.ActionHandler
	closers  []func() error
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[ha.ActionType]ha.ActionHandler)}
}

// Register sets the handler for t, replacing any previous one
func (r *Registry) Register(t ha.ActionType, h ha.ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Handlers returns a copy of the handler table for an executor
func (r *Registry) Handlers() map[ha.ActionType]ha.ActionHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ha.ActionType]ha.ActionHandler, len(r.handlers))
	for t, h := range r.handlers {
		out[t] = h
	}
	return out
}

// Close releases the connections opened by Connect
func (r *Registry) Close() error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for _, c := range closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Connect builds the production handler set. Without a NATS URL notify only
// logs; without etcd endpoints the node agent performs the DNS flip.
func Connect(ctx context.Context, cfg config.ActionsConfig, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := NewRegistry()

	agent := NewAgentHandler(AgentOptions{
		Port:    cfg.Agent.Port,
		Scheme:  cfg.Agent.Scheme,
		Timeout: cfg.Agent.Timeout,
		Token:   cfg.Agent.Token,
	}, logger)
	for _, t := range []ha.ActionType{ha.ActionDemote, ha.ActionPromote, ha.ActionRestart, ha.ActionVerify, ha.ActionDNSFlip} {
		r.Register(t, agent)
	}

	var publisher Publisher
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("continuity"),
			nats.Timeout(5*time.Second),
			nats.MaxReconnects(10),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		publisher = nc
		r.closers = append(r.closers, func() error {
			nc.Close()
			return nil
		})
	}
	r.Register(ha.ActionNotify, NewNotifyHandler(publisher, cfg.NATS.Subject, logger))

	if len(cfg.Etcd.Endpoints) > 0 {
		dial := cfg.Etcd.DialTimeout
		if dial <= 0 {
			dial = 5 * time.Second
		}
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: dial,
			Context:     ctx,
			Logger:      logger.Named("etcd"),
		})
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		r.closers = append(r.closers, cli.Close)
		r.Register(ha.ActionDNSFlip, NewDNSFlipHandler(cli.KV, cfg.Etcd.Prefix, logger))
	}

	return r, nil
}
