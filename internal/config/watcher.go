package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/FairForge/continuity/internal/ha"
)

// Topology is a loaded cluster and policy pair
type Topology struct {
	Cluster     ha.Cluster
	Policy      ha.FailoverPolicy
	ClusterFile string
	PolicyFile  string
}

// LoadTopology reads both documents
func LoadTopology(clusterPath, policyPath string) (Topology, error) {
	c, err := LoadCluster(clusterPath)
	if err != nil {
		return Topology{}, err
	}
	p, err := LoadPolicy(policyPath)
	if err != nil {
		return Topology{}, err
	}
	return Topology{Cluster: c, Policy: p, ClusterFile: clusterPath, PolicyFile: policyPath}, nil
}

// Watcher reloads topology documents when they change on disk. A document
// that fails to load leaves the previous topology in place.
type Watcher struct {
	clusterPath string
	policyPath  string
	fsw         *fsnotify.Watcher
	logger      *zap.Logger

	mu      sync.RWMutex
	current Topology
}

// NewWatcher loads the documents and starts watching their directories
func NewWatcher(clusterPath, policyPath string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	initial, err := LoadTopology(clusterPath, policyPath)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Directories rather than files so editors that replace the file by
	// rename keep being observed.
	dirs := map[string]struct{}{
		filepath.Dir(clusterPath): {},
		filepath.Dir(policyPath):  {},
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	return &Watcher{
		clusterPath: filepath.Clean(clusterPath),
		policyPath:  filepath.Clean(policyPath),
		fsw:         fsw,
		logger:      logger,
		current:     initial,
	}, nil
}

// Current returns the last successfully loaded topology
func (w *Watcher) Current() Topology {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run processes file events until ctx is cancelled, calling onChange after
// every successful reload.
func (w *Watcher) Run(ctx context.Context, onChange func(Topology)) error {
	defer func() { _ = w.fsw.Close() }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			next, err := LoadTopology(w.clusterPath, w.policyPath)
			if err != nil {
				w.logger.Warn("topology reload failed, keeping previous",
					zap.String("file", event.Name),
					zap.Error(err))
				continue
			}
			w.mu.Lock()
			w.current = next
			w.mu.Unlock()
			w.logger.Info("topology reloaded",
				zap.String("cluster_id", next.Cluster.ID),
				zap.String("policy_id", next.Policy.ID))
			if onChange != nil {
				onChange(next)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("topology watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(event.Name)
	return name == w.clusterPath || name == w.policyPath
}
