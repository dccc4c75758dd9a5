package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LatestID is the id alias that resolves to the newest pack
const LatestID = "latest"

// Store persists audit packs
type Store interface {
	Save(ctx context.Context, pack AuditPack) error
	Get(ctx context.Context, id string) (AuditPack, error)
	Latest(ctx context.Context) (AuditPack, error)
	List(ctx context.Context, limit int) ([]AuditPack, error)
}

// Lookup resolves id, treating "latest" as the newest pack
func Lookup(ctx context.Context, s Store, id string) (AuditPack, error) {
	if id == "" || id == LatestID {
		return s.Latest(ctx)
	}
	return s.Get(ctx, id)
}

// MemoryStore keeps packs in memory
type MemoryStore struct {
	mu    sync.RWMutex
	packs map[string]AuditPack
	order []string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{packs: make(map[string]AuditPack)}
}

func (s *MemoryStore) Save(_ context.Context, pack AuditPack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.packs[pack.AuditID]; !exists {
		s.order = append(s.order, pack.AuditID)
	}
	s.packs[pack.AuditID] = pack
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (AuditPack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pack, ok := s.packs[id]
	if !ok {
		return AuditPack{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return pack, nil
}

func (s *MemoryStore) Latest(ctx context.Context) (AuditPack, error) {
	s.mu.RLock()
	if len(s.order) == 0 {
		s.mu.RUnlock()
		return AuditPack{}, fmt.Errorf("%w: store is empty", ErrNotFound)
	}
	id := s.order[len(s.order)-1]
	s.mu.RUnlock()
	return s.Get(ctx, id)
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]AuditPack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditPack, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.packs[s.order[i]])
	}
	return out, nil
}

// FileStore writes one JSON document per pack plus a pointer to the newest
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid audit id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) Save(_ context.Context, pack AuditPack) error {
	p, err := s.path(pack.AuditID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pack: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(p, data); err != nil {
		return fmt.Errorf("write pack: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, LatestID), []byte(pack.AuditID)); err != nil {
		return fmt.Errorf("write latest pointer: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, id string) (AuditPack, error) {
	p, err := s.path(id)
	if err != nil {
		return AuditPack{}, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return AuditPack{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return AuditPack{}, fmt.Errorf("read pack: %w", err)
	}
	var pack AuditPack
	if err := json.Unmarshal(data, &pack); err != nil {
		return AuditPack{}, fmt.Errorf("decode pack %s: %w", id, err)
	}
	return pack, nil
}

func (s *FileStore) Latest(ctx context.Context) (AuditPack, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, LatestID))
	if errors.Is(err, os.ErrNotExist) {
		return AuditPack{}, fmt.Errorf("%w: store is empty", ErrNotFound)
	}
	if err != nil {
		return AuditPack{}, fmt.Errorf("read latest pointer: %w", err)
	}
	return s.Get(ctx, strings.TrimSpace(string(data)))
}

func (s *FileStore) List(ctx context.Context, limit int) ([]AuditPack, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	packs := make([]AuditPack, 0, len(matches))
	for _, m := range matches {
		pack, err := s.Get(ctx, strings.TrimSuffix(filepath.Base(m), ".json"))
		if err != nil {
			return nil, err
		}
		packs = append(packs, pack)
	}
	sortNewestFirst(packs)
	if limit > 0 && len(packs) > limit {
		packs = packs[:limit]
	}
	return packs, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func sortNewestFirst(packs []AuditPack) {
	sort.SliceStable(packs, func(i, j int) bool { return packs[i].CreatedAt.After(packs[j].CreatedAt) })
}
