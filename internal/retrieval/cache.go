package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrCacheMiss возвращается, если в кэше нет снимка для хеша.
var ErrCacheMiss = errors.New("index cache miss")

// Snapshot: сохраняемое содержимое индекса.
type Snapshot struct {
	Hash     string      `json:"hash"`
	Model    string      `json:"model"`
	Sections []Section   `json:"sections"`
	Vectors  [][]float32 `json:"vectors"`
}

// Cache хранит снимки индекса по хешу документа.
type Cache interface {
	Get(ctx context.Context, hash string) (*Snapshot, error)
	Put(ctx context.Context, snap *Snapshot) error
	Close() error
}

// MemoryCache хранит снимки в памяти процесса.
type MemoryCache struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
}

// NewMemoryCache создаёт пустой кэш в памяти.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{snaps: make(map[string]*Snapshot)}
}

// Get возвращает снимок или ErrCacheMiss.
func (c *MemoryCache) Get(_ context.Context, hash string) (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snaps[hash]
	if !ok {
		return nil, ErrCacheMiss
	}
	return snap, nil
}

// Put сохраняет снимок.
func (c *MemoryCache) Put(_ context.Context, snap *Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snap.Hash] = snap
	return nil
}

// Close ничего не делает.
func (c *MemoryCache) Close() error { return nil }

// OpenCache открывает кэш по строке конфигурации: "memory" (или пусто),
// "redis://..." или "sqlite:<путь>".
func OpenCache(ctx context.Context, spec string) (Cache, error) {
	switch {
	case spec == "" || spec == "memory":
		return NewMemoryCache(), nil
	case strings.HasPrefix(spec, "redis://"), strings.HasPrefix(spec, "rediss://"):
		return NewRedisCache(ctx, spec)
	case strings.HasPrefix(spec, "sqlite:"):
		return NewSQLiteCache(ctx, strings.TrimPrefix(spec, "sqlite:"))
	}
	return nil, fmt.Errorf("unknown index cache %q", spec)
}
