package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/warranty-desk/internal/metrics"
)

// ErrEmptyDocument возвращается при попытке построить индекс по пустому документу.
var ErrEmptyDocument = errors.New("document has no sections")

// Embedder превращает текст в вектор фиксированной размерности.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// Builder строит индекс не более одного раза на содержимое документа:
// одновременные вызовы Build объединяются, готовый индекс берётся из памяти или
// из кэша, и только при промахе разделы векторизуются заново целиком.
type Builder struct {
	embedder Embedder
	cache    Cache
	logger   *zap.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	current *Index
}

// NewBuilder создаёт построитель индекса.
func NewBuilder(embedder Embedder, cache Cache, logger *zap.Logger) *Builder {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{embedder: embedder, cache: cache, logger: logger}
}

// Current возвращает последний построенный индекс или nil.
func (b *Builder) Current() *Index {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Build возвращает индекс для документа.
func (b *Builder) Build(ctx context.Context, doc string) (*Index, error) {
	hash := ContentHash(doc)
	if ix := b.Current(); ix != nil && ix.hash == hash && ix.model == b.embedder.Name() {
		metrics.IndexBuilds.WithLabelValues("memory").Inc()
		return ix, nil
	}

	v, err, _ := b.group.Do(hash, func() (any, error) {
		ix, err := b.load(ctx, hash)
		if err != nil {
			return nil, err
		}
		if ix == nil {
			if ix, err = b.rebuild(ctx, hash, doc); err != nil {
				return nil, err
			}
		}
		b.mu.Lock()
		b.current = ix
		b.mu.Unlock()
		return ix, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// load читает снимок из кэша. Снимок с другим хешем, другой моделью или битыми
// векторами считается промахом.
func (b *Builder) load(ctx context.Context, hash string) (*Index, error) {
	snap, err := b.cache.Get(ctx, hash)
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		b.logger.Warn("index cache read failed", zap.String("hash", hash), zap.Error(err))
		return nil, nil
	}
	if snap.Hash != hash || snap.Model != b.embedder.Name() {
		return nil, nil
	}
	ix, err := newIndex(snap)
	if err != nil {
		b.logger.Warn("discarding corrupt index snapshot", zap.String("hash", hash), zap.Error(err))
		return nil, nil
	}
	metrics.IndexBuilds.WithLabelValues("cache_hit").Inc()
	return ix, nil
}

func (b *Builder) rebuild(ctx context.Context, hash, doc string) (*Index, error) {
	sections := Sections(doc)
	if len(sections) == 0 {
		return nil, ErrEmptyDocument
	}

	vectors := make([][]float32, len(sections))
	for i, s := range sections {
		vec, err := b.embedder.Embed(ctx, s.Content())
		if err != nil {
			return nil, fmt.Errorf("embed section %q: %w", s.Title, err)
		}
		vectors[i] = vec
	}

	snap := &Snapshot{Hash: hash, Model: b.embedder.Name(), Sections: sections, Vectors: vectors}
	ix, err := newIndex(snap)
	if err != nil {
		return nil, err
	}
	if err := b.cache.Put(ctx, snap); err != nil {
		b.logger.Warn("index cache write failed", zap.String("hash", hash), zap.Error(err))
	}
	metrics.IndexBuilds.WithLabelValues("rebuilt").Inc()
	b.logger.Info("retrieval index built",
		zap.String("hash", hash),
		zap.Int("sections", len(sections)),
		zap.Int("dimension", ix.dimension),
	)
	return ix, nil
}

// Answer строит (или берёт готовый) индекс документа, векторизует вопрос и
// возвращает k ближайших разделов.
func (b *Builder) Answer(ctx context.Context, doc, question string, k int) ([]Result, error) {
	ix, err := b.Build(ctx, doc)
	if err != nil {
		return nil, err
	}
	q, err := b.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	return ix.Query(q, k)
}
