package embeddings

import (
	"container/list"
	"context"
	"sync"

	"go.uber.org/zap"
)

// Cache is an LRU cache of embeddings keyed by input text.
type Cache struct {
	capacity int
	items    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value []float32
}

func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Set stores value for key, evicting the least recently used entry when full.
func (c *Cache) Set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	c.items[key] = c.lru.PushFront(&cacheEntry{key: key, value: value})

	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// CachedEmbedder serves repeated texts (mostly repeated questions) from an
// LRU cache and forwards only the misses to the wrapped embedder.
type CachedEmbedder struct {
	next   Embedder
	cache  *Cache
	logger *zap.Logger
}

type CacheOption func(*CachedEmbedder)

func WithLogger(logger *zap.Logger) CacheOption {
	return func(e *CachedEmbedder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewCachedEmbedder(next Embedder, capacity int, opts ...CacheOption) *CachedEmbedder {
	e := &CachedEmbedder{
		next:   next,
		cache:  NewCache(capacity),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	var (
		missTexts []string
		missIdx   []int
	)
	for i, text := range texts {
		if vec, ok := e.cache.Get(text); ok {
			results[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		e.logger.Debug("embedding cache hit", zap.Int("texts", len(texts)))
		return results, nil
	}

	vectors, err := e.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		if j >= len(missIdx) {
			break
		}
		results[missIdx[j]] = vec
		e.cache.Set(missTexts[j], vec)
	}

	return results, nil
}

var _ Embedder = (*CachedEmbedder)(nil)
