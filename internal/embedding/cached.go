package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// CachedEncoder keeps recent vectors in memory, keyed by a hash of the text.
// Once full, the least recently used entry is evicted.
type CachedEncoder struct {
	inner      Encoder
	cache      *lru.Cache[string, []float32]
	cacheTotal *prometheus.CounterVec
}

// NewCached creates a caching decorator.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly; it may be nil.
func NewCached(inner Encoder, maxEntries int, cacheTotal *prometheus.CounterVec) *CachedEncoder {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, []float32](maxEntries)
	return &CachedEncoder{
		inner:      inner,
		cache:      cache,
		cacheTotal: cacheTotal,
	}
}

func (c *CachedEncoder) Name() string   { return c.inner.Name() }
func (c *CachedEncoder) Dimension() int { return c.inner.Dimension() }

// Encode returns a cached vector or calls the inner encoder.
func (c *CachedEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if vec, ok := c.get(key); ok {
		c.incCache("hit")
		return vec, nil
	}
	c.incCache("miss")

	vec, err := c.inner.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(key, vec)
	return clone(vec), nil
}

// EncodeBatch serves hits from the cache and sends only misses to the inner encoder.
func (c *CachedEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := c.get(cacheKey(text)); ok {
			c.incCache("hit")
			out[i] = vec
			continue
		}
		c.incCache("miss")
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := encodeBatch(ctx, c.inner, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		c.put(cacheKey(missTexts[j]), vecs[j])
		out[i] = clone(vecs[j])
	}
	return out, nil
}

// Len returns the number of cached vectors.
func (c *CachedEncoder) Len() int {
	return c.cache.Len()
}

func (c *CachedEncoder) get(key string) ([]float32, bool) {
	vec, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return clone(vec), true
}

func (c *CachedEncoder) put(key string, vec []float32) {
	c.cache.ContainsOrAdd(key, clone(vec))
}

func (c *CachedEncoder) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func clone(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
