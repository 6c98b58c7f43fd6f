package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedEmbedder wraps an Embedder with a Redis cache-aside layer, keyed by
// model name and text hash. Grounded on the pack's Redis-store idiom
// (key-prefix + TTL config, fixed retry-free client calls since the
// underlying go-redis client already pools and retries internally).
type CachedEmbedder struct {
	next      Embedder
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewCachedEmbedder wraps next with a Redis-backed embedding cache. A
// ttl <= 0 means entries never expire.
func NewCachedEmbedder(next Embedder, client *redis.Client, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, client: client, keyPrefix: "agenticrag:embed", ttl: ttl}
}

func (c *CachedEmbedder) Name() string                   { return c.next.Name() }
func (c *CachedEmbedder) Dimension() int                 { return c.next.Dimension() }
func (c *CachedEmbedder) Ping(ctx context.Context) error { return c.next.Ping(ctx) }

// EmbedBatch looks up each text's vector in Redis first, embedding only the
// cache misses via next, and populates the cache for the misses before
// returning. Any Redis error degrades to a pass-through call to next for
// that text rather than failing the whole batch.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		vec, ok := c.get(ctx, text)
		if ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = vecs[j]
		c.set(ctx, missTexts[j], vecs[j])
	}
	return out, nil
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.next.Name() + "\x00" + text))
	return fmt.Sprintf("%s:%s", c.keyPrefix, hex.EncodeToString(sum[:]))
}

func (c *CachedEmbedder) get(ctx context.Context, text string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, c.cacheKey(text)).Bytes()
	if err != nil {
		return nil, false
	}
	return decodeFloat32s(raw), true
}

func (c *CachedEmbedder) set(ctx context.Context, text string, vec []float32) {
	_ = c.client.Set(ctx, c.cacheKey(text), encodeFloat32s(vec), c.ttl).Err()
}

func encodeFloat32s(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.BigEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[i*4:]))
	}
	return vec
}
