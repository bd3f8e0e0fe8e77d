package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rag-document-pipeline/utils"
)

const embeddingCacheTTL = 24 * time.Hour

// EmbeddingCache memoizes query embeddings in Redis. Retrieval queries
// repeat often (conversation follow-ups re-embed near-identical text) and
// embedding calls are the slowest part of the retrieval path.
type EmbeddingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEmbeddingCache creates a cache over the given Redis client. A nil
// client disables caching; every lookup misses.
func NewEmbeddingCache(client *redis.Client) *EmbeddingCache {
	return &EmbeddingCache{client: client, ttl: embeddingCacheTTL}
}

// key namespaces entries by embedding model so cached vectors from one model
// can never serve a retriever configured with another.
func (c *EmbeddingCache) key(modelID, text string) string {
	return fmt.Sprintf("embed:%s:%s", modelID, utils.TextHash(text))
}

// Get returns the cached vector for (modelID, text), or found=false.
func (c *EmbeddingCache) Get(ctx context.Context, modelID, text string) ([]float32, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, c.key(modelID, text)).Bytes()
	if err != nil {
		return nil, false
	}

	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		return nil, false
	}
	return vector, true
}

// Put stores a vector. Failures are ignored; the cache is best-effort.
func (c *EmbeddingCache) Put(ctx context.Context, modelID, text string, vector []float32) {
	if c == nil || c.client == nil || len(vector) == 0 {
		return
	}

	raw, err := json.Marshal(vector)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.key(modelID, text), raw, c.ttl)
}
