package embedding

import (
	"context"
	"encoding/hex"
	"time"

	"docqa-go/pkg/log"

	"golang.org/x/crypto/blake2b"
)

// Cache 存取已计算的向量。
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32, ttl time.Duration) error
}

type cachedClient struct {
	inner Client
	cache Cache
	model string
	ttl   time.Duration
}

// NewCachedClient 为 Client 加上缓存。同一模型下相同文本总是得到相同向量，缓存失败时直接回源。
func NewCachedClient(inner Client, cache Cache, model string, ttl time.Duration) Client {
	return &cachedClient{inner: inner, cache: cache, model: model, ttl: ttl}
}

// CacheKey 返回文本在指定模型下的缓存键。
func CacheKey(model, text string) string {
	sum := blake2b.Sum256([]byte(text))
	return "emb:" + model + ":" + hex.EncodeToString(sum[:])
}

func (c *cachedClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(c.model, text)
	if vec, ok, err := c.cache.Get(ctx, key); err != nil {
		log.Warnf("[EmbeddingCache] 读取缓存失败, 回源计算: %v", err)
	} else if ok {
		return vec, nil
	}

	vec, err := c.inner.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, vec, c.ttl); err != nil {
		log.Warnf("[EmbeddingCache] 写入缓存失败: %v", err)
	}
	return vec, nil
}
