package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// EmbeddingCacheRepository 在 Redis 中保存查询向量，实现 embedding.Cache。
type EmbeddingCacheRepository interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32, ttl time.Duration) error
}

type redisEmbeddingCacheRepository struct {
	redisClient *redis.Client
}

// NewEmbeddingCacheRepository 创建一个新的 EmbeddingCacheRepository 实例。
func NewEmbeddingCacheRepository(redisClient *redis.Client) EmbeddingCacheRepository {
	return &redisEmbeddingCacheRepository{redisClient: redisClient}
}

// Get 读取缓存的向量，键不存在时返回 ok=false。
func (r *redisEmbeddingCacheRepository) Get(ctx context.Context, key string) ([]float32, bool, error) {
	jsonData, err := r.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached embedding: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal([]byte(jsonData), &vec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached embedding: %w", err)
	}
	return vec, true, nil
}

// Set 写入向量并设置过期时间。
func (r *redisEmbeddingCacheRepository) Set(ctx context.Context, key string, vec []float32, ttl time.Duration) error {
	jsonData, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	if err := r.redisClient.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cached embedding: %w", err)
	}
	return nil
}
