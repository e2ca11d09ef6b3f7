package preview

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/umlcraft/umlcraft-backend/internal/diagrams/domain"
)

const (
	cacheKeyPrefix = "uml:desc:" // uml:desc:{sha256} -> description text
	cacheTTL       = 24 * time.Hour
)

// DescriptionCache avoids re-running the generation service for source
// the user already previewed. Purely an optimization: a miss or a broken
// cache just falls through to the service.
type DescriptionCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, description string)
}

// CacheKey hashes the generation input. Identical (kind, language,
// source) triples always map to the same key.
func CacheKey(kind domain.Kind, language, source string) string {
	h := sha256.New()
	h.Write([]byte(string(kind)))
	h.Write([]byte{0})
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}

// RedisCache backs DescriptionCache with Redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, cacheKeyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("[warn] operation=cache_get key=%s error=%v", key, err)
		}
		return "", false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key, description string) {
	if err := c.client.Set(ctx, cacheKeyPrefix+key, description, cacheTTL).Err(); err != nil {
		log.Printf("[warn] operation=cache_set key=%s error=%v", key, err)
	}
}
