package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCache: backend distribuido para producción.
type redisCache struct {
	rdb    *redis.Client
	prefix string
}

func NewRedis(cfg Config) Cache {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	return &redisCache{rdb: rdb, prefix: cfg.Prefix}
}

func (r *redisCache) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (r *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	_ = r.rdb.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *redisCache) Delete(ctx context.Context, key string) {
	_ = r.rdb.Del(ctx, r.key(key)).Err()
}
