// Package cache guarda estado efímero single-purpose: MFA continuance
// tokens, códigos OOB y reset tokens. Todo entra con TTL y se valida la
// expiración en el punto de consumo; el sweep del backend es solo higiene.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// Config para elegir backend.
type Config struct {
	Kind   string // "memory" | "redis"
	Addr   string
	DB     int
	Prefix string
}

// New crea el cache según config; default memory.
func New(cfg Config) Cache {
	if cfg.Kind == "redis" {
		return NewRedis(cfg)
	}
	return NewMemory()
}
