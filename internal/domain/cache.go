package domain

import (
	"context"
	"time"
)

// Cache stores distance lookups and other derived values per tenant. A
// miss is (nil, nil). A ttl of zero or less never expires.
type Cache interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, tenantID string, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects the cache. Type "memory" is an in-process LRU;
// "redis" talks to RedisAddr, fronted by the LRU when EnableTwoPhase is set.
type CacheConfig struct {
	Type           string `json:"type" yaml:"type"`
	LocalMaxSize   int    `json:"localMaxSize" yaml:"localMaxSize"`
	LocalTTL       int    `json:"localTtl" yaml:"localTtl"` // seconds
	RedisAddr      string `json:"redisAddr" yaml:"redisAddr"`
	RedisPassword  string `json:"-" yaml:"redisPassword"`
	RedisDB        int    `json:"redisDb" yaml:"redisDb"`
	EnableTwoPhase bool   `json:"enableTwoPhase" yaml:"enableTwoPhase"`
}

// LocalTTLDuration converts LocalTTL to a duration.
func (c CacheConfig) LocalTTLDuration() time.Duration {
	return time.Duration(c.LocalTTL) * time.Second
}
