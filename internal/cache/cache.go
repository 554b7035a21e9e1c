package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/tripwire/internal/domain"
)

// ErrTenantRequired is returned when a cache call omits the tenant.
var ErrTenantRequired = errors.New("tenantID is required")

// New builds the cache named by cfg.Type: "memory" (the default) is an
// in-process LRU, "redis" is Redis alone or, with EnableTwoPhase, Redis
// fronted by an LRU.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		remote, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return remote, nil
		}
		return NewTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTLDuration()), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// GetJSON decodes a cached JSON value into T. found is false on a miss.
func GetJSON[T any](ctx context.Context, c domain.Cache, tenantID, key string) (value T, found bool, err error) {
	raw, err := c.Get(ctx, tenantID, key)
	if err != nil || raw == nil {
		return value, false, err
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return value, true, nil
}

// SetJSON encodes value as JSON and stores it.
func SetJSON(ctx context.Context, c domain.Cache, tenantID, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, tenantID, key, raw, ttl)
}

// TwoPhase reads through a local LRU to a shared remote cache. Entries
// promoted from the remote live locally for at most the local TTL, so
// another instance's write shows up within that bound.
type TwoPhase struct {
	local    *LRUCache
	remote   domain.Cache
	localTTL time.Duration
}

// NewTwoPhase layers local over remote. A zero localTTL means five minutes.
func NewTwoPhase(local *LRUCache, remote domain.Cache, localTTL time.Duration) *TwoPhase {
	if localTTL <= 0 {
		localTTL = 5 * time.Minute
	}
	return &TwoPhase{local: local, remote: remote, localTTL: localTTL}
}

func (c *TwoPhase) Get(ctx context.Context, tenantID, key string) ([]byte, error) {
	if val, err := c.local.Get(ctx, tenantID, key); err != nil || val != nil {
		return val, err
	}
	val, err := c.remote.Get(ctx, tenantID, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.local.Set(ctx, tenantID, key, val, c.localTTL)
	return val, nil
}

// Set writes the remote first so a failed write never leaves a
// local-only entry.
func (c *TwoPhase) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	if err := c.remote.Set(ctx, tenantID, key, value, ttl); err != nil {
		return err
	}
	localTTL := c.localTTL
	if ttl > 0 && ttl < localTTL {
		localTTL = ttl
	}
	return c.local.Set(ctx, tenantID, key, value, localTTL)
}

func (c *TwoPhase) Delete(ctx context.Context, tenantID, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// Ping reports the remote's health; the local layer cannot fail.
func (c *TwoPhase) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("remote cache: %w", err)
	}
	return nil
}

func (c *TwoPhase) Close() error {
	if err := c.local.Close(); err != nil {
		slog.Warn("failed to close local cache", "error", err)
	}
	return c.remote.Close()
}

// Stats reports the local layer.
func (c *TwoPhase) Stats() Stats {
	return c.local.Stats()
}
