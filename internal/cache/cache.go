package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"checkout-dispatch/internal/config"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "checkout-dispatch:"

	memoryPruneInterval = time.Minute
)

// Guard hands out short-lived exclusive claims on keys, e.g. one poll session per charge
// or one processing of an inbound callback.
type Guard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// NewGuard returns a redis backed guard, or an in-process one when no redis address is configured.
func NewGuard(ctx context.Context, cfg config.Redis, logger *slog.Logger) Guard {
	if cfg.Addr == "" {
		logger.InfoContext(ctx, "Redis not configured, using in-memory guard")
		return NewMemoryGuard()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		logger.WarnContext(ctx, "Could not connect to redis", "addr", cfg.Addr, "error", err)
	} else {
		logger.InfoContext(ctx, "Connected to redis", "addr", cfg.Addr)
	}

	return NewRedisGuard(client)
}

type RedisGuard struct {
	client *redis.Client
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	return ok, errors.Wrapf(err, "claim %s", key)
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return errors.Wrapf(g.client.Del(ctx, keyPrefix+key).Err(), "release %s", key)
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}

// MemoryGuard drops expired claims at most once per memoryPruneInterval, during Claim.
type MemoryGuard struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	now       func() time.Time
	nextPrune time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{entries: map[string]time.Time{}, now: time.Now}
}

func (g *MemoryGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !now.Before(g.nextPrune) {
		for k, expiresAt := range g.entries {
			if !now.Before(expiresAt) {
				delete(g.entries, k)
			}
		}
		g.nextPrune = now.Add(memoryPruneInterval)
	}

	if expiresAt, ok := g.entries[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	g.entries[key] = now.Add(ttl)
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.entries, key)
	return nil
}
