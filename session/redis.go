package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefix for widget sessions
const redisKeyPrefix = "widget:session:"

// redisBackend stores slots in Redis. Keys carry a TTL equal to the expiry
// window so abandoned slots disappear on their own; freshness is still
// checked at read time.
type redisBackend struct {
	client *redis.Client
	ttl    time.Duration
	owned  bool
}

func newRedisBackend(cfg *storeConfig) (*redisBackend, error) {
	client := cfg.redisClient
	owned := false
	if client == nil {
		if cfg.redisURL == "" {
			return nil, ErrInvalidConfig
		}
		opts, err := redis.ParseURL(cfg.redisURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		client = redis.NewClient(opts)
		owned = true
	}
	return &redisBackend{
		client: client,
		ttl:    cfg.expiry,
		owned:  owned,
	}, nil
}

func (b *redisBackend) get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (b *redisBackend) set(ctx context.Context, key string, val []byte) error {
	return b.client.Set(ctx, redisKeyPrefix+key, val, b.ttl).Err()
}

func (b *redisBackend) del(ctx context.Context, key string) error {
	return b.client.Del(ctx, redisKeyPrefix+key).Err()
}

// close only closes clients the store dialed itself.
func (b *redisBackend) close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close()
}
