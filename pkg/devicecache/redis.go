package devicecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis-backed cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long an entry lives; zero means no expiry. Presence
	// entries usually carry a TTL so silent devices drop off the live list.
	TTL time.Duration
}

// RedisCache is a generic Cache implementation over Redis, for deployments
// where several processor instances share presence state.
type RedisCache[K comparable, V any] struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisCache creates and connects a RedisCache. It pings the server to
// ensure connectivity before returning.
func NewRedisCache[K comparable, V any](ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisCache[K, V], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisCache[K, V]{
		client: rdb,
		ttl:    cfg.TTL,
		logger: logger.With().Str("component", "RedisCache").Logger(),
	}, nil
}

// Set stores a value as JSON under the stringified key.
func (c *RedisCache[K, V]) Set(ctx context.Context, key K, value V) error {
	stringKey := fmt.Sprintf("%v", key)
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %s: %w", stringKey, err)
	}
	if err := c.client.Set(ctx, stringKey, data, c.ttl).Err(); err != nil {
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to set value in Redis.")
		return fmt.Errorf("redis set %s: %w", stringKey, err)
	}
	return nil
}

// Fetch retrieves a value by its key. A missing key maps to ErrNotFound.
func (c *RedisCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	stringKey := fmt.Sprintf("%v", key)

	data, err := c.client.Get(ctx, stringKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("key '%s': %w", stringKey, ErrNotFound)
		}
		c.logger.Error().Err(err).Str("key", stringKey).Msg("Unexpected Redis error during fetch.")
		return zero, fmt.Errorf("redis get %s: %w", stringKey, err)
	}

	var value V
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return zero, fmt.Errorf("unmarshal value for %s: %w", stringKey, err)
	}
	return value, nil
}

// Delete removes a key.
func (c *RedisCache[K, V]) Delete(ctx context.Context, key K) error {
	stringKey := fmt.Sprintf("%v", key)
	if err := c.client.Del(ctx, stringKey).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", stringKey, err)
	}
	return nil
}

// Close closes the Redis client connection.
func (c *RedisCache[K, V]) Close() error {
	if c.client != nil {
		c.logger.Info().Msg("Closing Redis client connection...")
		return c.client.Close()
	}
	return nil
}
