package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr        string // e.g. localhost:6379
	Password    string
	DB          int
	KeyPrefix   string        // Prepended to every key, e.g. "quake-notifier:"
	ArtifactTTL time.Duration // Expiry of diagnostic artifacts; zero keeps them forever
}

// RedisBackend stores blobs as Redis string values.
type RedisBackend struct {
	client      *redis.Client
	prefix      string
	artifactTTL time.Duration
	logger      *slog.Logger
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("Failed to close redis client", "error", closeErr)
		}
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return &RedisBackend{
		client:      client,
		prefix:      cfg.KeyPrefix,
		artifactTTL: cfg.ArtifactTTL,
		logger:      logger,
	}, nil
}

// Name implements Backend.
func (*RedisBackend) Name() string { return "redis" }

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := withRetry(ctx, b.logger, "load", key, func() error {
		v, err := b.client.Get(ctx, b.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}
		data = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put implements Backend with a single SET.
func (b *RedisBackend) Put(ctx context.Context, key string, data []byte) error {
	var ttl time.Duration
	if key != StateKey {
		ttl = b.artifactTTL
	}
	return withRetry(ctx, b.logger, "save", key, func() error {
		if err := b.client.Set(ctx, b.prefix+key, data, ttl).Err(); err != nil {
			return fmt.Errorf("redis set: %w", err)
		}
		return nil
	})
}

// Close releases the connection pool.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
