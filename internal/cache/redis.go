// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/soundsuite/jukeboxd/internal/model"
)

const redisKeyPrefix = "jukebox:meta:"

// RedisCache is a Redis-backed MetadataCache. Redis failures degrade to
// cache misses; they never surface to the caller.
type RedisCache struct {
	client *redis.Client
	logger zerolog.Logger
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg RedisConfig, logger zerolog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis metadata cache")
	return &RedisCache{client: client, logger: logger}, nil
}

func (c *RedisCache) Get(ctx context.Context, sourceURI string) (*model.TrackDescriptor, bool) {
	val, err := c.client.Get(ctx, redisKeyPrefix+sourceURI).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("uri", sourceURI).Msg("redis get failed")
		return nil, false
	}

	var d model.TrackDescriptor
	if err := json.Unmarshal(val, &d); err != nil {
		c.logger.Warn().Err(err).Str("uri", sourceURI).Msg("cached descriptor unmarshal failed")
		return nil, false
	}
	return &d, true
}

func (c *RedisCache) Put(ctx context.Context, d model.TrackDescriptor, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(d)
	if err != nil {
		c.logger.Warn().Err(err).Str("uri", d.SourceURI).Msg("descriptor marshal failed")
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+d.SourceURI, data, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("uri", d.SourceURI).Msg("redis set failed")
	}
}

func (c *RedisCache) Delete(ctx context.Context, sourceURI string) {
	if err := c.client.Del(ctx, redisKeyPrefix+sourceURI).Err(); err != nil {
		c.logger.Warn().Err(err).Str("uri", sourceURI).Msg("redis delete failed")
	}
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// HealthCheck checks if Redis is available.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
