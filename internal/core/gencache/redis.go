package gencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agenthands/canon/internal/apperr"
)

const keyPrefix = "canon:generation:"

const (
	dialTimeout = 3 * time.Second
	pingTimeout = 2 * time.Second
)

// RedisCache stores records as JSON strings with a Redis TTL.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Dial parses a redis:// URL and verifies the server answers.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = dialTimeout

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

func (c *RedisCache) Put(ctx context.Context, id string, rec Record, ttl time.Duration) error {
	if id == "" {
		return apperr.InvalidInput("generation id is required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode generation %s: %w", id, err)
	}
	if err := c.client.Set(ctx, keyPrefix+id, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache generation %s: %w", id, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, id string) (Record, error) {
	data, err := c.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, apperr.NotFound("Generation")
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read generation %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode generation %s: %w", id, err)
	}
	return rec, nil
}

var _ Cache = (*RedisCache)(nil)
