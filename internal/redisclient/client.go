package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/lower_available.lua
var lowerAvailableScript string

type Client struct {
	rdb      *redis.Client
	cacheTTL time.Duration
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int, cacheTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return New(rdb, cacheTTL), nil
}

// New wraps an existing redis client
func New(rdb *redis.Client, cacheTTL time.Duration) *Client {
	return &Client{rdb: rdb, cacheTTL: cacheTTL}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func availabilityKey(tierID uuid.UUID) string {
	return fmt.Sprintf("tier:available:%s", tierID)
}

// GetAvailable returns the cached remaining units for a tier. ok is false
// when nothing is cached.
func (c *Client) GetAvailable(ctx context.Context, tierID uuid.UUID) (available int, ok bool, err error) {
	available, err = c.rdb.Get(ctx, availabilityKey(tierID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return available, true, nil
}

// SetAvailable overwrites the cached remaining units, used when warming the cache
func (c *Client) SetAvailable(ctx context.Context, tierID uuid.UUID, available int) error {
	return c.rdb.Set(ctx, availabilityKey(tierID), available, c.cacheTTL).Err()
}

// LowerAvailable records a post-commit value. Out-of-order writers can
// only lower the cached figure, never raise it.
func (c *Client) LowerAvailable(ctx context.Context, tierID uuid.UUID, available int) (int, error) {
	ttl := int(c.cacheTTL / time.Second)
	if ttl <= 0 {
		ttl = 1
	}

	result, err := c.rdb.Eval(ctx, lowerAvailableScript, []string{availabilityKey(tierID)}, available, ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("lower available script failed: %w", err)
	}

	n, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type %T", result)
	}
	return int(n), nil
}

// Allow is a fixed-window counter. It reports whether the caller identified
// by key is still under limit for the current window.
func (c *Client) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	k := fmt.Sprintf("ratelimit:%s", key)

	count, err := c.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, k, window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(limit), nil
}
