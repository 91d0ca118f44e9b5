// Package rediscache de-duplicates webhook deliveries across instances.
package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper marks keys as seen for a TTL using SET NX.
type Deduper struct {
	c   *redis.Client
	ttl time.Duration
}

// New connects to addr. Keys expire after ttl.
func New(addr string, ttl time.Duration) *Deduper {
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

// NewWithClient wraps an existing client.
func NewWithClient(c *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Deduper{c: c, ttl: ttl}
}

// FirstSeen reports whether key was absent, marking it seen.
func (d *Deduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := d.c.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Ping checks connectivity.
func (d *Deduper) Ping(ctx context.Context) error {
	if err := d.c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the client.
func (d *Deduper) Close() error {
	return d.c.Close()
}
