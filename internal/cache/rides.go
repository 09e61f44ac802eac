// Package cache provides a Redis-backed read cache for ride listings. The
// seat counter itself is never served from here; only search results, which
// tolerate the short TTL.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ridepool/internal/models"
	"github.com/example/ridepool/internal/storage"
)

// RideCache versions its keys: every ride mutation bumps a generation
// counter, which orphans all previously written listing keys at once. Orphans
// expire via TTL.
type RideCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRideCache(addr, password string, ttl time.Duration) *RideCache {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RideCache{client: c, ttl: ttl}
}

const generationKey = "rides:gen"

func (c *RideCache) Get(ctx context.Context, f storage.RideFilter) ([]*models.Ride, bool) {
	if c == nil {
		return nil, false
	}
	key, err := c.listKey(ctx, f)
	if err != nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}
	var rides []*models.Ride
	if err := json.Unmarshal([]byte(raw), &rides); err != nil {
		return nil, false
	}
	return rides, true
}

func (c *RideCache) Set(ctx context.Context, f storage.RideFilter, rides []*models.Ride) {
	if c == nil {
		return
	}
	key, err := c.listKey(ctx, f)
	if err != nil {
		return
	}
	b, err := json.Marshal(rides)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, b, c.ttl).Err()
}

// Invalidate bumps the generation so every cached listing goes stale.
func (c *RideCache) Invalidate(ctx context.Context) {
	if c == nil {
		return
	}
	_ = c.client.Incr(ctx, generationKey).Err()
}

func (c *RideCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func (c *RideCache) listKey(ctx context.Context, f storage.RideFilter) (string, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if err != nil && err != redis.Nil {
		return "", err
	}
	return fmt.Sprintf("rides:g%d:%s:%s:%s:%d:%d:%s:%s:%d",
		gen, f.Origin, f.Destination, f.Date, f.MinSeats, f.MaxPrice, f.SortBy, f.SortOrder, f.Limit), nil
}
