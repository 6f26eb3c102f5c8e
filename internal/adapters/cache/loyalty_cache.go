package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ridelink/loyalty-service/internal/domain/riders"
)

// LoyaltyCache caches loyalty projections in Redis. Entries expire after
// the TTL rather than being invalidated by the worker, so reads can lag
// a committed ride by at most the TTL.
type LoyaltyCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLoyaltyCache(client *redis.Client, ttl time.Duration) *LoyaltyCache {
	return &LoyaltyCache{
		client: client,
		ttl:    ttl,
	}
}

func key(riderID string) string {
	return "loyalty:info:" + riderID
}

// GetLoyaltyInfo returns the cached projection, or nil on a miss.
func (c *LoyaltyCache) GetLoyaltyInfo(ctx context.Context, riderID string) (*riders.LoyaltyInfo, error) {
	payload, err := c.client.Get(ctx, key(riderID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read loyalty cache: %w", err)
	}

	var info riders.LoyaltyInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, fmt.Errorf("failed to decode cached loyalty info: %w", err)
	}
	return &info, nil
}

func (c *LoyaltyCache) SetLoyaltyInfo(ctx context.Context, riderID string, info *riders.LoyaltyInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode loyalty info: %w", err)
	}
	if err := c.client.Set(ctx, key(riderID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write loyalty cache: %w", err)
	}
	return nil
}
