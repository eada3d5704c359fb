package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
	"supmap-location/internal/location"
	"time"
)

var ErrNotFound = errors.New("no last known position")

// RedisPositionCache keeps a single "last known good" position per device.
type RedisPositionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPositionCache(client *redis.Client, ttl time.Duration) *RedisPositionCache {
	return &RedisPositionCache{client: client, ttl: ttl}
}

func (r RedisPositionCache) SetLastPosition(ctx context.Context, deviceID string, pos location.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshalling position: %w", err)
	}
	return r.client.Set(ctx, formatKey(deviceID), data, r.ttl).Err()
}

func (r RedisPositionCache) GetLastPosition(ctx context.Context, deviceID string) (location.Position, error) {
	val, err := r.client.Get(ctx, formatKey(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return location.Position{}, ErrNotFound
	}
	if err != nil {
		return location.Position{}, fmt.Errorf("getting last position: %w", err)
	}
	var pos location.Position
	if err := json.Unmarshal([]byte(val), &pos); err != nil {
		return location.Position{}, fmt.Errorf("unmarshalling position: %w", err)
	}
	return pos, nil
}

func (r RedisPositionCache) DeleteLastPosition(ctx context.Context, deviceID string) error {
	if err := r.client.Del(ctx, formatKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("deleting last position: %w", err)
	}
	return nil
}

func formatKey(deviceID string) string {
	return fmt.Sprintf("location:last:%s", deviceID)
}
