package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/redis/go-redis/v9"
	"supmap-location/internal/location"
)

// RedisPublisher fans device readings into the positions channel read by RedisProvider.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) PublishPosition(ctx context.Context, deviceID string, pos location.Position) error {
	return p.publish(ctx, PositionMessage{DeviceID: deviceID, Position: &pos})
}

func (p *RedisPublisher) PublishError(ctx context.Context, deviceID string, reason string) error {
	return p.publish(ctx, PositionMessage{DeviceID: deviceID, Error: reason})
}

func (p *RedisPublisher) publish(ctx context.Context, msg PositionMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling position message: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publishing position message: %w", err)
	}
	return nil
}
