package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
	"log/slog"
	"supmap-location/internal/location"
	"sync"
)

var ErrAlreadyStarted = errors.New("provider already started")

// PositionMessage is the payload exchanged on the positions pub/sub channel.
// It carries either a position or an error reported by the device.
type PositionMessage struct {
	DeviceID string             `json:"device_id"`
	Position *location.Position `json:"position,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// RedisProvider streams the positions of one device from a Redis pub/sub channel.
type RedisProvider struct {
	logger   *slog.Logger
	client   *redis.Client
	channel  string
	deviceID string

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func NewRedisProvider(logger *slog.Logger, client *redis.Client, channel, deviceID string) *RedisProvider {
	return &RedisProvider{
		logger:   logger.With("deviceID", deviceID, "channel", channel),
		client:   client,
		channel:  channel,
		deviceID: deviceID,
	}
}

// Start subscribes to the channel and returns once Redis confirmed the subscription.
func (p *RedisProvider) Start(onUpdate func(location.Position), onError func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pubsub != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := p.client.Subscribe(ctx, p.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("subscribing to %q: %w", p.channel, err)
	}
	p.pubsub = pubsub
	p.cancel = cancel

	go p.listen(ctx, pubsub.Channel(), onUpdate, onError)
	p.logger.Debug("redis position provider started")
	return nil
}

func (p *RedisProvider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pubsub == nil {
		return
	}
	p.cancel()
	if err := p.pubsub.Close(); err != nil {
		p.logger.Warn("failed to close pubsub", "error", err)
	}
	p.pubsub = nil
	p.cancel = nil
	p.logger.Debug("redis position provider stopped")
}

func (p *RedisProvider) listen(ctx context.Context, msgCh <-chan *redis.Message, onUpdate func(location.Position), onError func(error)) {
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				if ctx.Err() == nil {
					onError(errors.New("position channel closed by Redis"))
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			p.handleMessage(msg, onUpdate, onError)
		case <-ctx.Done():
			return
		}
	}
}

func (p *RedisProvider) handleMessage(msg *redis.Message, onUpdate func(location.Position), onError func(error)) {
	var pm PositionMessage
	if err := json.Unmarshal([]byte(msg.Payload), &pm); err != nil {
		p.logger.Warn("failed to unmarshal position message", "error", err)
		return
	}
	if pm.DeviceID != p.deviceID {
		return
	}
	switch {
	case pm.Error != "":
		onError(errors.New(pm.Error))
	case pm.Position != nil:
		onUpdate(*pm.Position)
	default:
		p.logger.Debug("ignoring empty position message")
	}
}
