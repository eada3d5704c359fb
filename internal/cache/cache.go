package cache

import (
	"context"
	"supmap-location/internal/location"
)

// PositionCache stores the last known good position of each device.
type PositionCache interface {
	SetLastPosition(ctx context.Context, deviceID string, pos location.Position) error
	GetLastPosition(ctx context.Context, deviceID string) (location.Position, error)
	DeleteLastPosition(ctx context.Context, deviceID string) error
}
