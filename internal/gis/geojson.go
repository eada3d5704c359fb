package gis

import (
	"github.com/paulmach/orb/geojson"
	"supmap-location/internal/location"
	"time"
)

// PositionFeature renders a position as a GeoJSON point feature.
func PositionFeature(deviceID string, p location.Position, fallback bool) *geojson.Feature {
	f := geojson.NewFeature(p.Point())
	f.Properties["device_id"] = deviceID
	f.Properties["accuracy"] = p.Accuracy
	f.Properties["timestamp"] = p.Timestamp.UTC().Format(time.RFC3339Nano)
	if fallback {
		f.Properties["fallback"] = true
	}
	return f
}
