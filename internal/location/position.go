package location

import (
	"fmt"
	"github.com/paulmach/orb"
	"time"
)

// Position is a single raw reading produced by a Provider.
type Position struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Accuracy  float64   `json:"accuracy"` // radius in meters
	Timestamp time.Time `json:"timestamp"`
}

func (p Position) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("invalid latitude: %f", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("invalid longitude: %f", p.Lon)
	}
	if p.Accuracy < 0 {
		return fmt.Errorf("invalid accuracy: %f", p.Accuracy)
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	return nil
}

// Point returns the position as an orb point (lon, lat order).
func (p Position) Point() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// Age is how old the reading is at now.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.Timestamp)
}
