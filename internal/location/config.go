package location

import (
	"fmt"
	"time"
)

const (
	DefaultDesiredAccuracy = 100.0
	DefaultMaxAge          = 10 * time.Second
	DefaultTimeout         = 30 * time.Second
)

// SessionConfig filters which positions may complete a session.
type SessionConfig struct {
	// DesiredAccuracy is the largest accepted accuracy radius, in meters.
	DesiredAccuracy float64 `json:"desired_accuracy"`
	// MaxAge is how old a position may be when it is evaluated.
	MaxAge time.Duration `json:"max_age"`
	// Timeout is the hard deadline after which the session falls back.
	Timeout time.Duration `json:"timeout"`
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		DesiredAccuracy: DefaultDesiredAccuracy,
		MaxAge:          DefaultMaxAge,
		Timeout:         DefaultTimeout,
	}
}

func (c SessionConfig) Validate() error {
	if c.DesiredAccuracy < 0 {
		return fmt.Errorf("%w: desired accuracy %f is negative", ErrInvalidConfig, c.DesiredAccuracy)
	}
	if c.MaxAge < 0 {
		return fmt.Errorf("%w: max age %s is negative", ErrInvalidConfig, c.MaxAge)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout %s must be positive", ErrInvalidConfig, c.Timeout)
	}
	return nil
}

// Accepts reports whether p is good enough to complete a session when evaluated at now.
// Only accuracy and freshness are considered.
func (c SessionConfig) Accepts(p Position, now time.Time) bool {
	return p.Accuracy <= c.DesiredAccuracy && p.Age(now) <= c.MaxAge
}
