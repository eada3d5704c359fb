package config

import (
	"errors"
	"fmt"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"io/fs"
	"supmap-location/internal/location"
	"time"
)

type Env string

const (
	EnvProd Env = "prod"
	EnvDev  Env = "dev"
)

func (e Env) IsValid() bool {
	switch e {
	case EnvProd, EnvDev:
		return true
	}
	return false
}

type Config struct {
	APIServerHost         string        `env:"API_SERVER_HOST"`
	APIServerPort         string        `env:"API_SERVER_PORT" envDefault:"8081"`
	RedisHost             string        `env:"REDIS_HOST"`
	RedisPort             string        `env:"REDIS_PORT" envDefault:"6379"`
	RedisPositionsChannel string        `env:"REDIS_POSITIONS_CHANNEL" envDefault:"positions"`
	Env                   Env           `env:"ENV" envDefault:"prod"`
	DesiredAccuracy       float64       `env:"DESIRED_ACCURACY" envDefault:"100"`
	LocationAge           time.Duration `env:"LOCATION_AGE" envDefault:"10s"`
	LocationTimeout       time.Duration `env:"LOCATION_TIMEOUT" envDefault:"30s"`
	LastPositionTTL       time.Duration `env:"LAST_POSITION_TTL" envDefault:"30m"`
}

// New loads the configuration from the environment, after applying an optional .env file.
func New(dotenvFiles ...string) (*Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.Env.IsValid() {
		return nil, fmt.Errorf("invalid env variable (must be 'prod' or 'dev')")
	}
	if err := cfg.SessionConfig().Validate(); err != nil {
		return nil, fmt.Errorf("invalid location settings: %w", err)
	}
	if cfg.LastPositionTTL <= 0 {
		return nil, fmt.Errorf("invalid LAST_POSITION_TTL: %s", cfg.LastPositionTTL)
	}
	return &cfg, nil
}

// SessionConfig is the default filter applied to location sessions.
func (c *Config) SessionConfig() location.SessionConfig {
	return location.SessionConfig{
		DesiredAccuracy: c.DesiredAccuracy,
		MaxAge:          c.LocationAge,
		Timeout:         c.LocationTimeout,
	}
}
