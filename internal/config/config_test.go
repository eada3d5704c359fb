package config

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, EnvProd, cfg.Env)
	assert.Equal(t, "positions", cfg.RedisPositionsChannel)
	assert.Equal(t, 30*time.Minute, cfg.LastPositionTTL)

	session := cfg.SessionConfig()
	assert.Equal(t, 100.0, session.DesiredAccuracy)
	assert.Equal(t, 10*time.Second, session.MaxAge)
	assert.Equal(t, 30*time.Second, session.Timeout)
}

func TestNew_FromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV", "dev")
	t.Setenv("DESIRED_ACCURACY", "25.5")
	t.Setenv("LOCATION_AGE", "5s")
	t.Setenv("LOCATION_TIMEOUT", "1m")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, EnvDev, cfg.Env)
	assert.Equal(t, 25.5, cfg.DesiredAccuracy)
	assert.Equal(t, 5*time.Second, cfg.LocationAge)
	assert.Equal(t, time.Minute, cfg.LocationTimeout)
}

func TestNew_DotenvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("REDIS_POSITIONS_CHANNEL=fleet-positions\n"), 0o600))
	t.Setenv("REDIS_POSITIONS_CHANNEL", "")
	require.NoError(t, os.Unsetenv("REDIS_POSITIONS_CHANNEL"))

	cfg, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, "fleet-positions", cfg.RedisPositionsChannel)
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "unknown env", key: "ENV", val: "staging"},
		{name: "zero timeout", key: "LOCATION_TIMEOUT", val: "0s"},
		{name: "negative accuracy", key: "DESIRED_ACCURACY", val: "-1"},
		{name: "bad duration", key: "LOCATION_AGE", val: "soon"},
		{name: "zero ttl", key: "LAST_POSITION_TTL", val: "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.val)
			_, err := New()
			assert.Error(t, err)
		})
	}
}
