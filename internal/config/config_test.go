package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func valid() Config {
	cfg := Default()
	cfg.Token = "token"
	return cfg
}

// TestDefault tests that the defaults only lack a token
func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
	assert.NoError(t, valid().Validate())

	assert.Equal(t, 1, cfg.Gateway.Shards)
	assert.Equal(t, DriverMemory, cfg.Cache.Driver)
	assert.Equal(t, "block", cfg.Events.Overflow)
	assert.Empty(t, cfg.Metrics.Addr)
}

// TestLoadFromEnv tests environment overrides
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KEPHASGATE_TOKEN", "from-env")
	t.Setenv("KEPHASGATE_GATEWAY_SHARDS", "4")
	t.Setenv("KEPHASGATE_GATEWAY_HELLO_TIMEOUT", "3s")
	t.Setenv("KEPHASGATE_EVENTS_OVERFLOW", "drop-newest")
	t.Setenv("KEPHASGATE_METRICS_ADDR", ":9090")

	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Token)
	assert.Equal(t, 4, cfg.Gateway.Shards)
	assert.Equal(t, 3*time.Second, cfg.Gateway.HelloTimeout)
	assert.Equal(t, "drop-newest", cfg.Events.Overflow)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, Default().Rest.BaseURL, cfg.Rest.BaseURL)
}

// TestLoadFromFile tests reading a config file with env taking precedence
func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kephasgate.yaml")
	data := `token: from-file
gateway:
  shards: 2
  identify_window: 10s
rest:
  max_retries: 5
events:
  buffer: 16
cache:
  driver: sqlite
  path: /tmp/cache.db
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	t.Setenv("KEPHASGATE_GATEWAY_SHARDS", "3")

	v := viper.New()
	v.SetConfigFile(path)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Token)
	assert.Equal(t, 3, cfg.Gateway.Shards)
	assert.Equal(t, 10*time.Second, cfg.Gateway.IdentifyWindow)
	assert.Equal(t, 5, cfg.Rest.MaxRetries)
	assert.Equal(t, 16, cfg.Events.Buffer)
	assert.Equal(t, DriverSQLite, cfg.Cache.Driver)
	assert.Equal(t, "/tmp/cache.db", cfg.Cache.Path)
}

// TestLoadMissingFile tests that a configured but missing file fails
func TestLoadMissingFile(t *testing.T) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load(v)
	assert.Error(t, err)
}

// TestValidate tests rejection of invalid settings
func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty token", func(c *Config) { c.Token = "  " }},
		{"no shards", func(c *Config) { c.Gateway.Shards = 0 }},
		{"no identify concurrency", func(c *Config) { c.Gateway.IdentifyConcurrency = 0 }},
		{"zero hello timeout", func(c *Config) { c.Gateway.HelloTimeout = 0 }},
		{"zero commands", func(c *Config) { c.Gateway.CommandsPerMinute = 0 }},
		{"negative retries", func(c *Config) { c.Rest.MaxRetries = -1 }},
		{"zero buffer", func(c *Config) { c.Events.Buffer = 0 }},
		{"unknown overflow", func(c *Config) { c.Events.Overflow = "drop-oldest" }},
		{"unknown driver", func(c *Config) { c.Cache.Driver = "redis" }},
		{"sqlite without path", func(c *Config) { c.Cache.Driver = DriverSQLite; c.Cache.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

// TestValidateJoinsErrors tests that every problem is reported
func TestValidateJoinsErrors(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Gateway.Shards = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), KeyToken)
	assert.Contains(t, err.Error(), KeyShards)
}
