// Package config loads client settings from defaults, a config file and
// KEPHASGATE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/luciancaetano/kephasgate/gate"
	"github.com/luciancaetano/kephasgate/internal/gateway"
	"github.com/luciancaetano/kephasgate/internal/pipeline"
	"github.com/luciancaetano/kephasgate/internal/rest"
)

const EnvPrefix = "KEPHASGATE"

// Keys read by Load.
const (
	KeyToken               = "token"
	KeyGatewayURL          = "gateway.url"
	KeyShards              = "gateway.shards"
	KeyIntents             = "gateway.intents"
	KeyHelloTimeout        = "gateway.hello_timeout"
	KeyIdentifyConcurrency = "gateway.identify_concurrency"
	KeyIdentifyWindow      = "gateway.identify_window"
	KeyCommandsPerMinute   = "gateway.commands_per_minute"
	KeyRestBaseURL         = "rest.base_url"
	KeyRestMaxRetries      = "rest.max_retries"
	KeyEventsBuffer        = "events.buffer"
	KeyEventsOverflow      = "events.overflow"
	KeyCacheDriver         = "cache.driver"
	KeyCachePath           = "cache.path"
	KeyMetricsAddr         = "metrics.addr"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Token   string
	Gateway Gateway
	Rest    Rest
	Events  Events
	Cache   Cache
	Metrics Metrics
}

type Gateway struct {
	URL                 string
	Shards              int
	Intents             int
	HelloTimeout        time.Duration
	IdentifyConcurrency int
	IdentifyWindow      time.Duration
	CommandsPerMinute   int
}

type Rest struct {
	BaseURL    string
	MaxRetries int
}

type Events struct {
	Buffer   int
	Overflow string
}

type Cache struct {
	Driver string
	Path   string
}

type Metrics struct {
	Addr string // empty disables the metrics listener
}

func Default() Config {
	return Config{
		Gateway: Gateway{
			URL:                 gateway.DefaultURL,
			Shards:              1,
			Intents:             gate.DefaultIntents,
			HelloTimeout:        gateway.DefaultHelloTimeout,
			IdentifyConcurrency: 1,
			IdentifyWindow:      5 * time.Second,
			CommandsPerMinute:   gateway.DefaultCommandsPerMinute,
		},
		Rest: Rest{
			BaseURL:    rest.DefaultBaseURL,
			MaxRetries: rest.DefaultMaxRetries,
		},
		Events: Events{
			Buffer:   gate.DefaultEventBuffer,
			Overflow: pipeline.OverflowBlock.String(),
		},
		Cache: Cache{
			Driver: DriverMemory,
			Path:   defaultCachePath(),
		},
	}
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "kephasgate.db"
	}
	return filepath.Join(dir, "kephasgate", "cache.db")
}

// Load reads the configuration from v. Values resolve in the order flags
// bound to v, environment, config file, defaults. The config file is read
// when one was set with v.SetConfigFile.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	cfg := Config{
		Token: v.GetString(KeyToken),
		Gateway: Gateway{
			URL:                 v.GetString(KeyGatewayURL),
			Shards:              v.GetInt(KeyShards),
			Intents:             v.GetInt(KeyIntents),
			HelloTimeout:        v.GetDuration(KeyHelloTimeout),
			IdentifyConcurrency: v.GetInt(KeyIdentifyConcurrency),
			IdentifyWindow:      v.GetDuration(KeyIdentifyWindow),
			CommandsPerMinute:   v.GetInt(KeyCommandsPerMinute),
		},
		Rest: Rest{
			BaseURL:    v.GetString(KeyRestBaseURL),
			MaxRetries: v.GetInt(KeyRestMaxRetries),
		},
		Events: Events{
			Buffer:   v.GetInt(KeyEventsBuffer),
			Overflow: v.GetString(KeyEventsOverflow),
		},
		Cache: Cache{
			Driver: v.GetString(KeyCacheDriver),
			Path:   v.GetString(KeyCachePath),
		},
		Metrics: Metrics{
			Addr: v.GetString(KeyMetricsAddr),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyToken, "")
	v.SetDefault(KeyGatewayURL, d.Gateway.URL)
	v.SetDefault(KeyShards, d.Gateway.Shards)
	v.SetDefault(KeyIntents, d.Gateway.Intents)
	v.SetDefault(KeyHelloTimeout, d.Gateway.HelloTimeout)
	v.SetDefault(KeyIdentifyConcurrency, d.Gateway.IdentifyConcurrency)
	v.SetDefault(KeyIdentifyWindow, d.Gateway.IdentifyWindow)
	v.SetDefault(KeyCommandsPerMinute, d.Gateway.CommandsPerMinute)
	v.SetDefault(KeyRestBaseURL, d.Rest.BaseURL)
	v.SetDefault(KeyRestMaxRetries, d.Rest.MaxRetries)
	v.SetDefault(KeyEventsBuffer, d.Events.Buffer)
	v.SetDefault(KeyEventsOverflow, d.Events.Overflow)
	v.SetDefault(KeyCacheDriver, d.Cache.Driver)
	v.SetDefault(KeyCachePath, d.Cache.Path)
	v.SetDefault(KeyMetricsAddr, d.Metrics.Addr)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Token) == "" {
		errs = append(errs, fmt.Errorf("%w: %s is required", ErrInvalid, KeyToken))
	}
	if c.Gateway.Shards < 1 {
		errs = append(errs, fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalid, KeyShards, c.Gateway.Shards))
	}
	if c.Gateway.IdentifyConcurrency < 1 {
		errs = append(errs, fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalid, KeyIdentifyConcurrency, c.Gateway.IdentifyConcurrency))
	}
	if c.Gateway.HelloTimeout <= 0 || c.Gateway.IdentifyWindow <= 0 {
		errs = append(errs, fmt.Errorf("%w: gateway timeouts must be positive", ErrInvalid))
	}
	if c.Gateway.CommandsPerMinute < 1 {
		errs = append(errs, fmt.Errorf("%w: %s must be positive", ErrInvalid, KeyCommandsPerMinute))
	}
	if c.Rest.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("%w: %s must not be negative", ErrInvalid, KeyRestMaxRetries))
	}
	if c.Events.Buffer < 1 {
		errs = append(errs, fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, KeyEventsBuffer, c.Events.Buffer))
	}
	if _, err := pipeline.ParseOverflow(c.Events.Overflow); err != nil {
		errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalid, KeyEventsOverflow, err))
	}
	switch c.Cache.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Cache.Path == "" {
			errs = append(errs, fmt.Errorf("%w: %s is required for the sqlite driver", ErrInvalid, KeyCachePath))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown %s %q", ErrInvalid, KeyCacheDriver, c.Cache.Driver))
	}
	return errors.Join(errs...)
}
