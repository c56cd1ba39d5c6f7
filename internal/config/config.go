package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	Secret         string        `mapstructure:"secret"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Store     StoreConfig     `mapstructure:"store"`
	Status    StatusConfig    `mapstructure:"status"`
	Bus       BusConfig       `mapstructure:"bus"`
}

type RateLimitConfig struct {
	EventsPerSecond float64 `mapstructure:"events_per_second"`
	Burst           int     `mapstructure:"burst"`
}

type RelayConfig struct {
	// Backpressure is "drop" or "kick".
	Backpressure string `mapstructure:"backpressure"`
	// ChatDeletedScope is "auto" or "global".
	ChatDeletedScope string `mapstructure:"chat_deleted_scope"`
}

type PresenceConfig struct {
	OfflineTTL    time.Duration `mapstructure:"offline_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type StoreConfig struct {
	// Driver is "badger" or "sqlite".
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type StatusConfig struct {
	Shards          int           `mapstructure:"shards"`
	QueueSize       int           `mapstructure:"queue_size"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerOpenFor  time.Duration `mapstructure:"breaker_open_for"`
}

type BusConfig struct {
	// Driver is "local" or "nats".
	Driver        string `mapstructure:"driver"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	// NodeID defaults to a random uuid when empty.
	NodeID string `mapstructure:"node_id"`
	// Embedded starts an in-process NATS server on EmbeddedPort and ignores URL.
	Embedded     bool `mapstructure:"embedded"`
	EmbeddedPort int  `mapstructure:"embedded_port"`
}

// PongWait is how long a connection may stay silent before it is dropped.
func (c *Config) PongWait() time.Duration {
	return c.PingPeriod * 10 / 9
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 5000)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "change-me")
	v.SetDefault("allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 64)

	v.SetDefault("rate_limit.events_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("relay.backpressure", "drop")
	v.SetDefault("relay.chat_deleted_scope", "auto")

	v.SetDefault("presence.offline_ttl", "24h")
	v.SetDefault("presence.sweep_interval", "1m")

	v.SetDefault("store.driver", "badger")
	v.SetDefault("store.path", "./data/users")

	v.SetDefault("status.shards", 4)
	v.SetDefault("status.queue_size", 256)
	v.SetDefault("status.timeout", "3s")
	v.SetDefault("status.breaker_failures", 5)
	v.SetDefault("status.breaker_open_for", "30s")

	v.SetDefault("bus.driver", "local")
	v.SetDefault("bus.url", "nats://127.0.0.1:4222")
	v.SetDefault("bus.subject_prefix", "relay")
	v.SetDefault("bus.node_id", "")
	v.SetDefault("bus.embedded", false)
	v.SetDefault("bus.embedded_port", 4222)
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults;
// RELAY_* environment variables win over both.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("store", cfg.Store.Driver).Str("bus", cfg.Bus.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "badger", "sqlite":
	default:
		return fmt.Errorf("store.driver: unsupported %q", c.Store.Driver)
	}
	switch c.Bus.Driver {
	case "local", "nats":
	default:
		return fmt.Errorf("bus.driver: unsupported %q", c.Bus.Driver)
	}
	switch c.Relay.Backpressure {
	case "drop", "kick":
	default:
		return fmt.Errorf("relay.backpressure: unsupported %q", c.Relay.Backpressure)
	}
	switch c.Relay.ChatDeletedScope {
	case "auto", "global":
	default:
		return fmt.Errorf("relay.chat_deleted_scope: unsupported %q", c.Relay.ChatDeletedScope)
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("ping_period must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive")
	}
	return nil
}
