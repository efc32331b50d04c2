// Package config loads relay settings from defaults, an optional YAML file and
// the process environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment key except PORT and LOG_LEVEL.
const EnvPrefix = "EXPORTEXPRESS"

// DefaultPort is used when PORT is unset.
const DefaultPort = 3001

// Config is the full relay service configuration.
type Config struct {
	Port      int             `mapstructure:"port"`
	LogLevel  string          `mapstructure:"log_level"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Relay     RelayConfig     `mapstructure:"relay"`
	WS        WSConfig        `mapstructure:"websocket"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Shutdown  time.Duration   `mapstructure:"shutdown_timeout"`
}

// CORSConfig is the cross-origin policy. "*" allows any origin.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AllowAll reports whether the policy admits every origin.
func (c CORSConfig) AllowAll() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

// RelayConfig tunes broadcast behaviour.
type RelayConfig struct {
	ExcludeSender bool `mapstructure:"exclude_sender"`
	SendBuffer    int  `mapstructure:"send_buffer"`
	Shards        int  `mapstructure:"shards"`
}

// WSConfig holds websocket transport settings.
type WSConfig struct {
	Path            string        `mapstructure:"path"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
}

// RateLimitConfig bounds HTTP requests per client IP.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int64         `mapstructure:"requests"`
	Period   time.Duration `mapstructure:"period"`
}

// RedisConfig configures the Redis pub/sub producer bridge.
type RedisConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Address  string   `mapstructure:"address"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
	Channels []string `mapstructure:"channels"`
}

// KafkaConfig configures the Kafka producer bridge.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// TelemetryConfig toggles the OpenTelemetry stdout exporters.
type TelemetryConfig struct {
	Tracing bool `mapstructure:"tracing"`
	Metrics bool `mapstructure:"metrics"`
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("log_level", "info")
	v.SetDefault("shutdown_timeout", 15*time.Second)

	v.SetDefault("cors.allowed_origins", []string{"*"})

	v.SetDefault("relay.exclude_sender", false)
	v.SetDefault("relay.send_buffer", 256)
	v.SetDefault("relay.shards", 8)

	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.write_timeout", 10*time.Second)
	v.SetDefault("websocket.pong_timeout", 60*time.Second)
	v.SetDefault("websocket.ping_interval", 54*time.Second)
	v.SetDefault("websocket.max_message_size", 512*1024)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.period", 15*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channels", []string{"exportexpress:events"})

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "exportexpress.events")
	v.SetDefault("kafka.group_id", "exportexpress-relay")

	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.metrics", false)
}

// Default returns the built-in configuration without consulting files or the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

// Load reads configuration. An empty path searches ./relay.yaml and
// ./config/relay.yaml and tolerates their absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("relay")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the surrounding deployment sets these unprefixed
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("log_level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("cors.allowed_origins must not be empty"))
	}
	if c.Relay.SendBuffer < 1 {
		errs = append(errs, errors.New("relay.send_buffer must be positive"))
	}
	if c.WS.Path == "" || !strings.HasPrefix(c.WS.Path, "/") {
		errs = append(errs, fmt.Errorf("websocket.path %q must start with /", c.WS.Path))
	}
	if c.WS.WriteTimeout <= 0 || c.WS.PongTimeout <= 0 || c.WS.PingInterval <= 0 {
		errs = append(errs, errors.New("websocket timeouts must be positive"))
	}
	if c.WS.PingInterval >= c.WS.PongTimeout {
		errs = append(errs, errors.New("websocket.ping_interval must be shorter than pong_timeout"))
	}
	if c.WS.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("websocket.max_message_size must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Period <= 0) {
		errs = append(errs, errors.New("rate_limit requests and period must be positive"))
	}
	if c.Redis.Enabled && (c.Redis.Address == "" || len(c.Redis.Channels) == 0) {
		errs = append(errs, errors.New("redis.address and redis.channels are required when redis is enabled"))
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, errors.New("kafka.brokers and kafka.topic are required when kafka is enabled"))
	}
	return errors.Join(errs...)
}
