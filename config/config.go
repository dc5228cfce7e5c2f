package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	IndexMemory = "memory"
	IndexRedis  = "redis"
)

// Config holds the server settings. Values come from Default, then the YAML
// file, then the environment; main applies command-line flags last.
type Config struct {
	Listen       string `yaml:"listen"`
	BinaryListen string `yaml:"binary_listen"`
	LogLevel     string `yaml:"log_level"`

	PingInterval   time.Duration `yaml:"ping_interval"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`

	OutboundQueue int           `yaml:"outbound_queue"`
	MaxLogEntries int           `yaml:"max_log_entries"` // 0 = unbounded
	RoomIdleTTL   time.Duration `yaml:"room_idle_ttl"`   // 0 = never reap
	ReapInterval  time.Duration `yaml:"reap_interval"`

	// AllowedOrigins lists extra CORS origins; "*" allows any. Local origins
	// are always allowed.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	RoomIndex string `yaml:"room_index"` // memory or redis
	RedisURL  string `yaml:"redis_url,omitempty"`
}

func Default() *Config {
	return &Config{
		Listen:         ":3002",
		BinaryListen:   ":1234",
		LogLevel:       "info",
		PingInterval:   20 * time.Second,
		PingTimeout:    10 * time.Second,
		MaxMessageSize: 5_000_000,
		OutboundQueue:  256,
		ReapInterval:   time.Minute,
		RoomIndex:      IndexMemory,
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("COLLAB_LISTEN", &c.Listen)
	str("COLLAB_BINARY_LISTEN", &c.BinaryListen)
	str("LOG_LEVEL", &c.LogLevel)
	str("ROOM_INDEX_TYPE", &c.RoomIndex)
	str("REDIS_DATABASE_URI", &c.RedisURL)

	if v, ok := lookup("COLLAB_ALLOWED_ORIGINS"); ok && v != "" {
		c.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, origin)
			}
		}
	}

	if v, ok := lookup("COLLAB_MAX_MESSAGE_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("COLLAB_MAX_MESSAGE_SIZE: %w", err)
		}
		c.MaxMessageSize = n
	}

	return errors.Join(
		dur("COLLAB_PING_INTERVAL", &c.PingInterval),
		dur("COLLAB_PING_TIMEOUT", &c.PingTimeout),
		dur("COLLAB_ROOM_IDLE_TTL", &c.RoomIdleTTL),
		dur("COLLAB_REAP_INTERVAL", &c.ReapInterval),
		num("COLLAB_OUTBOUND_QUEUE", &c.OutboundQueue),
		num("COLLAB_MAX_LOG_ENTRIES", &c.MaxLogEntries),
	)
}

// Validate checks ranges and the room index selection.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.BinaryListen == c.Listen {
		return fmt.Errorf("binary_listen must differ from listen (%s)", c.Listen)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping_interval must be > 0, got %s", c.PingInterval)
	}
	if c.PingTimeout <= 0 {
		return fmt.Errorf("ping_timeout must be > 0, got %s", c.PingTimeout)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be > 0, got %d", c.MaxMessageSize)
	}
	if c.OutboundQueue <= 0 {
		return fmt.Errorf("outbound_queue must be > 0, got %d", c.OutboundQueue)
	}
	if c.MaxLogEntries < 0 {
		return fmt.Errorf("max_log_entries must be >= 0 (0 = unbounded), got %d", c.MaxLogEntries)
	}
	if c.RoomIdleTTL < 0 {
		return fmt.Errorf("room_idle_ttl must be >= 0 (0 = never reap), got %s", c.RoomIdleTTL)
	}
	if c.RoomIdleTTL > 0 && c.ReapInterval <= 0 {
		return fmt.Errorf("reap_interval must be > 0 when room_idle_ttl is set, got %s", c.ReapInterval)
	}

	switch c.RoomIndex {
	case IndexMemory:
	case IndexRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis room index")
		}
	default:
		return fmt.Errorf("unknown room_index %q (expected: memory or redis)", c.RoomIndex)
	}
	return nil
}
