package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every server-level option the gateway needs at bootstrap.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen   ListenConfig   `koanf:"listen"`
	Logging  LoggingConfig  `koanf:"logging"`
	Store    StoreConfig    `koanf:"store"`
	Cache    CacheConfig    `koanf:"cache"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Refresh  RefreshConfig  `koanf:"refresh"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// StoreConfig points the durable row store (sessions, links, request logs,
// and the default cache record backend) at its SQLite database file.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// CacheConfig selects the cache record backend and freshness window.
type CacheConfig struct {
	Backend    string            `koanf:"backend"`
	TTLSeconds int               `koanf:"ttlSeconds"`
	AllowStale *bool             `koanf:"allowStale"`
	Valkey     ValkeyCacheConfig `koanf:"valkey"`
}

// ValkeyCacheConfig carries the connection options for the valkey backend.
type ValkeyCacheConfig struct {
	Address  string          `koanf:"address"`
	Username string          `koanf:"username"`
	Password string          `koanf:"password"`
	DB       int             `koanf:"db"`
	TLS      ValkeyTLSConfig `koanf:"tls"`
}

// ValkeyTLSConfig toggles TLS for the valkey connection.
type ValkeyTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// UpstreamConfig identifies the streaming platform account being watched and
// the credential used for the client-credentials token exchange.
type UpstreamConfig struct {
	ClientID     string `koanf:"clientId"`
	ClientSecret string `koanf:"clientSecret"`
	Broadcaster  string `koanf:"broadcaster"`
	TokenURL     string `koanf:"tokenUrl"`
	StreamsURL   string `koanf:"streamsUrl"`
}

// RefreshConfig drives the background refresher and the maintenance trigger.
type RefreshConfig struct {
	IntervalSeconds int    `koanf:"intervalSeconds"`
	Token           string `koanf:"token"`
}

// DefaultConfig returns the baseline applied before files and env overrides.
func DefaultConfig() Config {
	allowStale := true
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Store: StoreConfig{
				Path: "livegate.db",
			},
			Cache: CacheConfig{
				Backend:    "sqlite",
				TTLSeconds: 60,
				AllowStale: &allowStale,
			},
			Upstream: UpstreamConfig{
				TokenURL:   "https://id.twitch.tv/oauth2/token",
				StreamsURL: "https://api.twitch.tv/helix/streams",
			},
			Refresh: RefreshConfig{
				IntervalSeconds: 300,
			},
		},
	}
}

// TTL converts the configured freshness window into a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// StaleAllowed reports whether expired records may be served on upstream
// failure. Unset means allowed.
func (c CacheConfig) StaleAllowed() bool {
	return c.AllowStale == nil || *c.AllowStale
}

// Interval converts the refresher cadence into a duration. Zero disables the
// scheduled loop; the HTTP trigger keeps working either way.
func (c RefreshConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Validate rejects configurations the runtime agents cannot act on.
func (c Config) Validate() error {
	var problems []string

	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		problems = append(problems, fmt.Sprintf("listen port %d out of range", c.Server.Listen.Port))
	}
	switch strings.ToLower(c.Server.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("unsupported log level %q", c.Server.Logging.Level))
	}
	switch strings.ToLower(c.Server.Logging.Format) {
	case "", "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("unsupported log format %q", c.Server.Logging.Format))
	}
	switch strings.ToLower(strings.TrimSpace(c.Server.Cache.Backend)) {
	case "", "sqlite", "memory", "valkey":
	default:
		problems = append(problems, fmt.Sprintf("unsupported cache backend %q", c.Server.Cache.Backend))
	}
	if strings.EqualFold(strings.TrimSpace(c.Server.Cache.Backend), "valkey") && strings.TrimSpace(c.Server.Cache.Valkey.Address) == "" {
		problems = append(problems, "valkey cache backend requires an address")
	}
	if c.Server.Cache.TTLSeconds <= 0 {
		problems = append(problems, fmt.Sprintf("cache ttlSeconds %d must be positive", c.Server.Cache.TTLSeconds))
	}
	if c.Server.Refresh.IntervalSeconds < 0 {
		problems = append(problems, fmt.Sprintf("refresh intervalSeconds %d must not be negative", c.Server.Refresh.IntervalSeconds))
	}
	if strings.TrimSpace(c.Server.Store.Path) == "" {
		problems = append(problems, "store path required")
	}

	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
