package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every gateway option after defaults, files and env are merged.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Backend     BackendConfig     `koanf:"backend"`
	Credentials CredentialsConfig `koanf:"credentials"`
	Cache       CacheConfig       `koanf:"cache"`
}

// ServerConfig collects the listener and logging knobs for the gateway process.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// BackendConfig points the HTTP client core at the marketplace REST API.
type BackendConfig struct {
	BaseURL string `koanf:"baseURL"`
	// Timeout bounds every backend call. Zero disables the bound.
	Timeout time.Duration `koanf:"timeout"`
}

// CredentialsConfig selects where the bearer token is read from.
type CredentialsConfig struct {
	Source string `koanf:"source"`
	Token  string `koanf:"token"`
	Env    string `koanf:"env"`
	File   string `koanf:"file"`
	Watch  bool   `koanf:"watch"`
}

type CacheConfig struct {
	GracePeriod time.Duration      `koanf:"gracePeriod"`
	Pinned      []string           `koanf:"pinned"`
	Persist     CachePersistConfig `koanf:"persist"`
}

type CachePersistConfig struct {
	Backend string           `koanf:"backend"`
	TTL     time.Duration    `koanf:"ttl"`
	Redis   CacheRedisConfig `koanf:"redis"`
}

type CacheRedisConfig struct {
	Address  string              `koanf:"address"`
	Username string              `koanf:"username"`
	Password string              `koanf:"password"`
	DB       int                 `koanf:"db"`
	TLS      CacheRedisTLSConfig `koanf:"tls"`
}

type CacheRedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// Validate enforces invariants that keep the gateway predictable before serving traffic.
// Pinned query names are checked by the caller against the endpoint catalog.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	base := strings.TrimSpace(c.Backend.BaseURL)
	if base == "" {
		return errors.New("config: backend.baseURL required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("config: backend.baseURL invalid: %s", c.Backend.BaseURL)
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("config: backend.timeout invalid: %s", c.Backend.Timeout)
	}
	switch strings.TrimSpace(strings.ToLower(c.Credentials.Source)) {
	case "", "none":
	case "static":
		if strings.TrimSpace(c.Credentials.Token) == "" {
			return errors.New("config: credentials.token required for static source")
		}
	case "env":
		if strings.TrimSpace(c.Credentials.Env) == "" {
			return errors.New("config: credentials.env required for env source")
		}
	case "file":
		if strings.TrimSpace(c.Credentials.File) == "" {
			return errors.New("config: credentials.file required for file source")
		}
	default:
		return fmt.Errorf("config: credentials.source unsupported: %s", c.Credentials.Source)
	}
	if c.Cache.GracePeriod < 0 {
		return fmt.Errorf("config: cache.gracePeriod invalid: %s", c.Cache.GracePeriod)
	}
	if c.Cache.Persist.TTL < 0 {
		return fmt.Errorf("config: cache.persist.ttl invalid: %s", c.Cache.Persist.TTL)
	}
	switch strings.TrimSpace(strings.ToLower(c.Cache.Persist.Backend)) {
	case "", "none", "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Persist.Redis.Address) == "" {
			return errors.New("config: cache.persist.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: cache.persist.backend unsupported: %s", c.Cache.Persist.Backend)
	}
	for i, name := range c.Cache.Pinned {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config: cache.pinned[%d] empty", i)
		}
	}
	return nil
}

// DefaultConfig returns the baseline values.
func DefaultConfig() Config {
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
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:5000/api/v1",
			Timeout: 30 * time.Second,
		},
		Credentials: CredentialsConfig{
			Source: "none",
		},
		Cache: CacheConfig{
			GracePeriod: 60 * time.Second,
			Persist: CachePersistConfig{
				Backend: "none",
				TTL:     5 * time.Minute,
			},
		},
	}
}
