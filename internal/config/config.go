package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Channel modes select how events reach streaming sessions.
const (
	ChannelLocal  = "local"
	ChannelBroker = "broker"
)

// Broker backends.
const (
	BrokerEmbedded = "embedded"
	BrokerRedis    = "redis"
)

// TokenPrincipal is one entry of the static token map.
type TokenPrincipal struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// Config is the top-level configuration loaded from file/env.
type Config struct {
	HTTPAddr      string `json:"httpAddr"`
	ChannelMode   string `json:"channelMode"`
	BrokerBackend string `json:"brokerBackend"`
	RedisAddr     string `json:"redisAddr"`
	DataDir       string `json:"dataDir"`

	// StreamMaxLen caps each topic stream; trims are approximate.
	StreamMaxLen int64 `json:"streamMaxLen"`

	PollIntervalMs      int `json:"pollIntervalMs"`
	ReadBlockMs         int `json:"readBlockMs"`
	KeepaliveIntervalMs int `json:"keepaliveIntervalMs"`

	Fsync     string `json:"fsync"`
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`

	// Tokens maps bearer tokens to principals for the static resolver.
	Tokens map[string]TokenPrincipal `json:"tokens"`
}

// Default returns built-in defaults: local channel, embedded broker backend,
// 100-entry streams.
func Default() Config {
	return Config{
		HTTPAddr:            ":8080",
		ChannelMode:         ChannelLocal,
		BrokerBackend:       BrokerEmbedded,
		RedisAddr:           "127.0.0.1:6379",
		DataDir:             DefaultDataDir(),
		StreamMaxLen:        100,
		PollIntervalMs:      2000,
		ReadBlockMs:         1000,
		KeepaliveIntervalMs: 30000,
		Fsync:               "always",
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults. Fields absent from the file keep their defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	switch c.ChannelMode {
	case ChannelLocal, ChannelBroker:
	default:
		return fmt.Errorf("config: unknown channel mode %q", c.ChannelMode)
	}
	switch c.BrokerBackend {
	case BrokerEmbedded, BrokerRedis:
	default:
		return fmt.Errorf("config: unknown broker backend %q", c.BrokerBackend)
	}
	if c.StreamMaxLen < 0 {
		return fmt.Errorf("config: negative streamMaxLen")
	}
	return nil
}

// PollInterval is the broker poll cycle period.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// ReadBlock bounds the blocking wait inside one broker read.
func (c Config) ReadBlock() time.Duration {
	return time.Duration(c.ReadBlockMs) * time.Millisecond
}

// KeepaliveInterval is the streaming keepalive period.
func (c Config) KeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveIntervalMs) * time.Millisecond
}

// DefaultDataDir picks a data directory for the embedded broker: the XDG
// data home when set, otherwise the platform's conventional app-data
// location, falling back to ~/.orderbean on Unix systems without /var/lib.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "orderbean")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "OrderBean")
	case "windows":
		return filepath.Join(home, "AppData", "Local", "OrderBean")
	default:
		if info, err := os.Stat("/var/lib"); err == nil && info.IsDir() {
			return "/var/lib/orderbean"
		}
		return filepath.Join(home, ".orderbean")
	}
}
