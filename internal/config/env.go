package config

import (
	"os"
	"strconv"
)

// FromEnv overlays ORDERBEAN_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("ORDERBEAN_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("ORDERBEAN_CHANNEL_MODE"); v != "" {
		cfg.ChannelMode = v
	}
	if v := os.Getenv("ORDERBEAN_BROKER_BACKEND"); v != "" {
		cfg.BrokerBackend = v
	}
	if v := os.Getenv("ORDERBEAN_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("ORDERBEAN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ORDERBEAN_STREAM_MAX_LEN"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.StreamMaxLen = n
		}
	}
	if v := os.Getenv("ORDERBEAN_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollIntervalMs = n
		}
	}
	if v := os.Getenv("ORDERBEAN_READ_BLOCK_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReadBlockMs = n
		}
	}
	if v := os.Getenv("ORDERBEAN_KEEPALIVE_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.KeepaliveIntervalMs = n
		}
	}
	if v := os.Getenv("ORDERBEAN_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("ORDERBEAN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ORDERBEAN_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}
