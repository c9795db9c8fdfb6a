// Package config loads termrelay's configuration from a TOML file on disk,
// layering system, user, and environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server ServerConfig `toml:"server"`
}

type ServerConfig struct {
	Host                 string `toml:"host"`
	Port                 int    `toml:"port"`
	DataDir              string `toml:"data_dir"`
	DatabaseURL          string `toml:"database_url"`
	NatsURL              string `toml:"nats_url"`
	Auth                 string `toml:"auth"` // "none" or "token"
	DefaultCols          int    `toml:"default_cols"`
	DefaultRows          int    `toml:"default_rows"`
	SessionMaxAgeMs      int64  `toml:"session_max_age_ms"`
	ProducerReconnectMs  int64  `toml:"producer_reconnect_ms"`
	ViewerSetupTimeoutMs int64  `toml:"viewer_setup_timeout_ms"`
	MaxFrameBytes        int    `toml:"max_frame_bytes"`
	ClosedRingSize       int    `toml:"closed_ring_size"`
}

func DefaultConfig() *Config {
	dataDir := "/var/lib/termrelay"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".local", "share", "termrelay")
	}

	return &Config{
		Server: ServerConfig{
			Host:                 "127.0.0.1",
			Port:                 7420,
			DataDir:              dataDir,
			Auth:                 "none",
			DefaultCols:          80,
			DefaultRows:          24,
			SessionMaxAgeMs:      3_600_000,
			ProducerReconnectMs:  30_000,
			ViewerSetupTimeoutMs: 10_000,
			MaxFrameBytes:        1 << 20,
			ClosedRingSize:       50,
		},
	}
}

// AuthEnabled reports whether producer/participant tokens must be verified.
func (c *Config) AuthEnabled() bool {
	return c.Server.Auth == "token"
}

// Load builds a Config from defaults, then /etc/termrelay/config.toml, then
// ~/.config/termrelay/config.toml, then TERMRELAY_* environment overrides,
// each layer overriding the previous.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat("/etc/termrelay/config.toml"); err == nil {
		if _, err := toml.DecodeFile("/etc/termrelay/config.toml", cfg); err != nil {
			return nil, err
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(home, ".config", "termrelay", "config.toml")
		if _, err := os.Stat(userConfig); err == nil {
			if _, err := toml.DecodeFile(userConfig, cfg); err != nil {
				return nil, err
			}
		}
	}

	if v := os.Getenv("TERMRELAY_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TERMRELAY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid TERMRELAY_PORT: %q", v)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("TERMRELAY_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("TERMRELAY_DATABASE_URL"); v != "" {
		cfg.Server.DatabaseURL = v
	}
	if v := os.Getenv("TERMRELAY_NATS_URL"); v != "" {
		cfg.Server.NatsURL = v
	}
	if v := os.Getenv("TERMRELAY_AUTH"); v != "" {
		cfg.Server.Auth = v
	}

	return cfg, nil
}

func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.Server.DataDir, 0o755)
}
