package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role selects which side of the protocol this process runs.
const (
	RoleHost = "host"
	RolePeer = "peer"
)

type AutoSaveConfig struct {
	Enabled     bool `yaml:"enabled"`
	IntervalSec int  `yaml:"interval_sec"`
	EveryMoves  int  `yaml:"every_moves"`
}

type Config struct {
	Role string `yaml:"role"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	// ListenAddr serves the replication hub (host only).
	ListenAddr string `yaml:"listen_addr"`
	// StatusAddr serves /healthz and /session.
	StatusAddr string `yaml:"status_addr"`
	// HostWSURL is the hub endpoint a peer dials.
	HostWSURL string `yaml:"host_ws_url"`

	// SaveTTLHours bounds record lifetime in the store. 0 keeps forever.
	SaveTTLHours int `yaml:"save_ttl_hours"`

	AutoSave AutoSaveConfig `yaml:"autosave"`
}

// Load reads the optional YAML file at path, then applies environment
// overrides, then validates. Env always wins over file values.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Role:       RoleHost,
		ListenAddr: ":8090",
		StatusAddr: ":8091",
		AutoSave: AutoSaveConfig{
			Enabled:     true,
			IntervalSec: 30,
			EveryMoves:  5,
		},
	}

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CHESSYNC_ROLE")); v != "" {
		cfg.Role = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CHESSYNC_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CHESSYNC_STATUS_ADDR")); v != "" {
		cfg.StatusAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CHESSYNC_HOST_WS_URL")); v != "" {
		cfg.HostWSURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CHESSYNC_SAVE_TTL_HOURS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SaveTTLHours = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("AUTOSAVE_ENABLED")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoSave.Enabled = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("AUTOSAVE_INTERVAL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AutoSave.IntervalSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("AUTOSAVE_EVERY_MOVES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AutoSave.EveryMoves = n
		}
	}
}

func (c *Config) validate() error {
	if c.Role != RoleHost && c.Role != RolePeer {
		return fmt.Errorf("invalid role %q (want %q or %q)", c.Role, RoleHost, RolePeer)
	}
	if c.Role == RoleHost && strings.TrimSpace(c.RedisURL) == "" {
		return errors.New("REDIS_URL is required in host mode")
	}
	if c.Role == RolePeer && strings.TrimSpace(c.HostWSURL) == "" {
		return errors.New("CHESSYNC_HOST_WS_URL is required in peer mode")
	}
	return nil
}

// IsHost reports whether this process holds write authority.
func (c *Config) IsHost() bool { return c.Role == RoleHost }
