// Package config loads the settings shared by the agent and the signaling
// server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Signaling SignalingConfig `yaml:"signaling"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Log       LogConfig       `yaml:"log"`
}

type AgentConfig struct {
	Listen   string `yaml:"listen"`
	BoardID  string `yaml:"board_id"`
	UserName string `yaml:"user_name"`
	UIDir    string `yaml:"ui_dir"`
}

type SignalingConfig struct {
	// URL is the websocket endpoint agents dial.
	URL string `yaml:"url"`
	// Listen is the address the signaling server binds.
	Listen   string        `yaml:"listen"`
	ClaimTTL time.Duration `yaml:"claim_ttl"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"` // bolt, postgres or memory
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
	Domain  string `yaml:"domain"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Listen: "localhost:8080",
		},
		Signaling: SignalingConfig{
			URL:      "ws://localhost:8081/peer",
			Listen:   ":8081",
			ClaimTTL: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "bolt",
			Path:   "retroboard.db",
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Service: "_retroboard._tcp",
			Domain:  "local.",
		},
		Log: LogConfig{
			Level: "info",
			Env:   "prod",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	if v := os.Getenv("AGENT_LISTEN"); v != "" {
		cfg.Agent.Listen = v
	}
	if v := os.Getenv("BOARD_ID"); v != "" {
		cfg.Agent.BoardID = v
	}
	if v := os.Getenv("USER_NAME"); v != "" {
		cfg.Agent.UserName = v
	}
	if v := os.Getenv("UI_DIR"); v != "" {
		cfg.Agent.UIDir = v
	}
	if v := os.Getenv("SIGNALING_URL"); v != "" {
		cfg.Signaling.URL = v
	}
	if v := os.Getenv("SIGNALING_LISTEN"); v != "" {
		cfg.Signaling.Listen = v
	}
	if v := os.Getenv("CLAIM_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Signaling.ClaimTTL = d
		}
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.URL = "redis://" + v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("DISCOVERY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Discovery.Enabled = b
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Log.Env = v
	}

	return cfg, nil
}
