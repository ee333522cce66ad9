package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type clientConfig struct {
	Database string       `yaml:"database"`
	Relay    relaySection `yaml:"relay"`
	Redis    redisSection `yaml:"redis"`
}

type relaySection struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	CharacterID  string        `yaml:"character_id"`
	UserID       string        `yaml:"user_id"`
	RoutingToken string        `yaml:"routing_token"`
	Timeout      time.Duration `yaml:"timeout"`
}

type redisSection struct {
	URL      string `yaml:"url"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

func defaultConfig() clientConfig {
	dataDir := ".buddypark"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".buddypark")
	}
	return clientConfig{
		Database: filepath.Join(dataDir, "chat.db"),
		Relay: relaySection{
			BaseURL:     "http://localhost:8080",
			CharacterID: "companion",
			Timeout:     30 * time.Second,
		},
		Redis: redisSection{
			URL:      "redis://localhost:6379/0",
			Stream:   "push_outbox",
			Group:    "chatclient",
			Consumer: "chatclient",
		},
	}
}

// loadConfig overlays the YAML file at path on the defaults. A missing file is
// not an error.
func loadConfig(path string) (clientConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return clientConfig{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return clientConfig{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Relay.RoutingToken == "" {
		cfg.Relay.RoutingToken = cfg.Relay.UserID
	}
	return cfg, nil
}
