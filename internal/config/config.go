// Package config loads the panel configuration from a single config.json.
// A missing file means defaults; unset booleans are pointers so the file can
// distinguish "absent" from "false".
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

type Config struct {
	StateRoot  string `json:"state_root"`
	AgentsDir  string `json:"agents_dir"`
	LogFile    string `json:"log_file"`
	PollEvery  string `json:"poll_every"`
	RedisURL   string `json:"redis_url"`
	ListenAddr string `json:"listen_addr"`

	Serve ServeConfig `json:"serve"`
	Prune PruneConfig `json:"prune"`
}

type ServeConfig struct {
	Enabled *bool `json:"enabled"`
}

type PruneConfig struct {
	Enabled   *bool  `json:"enabled"`
	Schedule  string `json:"schedule"`
	Retention string `json:"retention"`
}

type configFile struct {
	Panel *Config `json:"panel"`
}

func DefaultConfig() Config {
	return Config{
		StateRoot:  ".agentdeck/runs",
		AgentsDir:  ".agentdeck/agents",
		PollEvery:  "2s",
		ListenAddr: "127.0.0.1:7411",
		Prune: PruneConfig{
			Schedule:  "@hourly",
			Retention: "168h",
		},
	}
}

func (c Config) WithDefaults() Config {
	out := c
	def := DefaultConfig()
	if strings.TrimSpace(out.StateRoot) == "" {
		out.StateRoot = def.StateRoot
	}
	if strings.TrimSpace(out.AgentsDir) == "" {
		out.AgentsDir = def.AgentsDir
	}
	if strings.TrimSpace(out.PollEvery) == "" {
		out.PollEvery = def.PollEvery
	}
	if strings.TrimSpace(out.ListenAddr) == "" {
		out.ListenAddr = def.ListenAddr
	}

	if out.Serve.Enabled == nil {
		v := false
		out.Serve.Enabled = &v
	}

	if out.Prune.Enabled == nil {
		v := true
		out.Prune.Enabled = &v
	}
	if strings.TrimSpace(out.Prune.Schedule) == "" {
		out.Prune.Schedule = def.Prune.Schedule
	}
	if strings.TrimSpace(out.Prune.Retention) == "" {
		out.Prune.Retention = def.Prune.Retention
	}
	return out
}

func LoadConfig(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = "config.json"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig().WithDefaults(), nil
		}
		return Config{}, err
	}

	var cfg configFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Panel == nil {
		return DefaultConfig().WithDefaults(), nil
	}
	return cfg.Panel.WithDefaults(), nil
}
