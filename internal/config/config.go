// Package config loads octopus's runtime configuration: a YAML file at
// BASE_DIR/octopus.yaml, overridable by OCTOPUS_* environment
// variables, overridable in turn by CLI flags — following the
// teacher's resolveConfig precedence (flag > env > file > default)
// from cmd/nullbot/main.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SinkConfig is one entry under the `sinks:` list.
type SinkConfig struct {
	ID  string         `yaml:"id"`
	Raw map[string]any `yaml:",inline"`

	RateLimitMaxSends int           `yaml:"rate_limit_max_sends"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
}

// Config is the full set of tunables from spec.md §6.
type Config struct {
	BaseDir string `yaml:"base_dir"`

	AllowedInactivity   time.Duration `yaml:"allowed_inactivity_time"`
	RemoveInactiveNames []string      `yaml:"remove_inactive_collectors"`

	TickInterval  time.Duration `yaml:"tick_interval"`
	Dedupinterval time.Duration `yaml:"dedupinterval"`
	Evictinterval time.Duration `yaml:"evictinterval"`
	Deduponlyzero bool          `yaml:"deduponlyzero"`

	LogLevel string `yaml:"log_level"`

	Sinks []SinkConfig `yaml:"sinks"`

	AWSRegion string `yaml:"aws_region"`

	MaxReadQueueSize int `yaml:"max_read_queue_size"`
	MaxSendqSize     int `yaml:"max_sendq_size"`
}

// Default returns the baseline configuration before file/env/flag
// overrides (spec.md §6: ALLOWED_INACTIVITY_TIME=180s, tick default 3s).
func Default() Config {
	return Config{
		BaseDir:             "/var/lib/octopus",
		AllowedInactivity:   180 * time.Second,
		RemoveInactiveNames: nil,
		TickInterval:        3 * time.Second,
		Dedupinterval:       300 * time.Second,
		Evictinterval:       600 * time.Second,
		Deduponlyzero:       false,
		LogLevel:            "info",
		Sinks:               []SinkConfig{{ID: "stdout"}},
		MaxReadQueueSize:    100000,
		MaxSendqSize:        10000,
	}
}

// CollectorDir is BASE_DIR/collectors.
func (c Config) CollectorDir() string { return filepath.Join(c.BaseDir, "collectors") }

// PIDPath is BASE_DIR/octopus.pid.
func (c Config) PIDPath() string { return filepath.Join(c.BaseDir, "octopus.pid") }

// LogDir is BASE_DIR/logs.
func (c Config) LogDir() string { return filepath.Join(c.BaseDir, "logs") }

// Load reads path (if it exists) over Default(), then applies
// OCTOPUS_*-prefixed environment variable overrides. File absence is
// not an error — Default() plus env/flags is a valid configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overrides cfg with any set OCTOPUS_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OCTOPUS_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("OCTOPUS_ALLOWED_INACTIVITY_TIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AllowedInactivity = d
		}
	}
	if v := os.Getenv("OCTOPUS_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TickInterval = d
		}
	}
	if v := os.Getenv("OCTOPUS_DEDUPINTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dedupinterval = d
		}
	}
	if v := os.Getenv("OCTOPUS_EVICTINTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Evictinterval = d
		}
	}
	if v := os.Getenv("OCTOPUS_DEDUPONLYZERO"); v != "" {
		cfg.Deduponlyzero = v == "1" || v == "true"
	}
	if v := os.Getenv("OCTOPUS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OCTOPUS_AWS_REGION"); v != "" {
		cfg.AWSRegion = v
	}
	if v := os.Getenv("OCTOPUS_MAX_READ_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxReadQueueSize = n
		}
	}
	if v := os.Getenv("OCTOPUS_MAX_SENDQ_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSendqSize = n
		}
	}
}

// RemoveInactiveSet builds the lookup set procmgr.Config expects.
func (c Config) RemoveInactiveSet() map[string]bool {
	out := make(map[string]bool, len(c.RemoveInactiveNames))
	for _, name := range c.RemoveInactiveNames {
		out[name] = true
	}
	return out
}
