// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

// Package config loads the engine configuration with Koanf v2, layering
// three sources in increasing priority:
//
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. STAGESENSE_* environment variables
//
// Environment variables map onto config paths with a double underscore as
// the section separator: STAGESENSE_SERVER__LISTEN_ADDR -> server.listen_addr.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/stagesense/internal/catalog"
	"github.com/tomtom215/stagesense/internal/detection"
	"github.com/tomtom215/stagesense/internal/logging"
	"github.com/tomtom215/stagesense/internal/matching"
	"github.com/tomtom215/stagesense/internal/policy"
	"github.com/tomtom215/stagesense/internal/settings"
	"github.com/tomtom215/stagesense/internal/validation"
)

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/stagesense/config.yaml",
	"/etc/stagesense/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "STAGESENSE_CONFIG_PATH"

// envPrefix namespaces all engine environment variables.
const envPrefix = "STAGESENSE_"

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gte=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// ListenAddr returns the host:port listen address.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig mirrors logging.Config with koanf tags.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// ToLogging converts to the logging package's Config.
func (l LoggingConfig) ToLogging() logging.Config {
	return logging.Config{Level: l.Level, Format: l.Format, Caller: l.Caller}
}

// StorageConfig holds the embedded settings store location. InMemory is
// intended for tests and ephemeral deployments.
type StorageConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// CatalogConfig holds the show catalog source and its breaker settings.
// With no URL configured the engine runs against the in-process demo
// catalog.
type CatalogConfig struct {
	URL     string                `koanf:"url" validate:"omitempty,url"`
	Breaker catalog.BreakerConfig `koanf:"breaker"`
}

// RealtimeConfig holds the live-stats channel settings.
type RealtimeConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url" validate:"omitempty,uri"`
}

// Config is the full engine configuration.
type Config struct {
	Server    ServerConfig           `koanf:"server"`
	Logging   LoggingConfig          `koanf:"logging"`
	Storage   StorageConfig          `koanf:"storage"`
	Catalog   CatalogConfig          `koanf:"catalog"`
	Realtime  RealtimeConfig         `koanf:"realtime"`
	Detection detection.Config       `koanf:"detection"`
	Scoring   matching.ScoringConfig `koanf:"scoring"`
	Policy    policy.Config          `koanf:"policy"`
	Bounds    settings.Bounds        `koanf:"settings_bounds"`
}

// defaultConfig returns the built-in defaults, applied before file and env
// layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8472,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Storage: StorageConfig{
			Path:     "/data/stagesense",
			InMemory: false,
		},
		Catalog: CatalogConfig{
			URL:     "", // demo catalog by default
			Breaker: catalog.DefaultBreakerConfig(),
		},
		Realtime: RealtimeConfig{
			Enabled: false,
			URL:     "",
		},
		Detection: detection.DefaultConfig(),
		Scoring:   matching.DefaultScoringConfig(),
		Policy:    policy.DefaultConfig(),
		Bounds:    settings.DefaultBounds(),
	}
}

// Load builds the configuration from defaults, optional YAML file, and
// environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags plus the
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	if c.Bounds.MinRadiusMeters > c.Bounds.MaxRadiusMeters {
		return fmt.Errorf("settings_bounds: min_radius_meters %v exceeds max_radius_meters %v",
			c.Bounds.MinRadiusMeters, c.Bounds.MaxRadiusMeters)
	}
	if c.Bounds.MinTimeWindowHours > c.Bounds.MaxTimeWindowHours {
		return fmt.Errorf("settings_bounds: min_time_window_hours %v exceeds max_time_window_hours %v",
			c.Bounds.MinTimeWindowHours, c.Bounds.MaxTimeWindowHours)
	}
	if sum := c.Scoring.ProximityWeight + c.Scoring.TemporalWeight; sum > 1 {
		return fmt.Errorf("scoring: proximity_weight + temporal_weight = %v, must not exceed 1", sum)
	}
	if c.Scoring.TemporalWeight > c.Scoring.ProximityWeight {
		return fmt.Errorf("scoring: temporal_weight %v exceeds proximity_weight %v",
			c.Scoring.TemporalWeight, c.Scoring.ProximityWeight)
	}
	if c.Scoring.AccuracyWeight > c.Scoring.TemporalWeight {
		return fmt.Errorf("scoring: accuracy_weight %v exceeds temporal_weight %v",
			c.Scoring.AccuracyWeight, c.Scoring.TemporalWeight)
	}
	if c.Policy.MediumConfidenceThreshold > c.Policy.HighConfidenceThreshold {
		return fmt.Errorf("policy: medium_confidence_threshold %v exceeds high_confidence_threshold %v",
			c.Policy.MediumConfidenceThreshold, c.Policy.HighConfidenceThreshold)
	}
	if c.Realtime.Enabled && c.Realtime.URL == "" {
		return fmt.Errorf("realtime: enabled without a url")
	}
	return nil
}

// findConfigFile checks the env override, then the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps STAGESENSE_SECTION__KEY_NAME to section.key_name.
// The config-path override is not a config key and is skipped.
func envTransform(s string) string {
	if s == ConfigPathEnvVar {
		return ""
	}
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
