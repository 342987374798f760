// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/abstat/pkg/logging"
	"github.com/AleutianAI/abstat/pkg/telemetry"
	"github.com/AleutianAI/abstat/services/experiment/ab"
)

// CurrentConfigVersion is written to new config files.
const CurrentConfigVersion = "1"

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

type AbstatConfig struct {
	Meta MetaConfig `yaml:"meta"`

	// Defaults: values used when a command flag is not given
	Defaults DefaultsConfig `yaml:"defaults"`

	// Server: the `abstat serve` listener
	Server ServerConfig `yaml:"server"`

	// Telemetry: trace and metric exporters
	Telemetry telemetry.Config `yaml:"telemetry"`

	Logging LoggingConfig `yaml:"logging"`

	// PresetsFile replaces the built-in preset table. Hot-reloaded by serve.
	PresetsFile string `yaml:"presets_file,omitempty"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type DefaultsConfig struct {
	Confidence     float64 `yaml:"confidence"`      // e.g. 0.95
	Power          float64 `yaml:"power"`           // e.g. 0.8
	CheckpointSize int     `yaml:"checkpoint_size"` // 0 picks N/20
	Seed           uint64  `yaml:"seed"`
}

type ServerConfig struct {
	Addr      string  `yaml:"addr"`       // e.g. :8090
	RateLimit float64 `yaml:"rate_limit"` // requests/second, 0 disables
	Burst     int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir,omitempty"`
}

// DefaultConfig returns the config written on first run.
func DefaultConfig() AbstatConfig {
	return AbstatConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Defaults: DefaultsConfig{
			Confidence: 0.95,
			Power:      0.8,
			Seed:       1,
		},
		Server: ServerConfig{
			Addr:      ":8090",
			RateLimit: 50,
			Burst:     100,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate reports every problem in the config at once.
func (c AbstatConfig) Validate() error {
	var errs []error
	if !ab.ValidLevel(c.Defaults.Confidence) {
		errs = append(errs, fmt.Errorf("%w: defaults.confidence %v must be in [%v, 1)", ErrInvalidConfig, c.Defaults.Confidence, ab.MinLevel))
	}
	if !ab.ValidLevel(c.Defaults.Power) {
		errs = append(errs, fmt.Errorf("%w: defaults.power %v must be in [%v, 1)", ErrInvalidConfig, c.Defaults.Power, ab.MinLevel))
	}
	if c.Defaults.CheckpointSize < 0 {
		errs = append(errs, fmt.Errorf("%w: defaults.checkpoint_size %d must not be negative", ErrInvalidConfig, c.Defaults.CheckpointSize))
	}
	if c.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("%w: server.addr is empty", ErrInvalidConfig))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("%w: server.rate_limit %v must not be negative", ErrInvalidConfig, c.Server.RateLimit))
	}
	if c.Server.RateLimit > 0 && c.Server.Burst < 1 {
		errs = append(errs, fmt.Errorf("%w: server.burst must be at least 1 when rate limiting", ErrInvalidConfig))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: logging.level: %w", ErrInvalidConfig, err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: telemetry: %w", ErrInvalidConfig, err))
	}
	return errors.Join(errs...)
}
