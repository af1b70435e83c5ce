// Copyright (C) 2026 adb-toolkit project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config holds the agent configuration: listener ports, state
// directory, timeouts, and subsystem toggles.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the two listeners.
const (
	DefaultHTTPPort     = 15555
	DefaultTransferPort = 15556
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" as well as integer nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}
	var asString string
	if err := value.Decode(&asString); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config represents the main configuration structure
type Config struct {
	StateDir  string           `yaml:"state_dir" json:"state_dir"`
	Platform  string           `yaml:"platform" json:"platform"`
	HTTP      *HTTPConfig      `yaml:"http" json:"http"`
	Transfer  *TransferConfig  `yaml:"transfer" json:"transfer"`
	Discovery *DiscoveryConfig `yaml:"discovery" json:"discovery"`
	Files     *FilesConfig     `yaml:"files" json:"files"`
	Shell     *ShellConfig     `yaml:"shell" json:"shell"`
	Logging   *LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   *MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// HTTPConfig configures the JSON API listener.
type HTTPConfig struct {
	Host         string   `yaml:"host" json:"host"`
	Port         int      `yaml:"port" json:"port"`
	ReadTimeout  Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// TransferConfig configures the bulk transfer listener.
type TransferConfig struct {
	Host          string   `yaml:"host" json:"host"`
	Port          int      `yaml:"port" json:"port"`
	MaxConcurrent int      `yaml:"max_concurrent" json:"max_concurrent"`
	BufferSize    int      `yaml:"buffer_size" json:"buffer_size"`
	IdleTimeout   Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// DiscoveryConfig configures mDNS registration and browsing.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// FilesConfig configures the filesystem domain.
type FilesConfig struct {
	Root            string `yaml:"root" json:"root"`
	SearchResultCap int    `yaml:"search_result_cap" json:"search_result_cap"`
}

// ShellConfig configures the shell domain.
type ShellConfig struct {
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Default returns a configuration with every knob at its default.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// LoadFromFile loads configuration from a YAML file. Values of the form
// ${VAR} or ${VAR:default} are substituted from the environment before
// parsing. Missing knobs fall back to defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(SubstituteEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(cfg)
	return cfg, nil
}

// setDefaults sets default values for configuration
func setDefaults(cfg *Config) {
	if cfg.StateDir == "" {
		cfg.StateDir = ".adbtoolkit"
	}
	if cfg.Platform == "" {
		cfg.Platform = "host"
	}

	if cfg.HTTP == nil {
		cfg.HTTP = &HTTPConfig{}
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = DefaultHTTPPort
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = Duration(30 * time.Second)
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = Duration(10 * time.Minute)
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = Duration(2 * time.Minute)
	}

	if cfg.Transfer == nil {
		cfg.Transfer = &TransferConfig{}
	}
	if cfg.Transfer.Port == 0 {
		cfg.Transfer.Port = DefaultTransferPort
	}
	if cfg.Transfer.MaxConcurrent == 0 {
		cfg.Transfer.MaxConcurrent = 4
	}
	if cfg.Transfer.BufferSize == 0 {
		cfg.Transfer.BufferSize = 256 * 1024
	}
	if cfg.Transfer.IdleTimeout == 0 {
		cfg.Transfer.IdleTimeout = Duration(2 * time.Minute)
	}

	if cfg.Discovery == nil {
		cfg.Discovery = &DiscoveryConfig{Enabled: true}
	}

	if cfg.Files == nil {
		cfg.Files = &FilesConfig{}
	}
	if cfg.Files.Root == "" {
		cfg.Files.Root = "/"
	}
	if cfg.Files.SearchResultCap == 0 {
		cfg.Files.SearchResultCap = 500
	}

	if cfg.Shell == nil {
		cfg.Shell = &ShellConfig{}
	}
	if cfg.Shell.Timeout == 0 {
		cfg.Shell.Timeout = Duration(30 * time.Second)
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{Enabled: true}
	}
}
