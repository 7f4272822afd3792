// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"time"

	"github.com/autobrr/trawl/internal/indexer"
)

type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`

	// DefinitionsDir holds YAML definitions that add to or replace the
	// built-in ones.
	DefinitionsDir string `toml:"definitionsDir" mapstructure:"definitionsDir"`

	MaxWorkers         int           `toml:"maxWorkers" mapstructure:"maxWorkers"`
	SearchTimeout      time.Duration `toml:"searchTimeout" mapstructure:"searchTimeout"`
	TargetTimeout      time.Duration `toml:"targetTimeout" mapstructure:"targetTimeout"`
	RequestTimeout     time.Duration `toml:"requestTimeout" mapstructure:"requestTimeout"`
	LoginTimeout       time.Duration `toml:"loginTimeout" mapstructure:"loginTimeout"`
	MaxRetries         int           `toml:"maxRetries" mapstructure:"maxRetries"`
	DefaultMinInterval time.Duration `toml:"defaultMinInterval" mapstructure:"defaultMinInterval"`
	CacheTTL           time.Duration `toml:"cacheTTL" mapstructure:"cacheTTL"`
	CacheSize          int           `toml:"cacheSize" mapstructure:"cacheSize"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	Targets []TargetConfig `toml:"targets" mapstructure:"targets"`
}

// TargetConfig configures one target instance of a definition.
type TargetConfig struct {
	// ID names the target; it defaults to Definition.
	ID         string `toml:"id" mapstructure:"id"`
	Definition string `toml:"definition" mapstructure:"definition"`
	// Enabled is a pointer so an omitted key means enabled.
	Enabled     *bool               `toml:"enabled" mapstructure:"enabled"`
	BaseURL     string              `toml:"baseUrl" mapstructure:"baseUrl"`
	MinInterval time.Duration       `toml:"minInterval" mapstructure:"minInterval"`
	Credentials indexer.Credentials `toml:"credentials" mapstructure:"credentials"`
}

// DefinitionID returns the definition the target instantiates.
func (t TargetConfig) DefinitionID() string {
	if t.Definition != "" {
		return t.Definition
	}
	return t.ID
}

// TargetID returns the configured id, falling back to the definition id.
func (t TargetConfig) TargetID() string {
	if t.ID != "" {
		return t.ID
	}
	return t.Definition
}

func (t TargetConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}
