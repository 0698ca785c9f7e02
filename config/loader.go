// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.


package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoaderOptions configures the configuration loader
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// SkipEnvSubstitution disables environment variable substitution
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation
	SkipValidation bool
}

// DefaultLoaderOptions returns default loader options
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir:           "config",
		Environment:         "",
		SkipEnvSubstitution: false,
		SkipValidation:      false,
	}
}

// Load loads configuration with automatic environment detection. It reads
// an environment-specific file if present, falls back to default.yaml and
// then config.yaml, and finally runs with defaults alone. The PORT,
// DISCOVERY_PORT, DATA_DIR, HOSTNAME and USE_TLS environment variables
// always take priority over whatever the file contained.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	envConfigPath := filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env))
	cfg, err := loadConfigFile(envConfigPath)
	if err != nil {
		defaultConfigPath := filepath.Join(options.ConfigDir, "default.yaml")
		cfg, err = loadConfigFile(defaultConfigPath)
		if err != nil {
			configPath := filepath.Join(options.ConfigDir, "config.yaml")
			cfg, err = loadConfigFile(configPath)
			if err != nil {
				cfg = &Config{}
				setDefaults(cfg)
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	setDefaults(cfg)

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}

	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		issues := ValidateConfiguration(cfg)
		for _, issue := range issues {
			if issue.Level == "error" {
				return nil, fmt.Errorf("configuration validation failed: %s - %s", issue.Field, issue.Message)
			}
		}
	}

	return cfg, nil
}

// loadConfigFile loads a single config file
func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides applies the environment variables spec.md §6
// documents as the server's external configuration surface. These take
// priority over both the file and the ${VAR} substitutions above.
func applyEnvironmentOverrides(cfg *Config) {
	if cfg.Server != nil {
		if port := getEnvInt("PORT", 0); port != 0 {
			cfg.Server.Port = port
		}
		if port := getEnvInt("DISCOVERY_PORT", 0); port != 0 {
			cfg.Server.DiscoveryPort = port
		}
		if dir := os.Getenv("DATA_DIR"); dir != "" {
			cfg.Server.DataDir = dir
		}
		if host := os.Getenv("HOSTNAME"); host != "" {
			cfg.Server.Hostname = host
		}
		if _, ok := os.LookupEnv("USE_TLS"); ok {
			cfg.Server.UseTLS = getEnvBool("USE_TLS", cfg.Server.UseTLS)
		}
		if cert := os.Getenv("TLS_CERT_FILE"); cert != "" {
			cfg.Server.TLSCertFile = cert
		}
		if key := os.Getenv("TLS_KEY_FILE"); key != "" {
			cfg.Server.TLSKeyFile = key
		}
	}

	if cfg.Logging != nil {
		if level := os.Getenv("SAGE_LOG_LEVEL"); level != "" {
			cfg.Logging.Level = level
		}
		if format := os.Getenv("SAGE_LOG_FORMAT"); format != "" {
			cfg.Logging.Format = format
		}
	}

	if cfg.Metrics != nil {
		if _, ok := os.LookupEnv("SAGE_METRICS_ENABLED"); ok {
			cfg.Metrics.Enabled = getEnvBool("SAGE_METRICS_ENABLED", cfg.Metrics.Enabled)
		}
	}
}

// LoadForEnvironment loads configuration for a specific environment
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{
		ConfigDir:   "config",
		Environment: environment,
	})
}

// MustLoad loads configuration or panics on error
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}

// ServerIDPath returns the path the server persists its randomly
// generated server identifier under, inside DataDir.
func (c *Config) ServerIDPath() string {
	return filepath.Join(c.Server.DataDir, "server-id")
}
