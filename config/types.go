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

// Package config loads and validates the sync server and client's
// configuration: listen ports, the vault data directory, TLS, and the
// ambient logging/metrics/health surfaces.
package config

import "time"

// Config is the root configuration for a sync server process.
type Config struct {
	Environment string         `yaml:"environment" json:"environment"`
	Server      *ServerConfig  `yaml:"server" json:"server"`
	Auth        *AuthConfig    `yaml:"auth" json:"auth"`
	Logging     *LoggingConfig `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig  `yaml:"health" json:"health"`
}

// ServerConfig covers the listener settings spec.md §6 exposes as
// environment variables: PORT, DISCOVERY_PORT, DATA_DIR, HOSTNAME, USE_TLS.
type ServerConfig struct {
	Port          int    `yaml:"port" json:"port"`
	DiscoveryPort int    `yaml:"discovery_port" json:"discovery_port"`
	DataDir       string `yaml:"data_dir" json:"data_dir"`
	Hostname      string `yaml:"hostname" json:"hostname"`
	UseTLS        bool   `yaml:"use_tls" json:"use_tls"`
	TLSCertFile   string `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile    string `yaml:"tls_key_file" json:"tls_key_file"`
}

// AuthConfig carries authentication rate-limiter and token settings. It is
// part of the loaded configuration but pkg/auth does not read it: the 60s
// window and 5-failure threshold there are fixed constants.
type AuthConfig struct {
	RateLimitWindow    time.Duration `yaml:"rate_limit_window" json:"rate_limit_window"`
	RateLimitThreshold int           `yaml:"rate_limit_threshold" json:"rate_limit_threshold"`
	TokenTTL           time.Duration `yaml:"token_ttl" json:"token_ttl"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
	Output string `yaml:"output" json:"output"` // stdout, stderr, file path
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}
