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

import "fmt"

// ValidationError describes a single configuration problem. Level is
// either "error" (Load fails) or "warning" (logged but not fatal).
type ValidationError struct {
	Field   string
	Message string
	Level   string
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidateConfiguration checks cfg for the constraints a running server
// depends on. It never mutates cfg.
func ValidateConfiguration(cfg *Config) []ValidationError {
	var issues []ValidationError

	if cfg.Server == nil {
		issues = append(issues, ValidationError{"server", "server configuration is required", "error"})
		return issues
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		issues = append(issues, ValidationError{"server.port", "must be between 1 and 65535", "error"})
	}
	if cfg.Server.DiscoveryPort <= 0 || cfg.Server.DiscoveryPort > 65535 {
		issues = append(issues, ValidationError{"server.discovery_port", "must be between 1 and 65535", "error"})
	}
	if cfg.Server.Port == cfg.Server.DiscoveryPort {
		issues = append(issues, ValidationError{"server.discovery_port", "must differ from server.port", "error"})
	}
	if cfg.Server.DataDir == "" {
		issues = append(issues, ValidationError{"server.data_dir", "must not be empty", "error"})
	}
	if cfg.Server.UseTLS {
		if cfg.Server.TLSCertFile == "" {
			issues = append(issues, ValidationError{"server.tls_cert_file", "required when use_tls is enabled", "error"})
		}
		if cfg.Server.TLSKeyFile == "" {
			issues = append(issues, ValidationError{"server.tls_key_file", "required when use_tls is enabled", "error"})
		}
	}

	if cfg.Logging != nil {
		switch cfg.Logging.Level {
		case "debug", "info", "warn", "error":
		default:
			issues = append(issues, ValidationError{"logging.level", "invalid log level", "error"})
		}
		switch cfg.Logging.Format {
		case "json", "text":
		default:
			issues = append(issues, ValidationError{"logging.format", "invalid log format", "error"})
		}
	}

	return issues
}
