// Copyright (C) 2025 sage-x-project
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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWithNoFilesFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(LoaderOptions{
		ConfigDir:   t.TempDir(),
		Environment: "development",
	})
	require.NoError(t, err)
	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, 9443, cfg.Server.Port)
}

func TestLoadAppliesPortOverride(t *testing.T) {
	t.Setenv("PORT", "7700")
	t.Setenv("DISCOVERY_PORT", "7701")
	t.Setenv("DATA_DIR", "/tmp/sync-data")
	t.Setenv("HOSTNAME", "override-host")

	cfg, err := Load(LoaderOptions{ConfigDir: t.TempDir()})
	require.NoError(t, err)
	require.Equal(t, 7700, cfg.Server.Port)
	require.Equal(t, 7701, cfg.Server.DiscoveryPort)
	require.Equal(t, "/tmp/sync-data", cfg.Server.DataDir)
	require.Equal(t, "override-host", cfg.Server.Hostname)
}

func TestLoadUseTLSOverride(t *testing.T) {
	t.Setenv("USE_TLS", "true")
	cfg, err := Load(LoaderOptions{ConfigDir: t.TempDir()})
	require.NoError(t, err)
	require.True(t, cfg.Server.UseTLS)
}

func TestLoadFailsValidationOnConflictingPorts(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DISCOVERY_PORT", "9000")

	_, err := Load(LoaderOptions{ConfigDir: t.TempDir()})
	require.Error(t, err)
}

func TestLoadSkipValidationIgnoresConflictingPorts(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DISCOVERY_PORT", "9000")

	cfg, err := Load(LoaderOptions{ConfigDir: t.TempDir(), SkipValidation: true})
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Server.Port)
}

func TestDefaultLoaderOptions(t *testing.T) {
	opts := DefaultLoaderOptions()
	require.Equal(t, "config", opts.ConfigDir)
	require.False(t, opts.SkipEnvSubstitution)
	require.False(t, opts.SkipValidation)
}

func TestMustLoadPanicsOnValidationFailure(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DISCOVERY_PORT", "9000")

	require.Panics(t, func() {
		MustLoad(LoaderOptions{ConfigDir: t.TempDir()})
	})
}

func TestValidateConfigurationFlagsMissingTLSFiles(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Server.UseTLS = true

	issues := ValidateConfiguration(cfg)
	var sawCert, sawKey bool
	for _, issue := range issues {
		if issue.Field == "server.tls_cert_file" {
			sawCert = true
		}
		if issue.Field == "server.tls_key_file" {
			sawKey = true
		}
	}
	require.True(t, sawCert)
	require.True(t, sawKey)
}

func TestValidateConfigurationAcceptsDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	issues := ValidateConfiguration(cfg)
	for _, issue := range issues {
		require.NotEqual(t, "error", issue.Level, issue.Message)
	}
}
