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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFromFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
environment: production
server:
  port: 9443
  discovery_port: 9444
  data_dir: /var/lib/sync
  hostname: sync-host
logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "production", cfg.Environment)
	require.Equal(t, 9443, cfg.Server.Port)
	require.Equal(t, 9444, cfg.Server.DiscoveryPort)
	require.Equal(t, "/var/lib/sync", cfg.Server.DataDir)
	require.Equal(t, "sync-host", cfg.Server.Hostname)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadFromFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"environment":"staging","server":{"port":8000,"discovery_port":8001,"data_dir":"/data"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadFromFileMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSetDefaultsFillsEverything(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, 9443, cfg.Server.Port)
	require.Equal(t, 9444, cfg.Server.DiscoveryPort)
	require.Equal(t, "./data", cfg.Server.DataDir)
	require.NotEmpty(t, cfg.Server.Hostname)
	require.Equal(t, 5, cfg.Auth.RateLimitThreshold)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
	require.True(t, cfg.Health.Enabled)
	require.Equal(t, "/health", cfg.Health.Path)
}

func TestSaveToFileRoundTripYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")

	cfg := &Config{Environment: "test"}
	setDefaults(cfg)
	cfg.Server.Port = 7000

	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 7000, loaded.Server.Port)
}

func TestSaveToFileRoundTripJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	cfg := &Config{Environment: "test"}
	setDefaults(cfg)
	cfg.Server.DataDir = "/tmp/vault"

	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/vault", loaded.Server.DataDir)
}

func TestServerIDPath(t *testing.T) {
	cfg := &Config{Server: &ServerConfig{DataDir: "/srv/data"}}
	require.Equal(t, filepath.Join("/srv/data", "server-id"), cfg.ServerIDPath())
}
