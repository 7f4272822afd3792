// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/trawl/internal/domain"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath
}

func TestDatabasePathResolution(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, tmpDir string) (configPath string, envDataDir string, expectedDBPath string)
	}{
		{
			name: "default_next_to_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configPath := writeConfig(t, tmpDir, "host = \"localhost\"\nport = 8080\n")
				return configPath, "", filepath.Join(tmpDir, "trawl.db")
			},
		},
		{
			name: "explicit_data_dir_in_config",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				dataDir := filepath.Join(tmpDir, "data")
				require.NoError(t, os.MkdirAll(dataDir, 0o755))
				configPath := writeConfig(t, tmpDir, fmt.Sprintf("host = \"localhost\"\ndataDir = %q\n", dataDir))
				return configPath, "", filepath.Join(dataDir, "trawl.db")
			},
		},
		{
			name: "env_var_override",
			prepare: func(t *testing.T, tmpDir string) (string, string, string) {
				configDataDir := filepath.Join(tmpDir, "config-data")
				envDataDir := filepath.Join(tmpDir, "env-data")
				configPath := writeConfig(t, tmpDir, fmt.Sprintf("dataDir = %q\n", configDataDir))
				return configPath, envDataDir, filepath.Join(envDataDir, "trawl.db")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath, envValue, expectedDBPath := tt.prepare(t, tmpDir)
			if envValue != "" {
				t.Setenv(envPrefix+"DATA_DIR", envValue)
			}

			cfg, err := New(configPath)
			require.NoError(t, err)

			assert.Equal(t, filepath.Clean(expectedDBPath), filepath.Clean(cfg.GetDatabasePath()))
		})
	}
}

func TestConfigDirResolution(t *testing.T) {
	tests := []struct {
		name           string
		input          string
		setupFile      bool
		fileIsDir      bool
		expectedSuffix string
	}{
		{name: "toml_file_extension", input: "/path/to/custom.toml", expectedSuffix: "custom.toml"},
		{name: "TOML_file_extension_uppercase", input: "/path/to/CONFIG.TOML", expectedSuffix: "CONFIG.TOML"},
		{name: "directory_path", input: "/path/to/config", expectedSuffix: "config.toml"},
		{name: "existing_file_without_toml", input: "/path/to/configfile", setupFile: true, expectedSuffix: "configfile"},
		{name: "existing_directory", input: "/path/to/configdir", setupFile: true, fileIsDir: true, expectedSuffix: "config.toml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			inputPath := filepath.Join(tmpDir, filepath.Base(tt.input))

			if tt.setupFile {
				if tt.fileIsDir {
					require.NoError(t, os.MkdirAll(inputPath, 0o755))
				} else {
					require.NoError(t, os.WriteFile(inputPath, []byte("test"), 0o644))
				}
			}

			c := &AppConfig{}
			result := c.resolveConfigPath(inputPath)
			assert.True(t, strings.HasSuffix(result, tt.expectedSuffix),
				"Expected result %s to end with %s", result, tt.expectedSuffix)
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	cfg, err := New(writeConfig(t, t.TempDir(), "port = 8081\n"))
	require.NoError(t, err)

	c := cfg.Current()
	assert.Equal(t, 8081, c.Port)
	assert.Equal(t, 8, c.MaxWorkers)
	assert.Equal(t, 60*time.Second, c.SearchTimeout)
	assert.Equal(t, 45*time.Second, c.TargetTimeout)
	assert.Equal(t, 2*time.Second, c.DefaultMinInterval)
	assert.Equal(t, 5*time.Minute, c.CacheTTL)
	assert.Equal(t, 2, c.MaxRetries)
	assert.False(t, c.MetricsEnabled)
	assert.Equal(t, "dev", c.Version)
}

func TestNewParsesTargets(t *testing.T) {
	content := `
searchTimeout = "20s"

[[targets]]
definition = "thepiratebay"

[[targets]]
id = "rutracker-mirror"
definition = "rutracker"
enabled = false
baseUrl = "https://rutracker.net/"
minInterval = "3s"
[targets.credentials]
username = "alice"
password = "from-file"
`
	cfg, err := New(writeConfig(t, t.TempDir(), content))
	require.NoError(t, err)

	c := cfg.Current()
	assert.Equal(t, 20*time.Second, c.SearchTimeout)
	require.Len(t, c.Targets, 2)

	tpb := c.Targets[0]
	assert.Equal(t, "thepiratebay", tpb.TargetID())
	assert.Equal(t, "thepiratebay", tpb.DefinitionID())
	assert.True(t, tpb.IsEnabled())

	rt := c.Targets[1]
	assert.Equal(t, "rutracker-mirror", rt.TargetID())
	assert.Equal(t, "rutracker", rt.DefinitionID())
	assert.False(t, rt.IsEnabled())
	assert.Equal(t, "https://rutracker.net/", rt.BaseURL)
	assert.Equal(t, 3*time.Second, rt.MinInterval)
	assert.Equal(t, "alice", rt.Credentials.Username)
	assert.Equal(t, "from-file", rt.Credentials.Password)
}

func TestCredentialEnvOverrides(t *testing.T) {
	tests := []struct {
		name          string
		envValue      string
		fileValue     string
		expectedValue string
	}{
		{name: "only _FILE env var", fileValue: "pass-from-file", expectedValue: "pass-from-file"},
		{name: "only normal env var", envValue: "pass-from-env", expectedValue: "pass-from-env"},
		{name: "_FILE wins over plain", envValue: "pass-from-env", fileValue: "pass-from-file", expectedValue: "pass-from-file"},
		{name: "no override keeps config", expectedValue: "from-config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envVar := envPrefix + "TARGET_RUTRACKER_MIRROR_PASSWORD"
			if tt.envValue != "" {
				t.Setenv(envVar, tt.envValue)
			}
			if tt.fileValue != "" {
				secret := filepath.Join(t.TempDir(), "secret")
				require.NoError(t, os.WriteFile(secret, []byte(tt.fileValue+"\n"), 0o600))
				t.Setenv(envVar+"_FILE", secret)
			}

			content := "[[targets]]\nid = \"rutracker-mirror\"\ndefinition = \"rutracker\"\n[targets.credentials]\nusername = \"alice\"\npassword = \"from-config\"\n"
			cfg, err := New(writeConfig(t, t.TempDir(), content))
			require.NoError(t, err)

			require.Len(t, cfg.Current().Targets, 1)
			assert.Equal(t, tt.expectedValue, cfg.Current().Targets[0].Credentials.Password)
			assert.Equal(t, "alice", cfg.Current().Targets[0].Credentials.Username)
		})
	}
}

func TestCredentialEnvMissingFile(t *testing.T) {
	t.Setenv(envPrefix+"TARGET_THEPIRATEBAY_COOKIE_FILE", filepath.Join(t.TempDir(), "absent"))

	_, err := New(writeConfig(t, t.TempDir(), "[[targets]]\ndefinition = \"thepiratebay\"\n"))
	assert.ErrorContains(t, err, "COOKIE_FILE")
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, WriteDefaultConfig(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "port = 7480")
	assert.Contains(t, string(content), `definition = "thepiratebay"`)

	cfg, err := New(path)
	require.NoError(t, err)
	require.Len(t, cfg.Current().Targets, 1)
	assert.Equal(t, "thepiratebay", cfg.Current().Targets[0].DefinitionID())
}

func TestNewCreatesMissingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := New(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "trawl.db"), cfg.GetDatabasePath())
}

func TestReloadListeners(t *testing.T) {
	c := &AppConfig{Config: &domain.Config{}}

	var got []*domain.Config
	c.RegisterReloadListener(func(cfg *domain.Config) { got = append(got, cfg) })
	c.RegisterReloadListener(func(cfg *domain.Config) { cfg.Port = 1 })

	reloaded := &domain.Config{Port: 9000}
	c.notifyListeners(reloaded)

	require.Len(t, got, 1)
	assert.Equal(t, 9000, got[0].Port)
	assert.Equal(t, 9000, reloaded.Port, "listeners receive copies")
}
