//
//  Copyright © Manetu Inc. All rights reserved.
//

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigPath_WithEnvVar(t *testing.T) {
	// Save original and restore after test
	orig := os.Getenv(ConfigPathEnv)
	defer func() {
		if orig != "" {
			_ = os.Setenv(ConfigPathEnv, orig)
		} else {
			_ = os.Unsetenv(ConfigPathEnv)
		}
	}()

	// Set custom path
	_ = os.Setenv(ConfigPathEnv, "/custom/config/path")

	result := getConfigPath()
	assert.Equal(t, "/custom/config/path", result)
}

func TestGetConfigPath_Default(t *testing.T) {
	// Save original and restore after test
	orig := os.Getenv(ConfigPathEnv)
	defer func() {
		if orig != "" {
			_ = os.Setenv(ConfigPathEnv, orig)
		} else {
			_ = os.Unsetenv(ConfigPathEnv)
		}
	}()

	// Ensure env var is not set
	_ = os.Unsetenv(ConfigPathEnv)

	result := getConfigPath()
	assert.Equal(t, ConfigDefaultPath, result)
}

func TestGetConfigFileName_WithEnvVar(t *testing.T) {
	// Save original and restore after test
	orig := os.Getenv(ConfigFileNameEnv)
	defer func() {
		if orig != "" {
			_ = os.Setenv(ConfigFileNameEnv, orig)
		} else {
			_ = os.Unsetenv(ConfigFileNameEnv)
		}
	}()

	// Set custom filename
	_ = os.Setenv(ConfigFileNameEnv, "custom-config-name")

	result := getConfigFileName()
	assert.Equal(t, "custom-config-name", result)
}

func TestGetConfigFileName_Default(t *testing.T) {
	// Save original and restore after test
	orig := os.Getenv(ConfigFileNameEnv)
	defer func() {
		if orig != "" {
			_ = os.Setenv(ConfigFileNameEnv, orig)
		} else {
			_ = os.Unsetenv(ConfigFileNameEnv)
		}
	}()

	// Ensure env var is not set
	_ = os.Unsetenv(ConfigFileNameEnv)

	result := getConfigFileName()
	assert.Equal(t, ConfigDefaultFilename, result)
}

func TestParseDownwardAPIFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels")
	content := "app=\"engine\"\nteam=\"authz\"\n\nmalformed-line\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	result, err := parseDownwardAPIFile(path)
	require.NoError(t, err)
	assert.Equal(t, "engine", result["app"])
	assert.Equal(t, "authz", result["team"])
	assert.NotContains(t, result, "malformed-line")
}

func TestParseDownwardAPIFileMissing(t *testing.T) {
	result, err := parseDownwardAPIFile(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestGetAuditEnvK8sSources(t *testing.T) {
	ResetConfig()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "labels"), []byte("team=\"authz\"\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "annotations"), []byte("owner=\"platform\"\n"), 0o600))

	VConfig.Set(AuditK8sPodinfo, dir)
	VConfig.Set(AuditEnv, map[string]string{
		"team":  "k8s.label:team",
		"owner": "k8s.annotation:owner",
	})
	resetK8sCache()

	env := GetAuditEnv()
	assert.Equal(t, "authz", env["team"])
	assert.Equal(t, "platform", env["owner"])
}
