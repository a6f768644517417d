// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 24, cfg.Stream.DelayTokens)
	assert.Equal(t, 250, cfg.Stream.DelayMs)
	assert.Equal(t, 0.7, cfg.Stream.RiskThreshold)
	assert.Equal(t, 150, cfg.Stream.AnalysisWindowSize)
	assert.Equal(t, 25, cfg.Stream.AnalysisFrequency)
	assert.True(t, cfg.Stream.EnableSafeRewrite)
	assert.Equal(t, 0.7, cfg.Display.HighRiskThreshold)
}

func TestLoadFromPath_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
[server]
base_url = "https://compliance.example.com/"

[stream]
delay_ms = 100
region = "hipaa"
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "https://compliance.example.com", cfg.Server.BaseURL, "trailing slash trimmed")
	assert.Equal(t, 100, cfg.Stream.DelayMs)
	assert.Equal(t, "HIPAA", cfg.Stream.Region)
	assert.Equal(t, 24, cfg.Stream.DelayTokens, "unset keys keep defaults")
}

func TestLoadFromPath_EnvBeatsFile(t *testing.T) {
	path := writeFile(t, "[stream]\ndelay_ms = 100\n")
	t.Setenv("COMPLYWATCH_STREAM_DELAY_MS", "400")
	t.Setenv("COMPLYWATCH_LOG_LEVEL", "DEBUG")
	t.Setenv("COMPLYWATCH_STREAM_LENIENT_END", "true")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 400, cfg.Stream.DelayMs)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Stream.LenientEnd)
}

func TestLoadFromPath_BadEnvValue(t *testing.T) {
	path := writeFile(t, "")
	t.Setenv("COMPLYWATCH_STREAM_DELAY_MS", "soon")

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestLoadFromPath_UnknownKey(t *testing.T) {
	path := writeFile(t, "[stream]\ndelay_msec = 100\n")

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream.delay_msec")
}

func TestLoadFromPath_InvalidValues(t *testing.T) {
	path := writeFile(t, `
[stream]
delay_tokens = 2
risk_threshold = 3.5
region = "APAC"
`)

	_, err := LoadFromPath(path)
	require.Error(t, err)

	var verrs ValidateErrors
	require.ErrorAs(t, err, &verrs)
	fields := make([]string, len(verrs))
	for i, v := range verrs {
		fields[i] = v.Field
	}
	assert.ElementsMatch(t, []string{"stream.delay_tokens", "stream.risk_threshold", "stream.region"}, fields)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Stream, cfg.Stream)
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Server.APIKey = "sk-test"
	cfg.Stream.Region = "EU"

	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# complywatch configuration file"))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("stream.delay_ms", "500"))
	require.NoError(t, cfg.Set("Stream.Risk_Threshold", "0.9"))
	require.NoError(t, cfg.Set("stream.enable_safe_rewrite", "false"))
	require.NoError(t, cfg.Set("server.base_url", "http://10.0.0.5:8000"))

	v, err := cfg.Get("stream.delay_ms")
	require.NoError(t, err)
	assert.Equal(t, 500, v)
	assert.Equal(t, 0.9, cfg.Stream.RiskThreshold)
	assert.False(t, cfg.Stream.EnableSafeRewrite)
	assert.Equal(t, "http://10.0.0.5:8000", cfg.Server.BaseURL)

	assert.Error(t, cfg.Set("stream.delay_ms", "fast"))
	assert.Error(t, cfg.Set("stream.enable_safe_rewrite", "maybe"))
	_, err = cfg.Get("nosuch.key")
	assert.ErrorContains(t, err, "unknown section")
	_, err = cfg.Get("stream.nosuch")
	assert.ErrorContains(t, err, "unknown key")
	_, err = cfg.Get("stream")
	assert.Error(t, err)
}

func TestKeys_AllResolvable(t *testing.T) {
	cfg := Default()
	keys := Keys()
	assert.Contains(t, keys, "server.base_url")
	assert.Contains(t, keys, "log.format")
	for _, k := range keys {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
}

func TestEnvKeys(t *testing.T) {
	keys := EnvKeys()
	assert.Contains(t, keys, "COMPLYWATCH_SERVER_API_KEY")
	assert.Contains(t, keys, "COMPLYWATCH_DISPLAY_HIGH_RISK_THRESHOLD")
}

func TestString_RedactsAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Server.APIKey = "sk-secret-value"

	out := cfg.String()
	assert.NotContains(t, out, "sk-secret-value")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "sk-secret-value", cfg.Server.APIKey, "original untouched")
}

func TestClone_Independent(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.Stream.DelayMs = 999
	assert.Equal(t, 250, cfg.Stream.DelayMs)
}

func TestGlobal(t *testing.T) {
	ResetGlobalForTesting()
	t.Cleanup(ResetGlobalForTesting)
	t.Setenv("HOME", t.TempDir())

	assert.Equal(t, 250, Global().Stream.DelayMs)

	custom := Default()
	custom.Stream.DelayMs = 75
	SetGlobal(custom)
	assert.Equal(t, 75, Global().Stream.DelayMs)

	path := writeFile(t, "[stream]\ndelay_ms = 125\n")
	require.NoError(t, ReloadGlobal(path))
	assert.Equal(t, 125, Global().Stream.DelayMs)
}
