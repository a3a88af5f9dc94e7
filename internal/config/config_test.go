// Tests for configuration loading and parsing.
// Covers YAML loading, env var expansion, and duration parsing.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "s3cr3t"
  token_ttl: "2h"
nlu:
  strategy: "rule"
scheduling:
  working_days: ["monday", "tuesday"]
  slot_duration: "30m"
uploads:
  max_size_bytes: 2048
logging:
  level: "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	require.Equal(t, "./test.db", cfg.Database.Path)
	require.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	require.Equal(t, []time.Weekday{time.Monday, time.Tuesday}, cfg.Scheduling.WorkingDays)
	require.Equal(t, 30*time.Minute, cfg.Scheduling.SlotDuration)
	require.Equal(t, int64(2048), cfg.Uploads.MaxSizeBytes)
	require.Equal(t, "debug", cfg.Logging.Level)
	// defaults applied
	require.Equal(t, 20*time.Second, cfg.Agents.ReplyDeadline)
	require.NotEmpty(t, cfg.Uploads.AllowedMimeTypes)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "from-env")

	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
nlu:
  strategy: "rule"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	result := expandEnvVars("${UNSET_VAR_FOR_TEST}")
	require.Equal(t, "", result)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr "missing colon"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "s3cr3t"
  token_ttl: "not-a-duration"
nlu:
  strategy: "rule"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		wantErrSubstr string
	}{
		{
			name: "missing http_addr",
			content: `
database:
  path: "./test.db"
auth:
  jwt_secret: "s3cr3t"
nlu:
  strategy: "rule"
`,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: "0.0.0.0:8080"
auth:
  jwt_secret: "s3cr3t"
nlu:
  strategy: "rule"
`,
			wantErrSubstr: "database.path is required",
		},
		{
			name: "missing jwt secret",
			content: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
nlu:
  strategy: "rule"
`,
			wantErrSubstr: "auth.jwt_secret is required",
		},
		{
			name: "invalid nlu strategy",
			content: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "s3cr3t"
nlu:
  strategy: "telepathy"
`,
			wantErrSubstr: "nlu.strategy must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.wantErrSubstr), "error %q missing %q", err.Error(), tt.wantErrSubstr)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single env var", "${FOO}", "bar"},
		{"env var with surrounding text", "prefix-${FOO}-suffix", "prefix-bar-suffix"},
		{"multiple env vars", "${FOO}/${BAZ}", "bar/qux"},
		{"no env vars", "no-vars-here", "no-vars-here"},
		{"unset env var", "${UNSET_VAR}", ""},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}
