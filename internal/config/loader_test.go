package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0600))
}

func TestLoadConfig_DefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()

	cfg, err := load(dir, map[string]string{})
	require.NoError(t, err)

	want := GetDefaultConfig()
	want.Storage.Path = filepath.Join(dir, DefaultStorageDirName)
	assert.Equal(t, want, cfg)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
server:
  url: https://archive.example.com
storage:
  backend: bbolt
  path: /var/lib/archivist
oidc:
  discoveryTimeout: 2s
events:
  baseDelay: 500ms
  maxAttempts: 8
log:
  level: debug
  format: json
`)

	cfg, err := load(dir, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "https://archive.example.com", cfg.Server.URL)
	assert.Equal(t, "bbolt", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/archivist", cfg.Storage.Path)
	assert.Equal(t, 2*time.Second, cfg.OIDC.DiscoveryTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Events.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Events.MaxDelay, "unset fields keep defaults")
	assert.Equal(t, 8, cfg.Events.MaxAttempts)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "server:\n  url: https://file.example.com\n")

	cfg, err := load(dir, map[string]string{
		"ARCHIVIST_SERVER_URL":          "https://env.example.com",
		"ARCHIVIST_STORAGE_BACKEND":     "memory",
		"ARCHIVIST_EVENTS_MAX_ATTEMPTS": "3",
		"ARCHIVIST_EVENTS_MAX_DELAY":    "1m",
		"ARCHIVIST_LOG_LEVEL":           "warn",
		"SERVER_URL":                    "https://unprefixed.example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Server.URL)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.Events.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Events.MaxDelay)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	orig := osUserHomeDir
	osUserHomeDir = func() (string, error) { return home, nil }
	defer func() { osUserHomeDir = orig }()

	dir := t.TempDir()
	writeConfig(t, dir, "storage:\n  path: ~/vault\n")

	cfg, err := load(dir, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "vault"), cfg.Storage.Path)

	path, err := GetDefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "archivist"), path)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		env       map[string]string
		errorType string
		fields    []string
	}{
		{
			name:      "malformed yaml",
			yaml:      "server: [unclosed",
			errorType: "parse",
		},
		{
			name:      "bad duration in yaml",
			yaml:      "oidc:\n  discoveryTimeout: soon\n",
			errorType: "parse",
		},
		{
			name:      "bad env value",
			env:       map[string]string{"ARCHIVIST_EVENTS_MAX_ATTEMPTS": "many"},
			errorType: "env",
		},
		{
			name:      "invalid values",
			yaml:      "server:\n  url: ftp://archive\nstorage:\n  backend: s3\nlog:\n  level: loud\n  format: xml\n",
			errorType: "validation",
			fields:    []string{"server.url", "storage.backend", "log.level", "log.format"},
		},
		{
			name:      "backoff bounds",
			yaml:      "events:\n  baseDelay: 10s\n  maxDelay: 1s\n  maxAttempts: 0\n",
			errorType: "validation",
			fields:    []string{"events.maxDelay", "events.maxAttempts"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.yaml != "" {
				writeConfig(t, dir, tt.yaml)
			}
			env := tt.env
			if env == nil {
				env = map[string]string{}
			}

			_, err := load(dir, env)
			require.Error(t, err)

			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.errorType, ce.ErrorType)
			assert.Equal(t, filepath.Join(dir, configFileName), ce.FilePath)
			assert.Contains(t, ce.DetailedError(), "Type: "+tt.errorType)

			if tt.fields != nil {
				var verrs ValidationErrors
				require.True(t, errors.As(err, &verrs))
				assert.ElementsMatch(t, tt.fields, verrs.Fields())
				assert.Len(t, ce.Suggestions, len(tt.fields))
			}
		})
	}
}

func TestValidate_MemoryBackendNeedsNoPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Backend = "memory"
	assert.NoError(t, cfg.Validate())

	cfg.Storage.Backend = "file"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.path")
}
