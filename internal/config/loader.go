package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"archivist/pkg/logging"
)

const (
	userConfigDir  = ".config/archivist"
	configFileName = "config.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ARCHIVIST_"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPath returns ~/.config/archivist.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads config.yaml from configPath, applies ARCHIVIST_*
// environment overrides and validates the result.
func LoadConfig(configPath string) (Config, error) {
	return load(configPath, nil)
}

// load is LoadConfig with an explicit environment; nil means os.Environ.
func load(configPath string, environ map[string]string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("Config", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, newConfigurationError(configFilePath, "io", "cannot read configuration file", err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, newConfigurationError(configFilePath, "parse", "malformed YAML", err,
				"Check indentation and that durations are written like 5s or 1m30s")
		}
		logging.Debug("Config", "Loaded configuration from %s", configFilePath)
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return Config{}, newConfigurationError(configFilePath, "env", "invalid environment override", err,
			"Unset or correct the "+EnvPrefix+"* variable named above")
	}

	if config.Storage.Path == "" {
		config.Storage.Path = filepath.Join(configPath, DefaultStorageDirName)
	}
	if config.Storage.Path, err = expandHome(config.Storage.Path); err != nil {
		return Config{}, newConfigurationError(configFilePath, "validation", "cannot expand storage.path", err)
	}

	if err := config.Validate(); err != nil {
		var verrs ValidationErrors
		var suggestions []string
		if errors.As(err, &verrs) {
			for _, f := range verrs.Fields() {
				suggestions = append(suggestions, "Fix "+f+" in "+configFileName+" or its "+EnvPrefix+" override")
			}
		}
		return Config{}, newConfigurationError(configFilePath, "validation", "invalid configuration", err, suggestions...)
	}
	return config, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
