package app

import (
	"io"

	"archivist/internal/config"
	"archivist/internal/oidc"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of log.level.
	Debug bool

	// Quiet discards all log output.
	Quiet bool

	// ConfigPath is the configuration directory. Empty means
	// ~/.config/archivist.
	ConfigPath string

	// ServerURL, when set, overrides server.url.
	ServerURL string

	// LogOutput defaults to os.Stderr.
	LogOutput io.Writer

	// UserAgent overrides how the OIDC authorization URL is opened.
	UserAgent oidc.UserAgent

	// Settings skips loading when pre-populated.
	Settings *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(debug, quiet bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Quiet:      quiet,
		ConfigPath: configPath,
	}
}
