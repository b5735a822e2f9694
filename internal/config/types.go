package config

import "time"

// Config is the top-level configuration structure for archivist.
type Config struct {
	Server  ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	OIDC    OIDCConfig    `yaml:"oidc" envPrefix:"OIDC_"`
	Events  EventsConfig  `yaml:"events" envPrefix:"EVENTS_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

// ServerConfig locates the archive.
type ServerConfig struct {
	URL string `yaml:"url" env:"URL"` // Base URL of the archive API
}

// StorageConfig selects where credentials are kept.
type StorageConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"` // file, bbolt or memory
	Path    string `yaml:"path" env:"PATH"`       // Directory for the file and bbolt backends
}

// OIDCConfig tunes the single sign-on flow.
type OIDCConfig struct {
	DiscoveryTimeout time.Duration `yaml:"discoveryTimeout" env:"DISCOVERY_TIMEOUT"`
}

// EventsConfig tunes event stream reconnects.
type EventsConfig struct {
	BaseDelay   time.Duration `yaml:"baseDelay" env:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"maxDelay" env:"MAX_DELAY"`
	MaxAttempts int           `yaml:"maxAttempts" env:"MAX_ATTEMPTS"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}
