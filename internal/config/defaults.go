package config

import (
	"time"

	"archivist/internal/storage"
)

const (
	// DefaultServerURL is a locally running archive.
	DefaultServerURL = "http://localhost:8000"

	// DefaultStorageDirName is the credentials directory inside the
	// configuration directory, used when storage.path is unset.
	DefaultStorageDirName = "credentials"
)

// GetDefaultConfig returns the built-in configuration. Storage.Path is left
// empty; the loader resolves it against the configuration directory.
func GetDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			URL: DefaultServerURL,
		},
		Storage: StorageConfig{
			Backend: storage.BackendFile,
		},
		OIDC: OIDCConfig{
			DiscoveryTimeout: 5 * time.Second,
		},
		Events: EventsConfig{
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			MaxAttempts: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
