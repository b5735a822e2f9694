package app

import (
	"fmt"
	"path/filepath"

	"archivist/internal/config"
	"archivist/internal/storage"
	"archivist/internal/storage/bbolt"
	"archivist/pkg/logging"
)

const (
	masterKeyFileName = "master.key"
	bboltFileName     = "archivist.db"
)

// openVault opens the credential vault selected by settings.
func openVault(settings config.StorageConfig) (*storage.Vault, error) {
	if settings.Backend == storage.BackendMemory {
		logging.Warn("Storage", "Using in-memory credential storage; sessions will not survive restart")
		return storage.NewMemoryVault(), nil
	}

	master, err := storage.LoadOrCreateMasterKey(filepath.Join(settings.Path, masterKeyFileName))
	if err != nil {
		return nil, err
	}
	sealer, err := storage.NewSealer(master)
	if err != nil {
		return nil, err
	}

	switch settings.Backend {
	case storage.BackendFile:
		logging.Debug("Storage", "Using file credential storage at %s", settings.Path)
		return storage.OpenFileVault(settings.Path, sealer)
	case storage.BackendBbolt:
		path := filepath.Join(settings.Path, bboltFileName)
		logging.Debug("Storage", "Using bbolt credential storage at %s", path)
		return bbolt.OpenVault(path, sealer)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", settings.Backend)
	}
}
