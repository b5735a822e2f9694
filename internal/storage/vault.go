package storage

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// Backend names accepted by configuration.
const (
	BackendFile   = "file"
	BackendBbolt  = "bbolt"
	BackendMemory = "memory"
)

// Vault groups the two storage tiers used by the session core: the secure
// tier for credentials and flow secrets, and the regular cache tier for
// non-sensitive data such as the cached profile.
type Vault struct {
	secure  Store
	cache   Store
	dirs    []string
	closers []io.Closer
}

// NewVault assembles a vault from already-constructed tiers. closers are
// closed, in order, by Close.
func NewVault(secure, cache Store, closers ...io.Closer) *Vault {
	return &Vault{secure: secure, cache: cache, closers: closers}
}

// NewMemoryVault returns a vault whose tiers live in process memory.
func NewMemoryVault() *Vault {
	return NewVault(NewMemoryStore(), NewMemoryStore())
}

// OpenFileVault lays the two tiers out under root as root/secure and
// root/cache. The secure tier is sealed with sealer.
func OpenFileVault(root string, sealer *Sealer) (*Vault, error) {
	if sealer == nil {
		return nil, errors.New("storage: file vault requires a sealer")
	}
	secure, err := NewFileStore(filepath.Join(root, "secure"))
	if err != nil {
		return nil, err
	}
	cache, err := NewFileStore(filepath.Join(root, "cache"))
	if err != nil {
		return nil, err
	}

	v := NewVault(NewSealedStore(secure, sealer), cache)
	v.dirs = []string{secure.Dir(), cache.Dir()}
	return v, nil
}

// Secure returns the secure tier.
func (v *Vault) Secure() Store { return v.secure }

// Cache returns the regular tier.
func (v *Vault) Cache() Store { return v.cache }

// WatchDirs returns the directories another process may write to. It is
// empty for backends that cannot be shared between processes.
func (v *Vault) WatchDirs() []string {
	return append([]string(nil), v.dirs...)
}

// Close releases backend resources.
func (v *Vault) Close() error {
	var errs []error
	for _, c := range v.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// isValueFile reports whether name is a committed value file of a FileStore
// rather than a temp file.
func isValueFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, ".")
}
