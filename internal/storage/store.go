package storage

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned by Get when a key holds no value.
var ErrNotFound = errors.New("storage: key not found")

// Logical keys used by the session core.
const (
	// KeyAccessToken holds the current access token (secure tier).
	KeyAccessToken = "access_token"

	// KeyRefreshToken holds the current refresh token (secure tier).
	KeyRefreshToken = "refresh_token"

	// KeyProfile holds the cached user profile as JSON (cache tier).
	KeyProfile = "profile"

	// KeyOIDCState holds the state of an in-progress OIDC flow (secure tier).
	KeyOIDCState = "oidc_state"

	// KeyOIDCCodeVerifier holds the PKCE verifier of an in-progress OIDC flow (secure tier).
	KeyOIDCCodeVerifier = "oidc_code_verifier"
)

// Store is a string key/value store. Implementations must be safe for
// concurrent use.
//
// Get returns ErrNotFound (possibly wrapped) for an absent key. Remove of an
// absent key is not an error.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, error)
	Remove(key string) error
}

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,127}$`)

// ValidateKey reports whether key is usable as a storage key. Keys become file
// names and bucket keys, so only a conservative character set is allowed.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("storage: invalid key %q", key)
	}
	return nil
}

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
