package session

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned when an operation needs a session and
// there is none.
var ErrNotAuthenticated = errors.New("not authenticated")

// AuthError is returned when the archive rejects credentials or the session
// could not be established. The session is left unauthenticated.
type AuthError struct {
	// Op is the operation that failed: "login", "register", "refresh",
	// "establish" or "fetch_user".
	Op string

	// Err is the underlying error, usually a *backend.StatusError.
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is an *AuthError or ErrNotAuthenticated.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) || errors.Is(err, ErrNotAuthenticated)
}
