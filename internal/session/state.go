package session

// State is the authentication state of a Manager.
type State int

const (
	// StateUnauthenticated means there is no usable session.
	StateUnauthenticated State = iota

	// StateAuthenticating means a login, registration, OIDC completion or
	// startup profile fetch is in progress.
	StateAuthenticating

	// StateAuthenticated means tokens and profile are both present.
	StateAuthenticated

	// StateRefreshing means an authenticated session is exchanging its
	// refresh token.
	StateRefreshing
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}
