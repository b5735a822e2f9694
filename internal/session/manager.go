// Package session implements the token lifecycle manager: it issues, stores,
// refreshes and invalidates archive credentials and exposes the resulting
// authentication state.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"archivist/internal/backend"
	"archivist/internal/storage"
	"archivist/pkg/logging"
	"archivist/pkg/oauth"
)

const subsystem = "Session"

// API is the subset of the archive REST client the manager calls.
// CurrentUser must go through the authorized transport.
type API interface {
	Login(ctx context.Context, email, password string) (*oauth.TokenPair, error)
	Register(ctx context.Context, req backend.RegisterRequest) (*backend.Profile, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth.TokenPair, error)
	CurrentUser(ctx context.Context) (*backend.Profile, error)
}

// Manager owns the session. It is safe for concurrent use.
//
// Token writes reach durable storage before memory is updated; if a write
// fails the in-memory session is unchanged. Clearing the session bumps a
// generation counter and a refresh that started in an older generation
// discards its result.
type Manager struct {
	api   API
	vault *storage.Vault

	// persistMu serializes token writes with clear so a logout cannot
	// interleave with a refresh storing its new pair.
	persistMu sync.Mutex

	mu           sync.RWMutex
	state        State
	user         *backend.Profile
	accessToken  string
	refreshToken string
	generation   uint64

	refreshGroup singleflight.Group

	watchMu   sync.Mutex
	watchers  map[uint64]func(State)
	nextWatch uint64
}

// New returns an unauthenticated manager. Call Initialize to restore a
// stored session.
func New(api API, vault *storage.Vault) *Manager {
	return &Manager{
		api:      api,
		vault:    vault,
		watchers: make(map[uint64]func(State)),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsAuthenticated reports whether both a profile and an access token are
// present.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil && m.accessToken != ""
}

// IsPrivileged reports whether the current user is an admin or superuser.
func (m *Manager) IsPrivileged() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil && m.accessToken != "" && m.user.IsPrivileged()
}

// User returns a copy of the current profile, or nil.
func (m *Manager) User() *backend.Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// AccessToken returns the current access token, or "".
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken
}

// RefreshToken returns the current refresh token, or "".
func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshToken
}

// TokenExpiry returns the exp claim of the access token. The token is not
// verified; the result is informational only.
func (m *Manager) TokenExpiry() (time.Time, bool) {
	token := m.AccessToken()
	if token == "" {
		return time.Time{}, false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// CachedProfile returns the profile stored by the last successful fetch,
// even when the session is not currently authenticated.
func (m *Manager) CachedProfile() (*backend.Profile, bool) {
	raw, err := m.vault.Cache().Get(storage.KeyProfile)
	if err != nil {
		return nil, false
	}
	var p backend.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, false
	}
	return &p, true
}

// Watch registers fn to be called after every state transition. The
// returned function removes the registration.
func (m *Manager) Watch(fn func(State)) func() {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	id := m.nextWatch
	m.nextWatch++
	m.watchers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.watchMu.Lock()
			defer m.watchMu.Unlock()
			delete(m.watchers, id)
		})
	}
}

func (m *Manager) notify(s State) {
	m.watchMu.Lock()
	fns := make([]func(State), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.watchMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// setState must be called with m.mu held. It returns whether the state
// changed, in which case the caller notifies after unlocking.
func (m *Manager) setStateLocked(s State) bool {
	if m.state == s {
		return false
	}
	logging.Debug(subsystem, "State %s -> %s", m.state, s)
	m.state = s
	return true
}

func (m *Manager) transition(s State) {
	m.mu.Lock()
	changed := m.setStateLocked(s)
	m.mu.Unlock()
	if changed {
		m.notify(s)
	}
}

// Initialize restores a stored session. When an access token is stored it
// fetches the profile and blocks until that resolves; the manager becomes
// authenticated only if the fetch succeeds.
func (m *Manager) Initialize(ctx context.Context) error {
	access, err := m.vault.Secure().Get(storage.KeyAccessToken)
	if err != nil {
		if !storage.IsNotFound(err) {
			logging.Warn(subsystem, "Treating unreadable access token as absent: %v", err)
		}
		m.transition(StateUnauthenticated)
		return nil
	}
	refresh, err := m.vault.Secure().Get(storage.KeyRefreshToken)
	if err != nil && !storage.IsNotFound(err) {
		logging.Warn(subsystem, "Treating unreadable refresh token as absent: %v", err)
	}

	m.mu.Lock()
	m.accessToken = access
	m.refreshToken = refresh
	changed := m.setStateLocked(StateAuthenticating)
	m.mu.Unlock()
	if changed {
		m.notify(StateAuthenticating)
	}

	logging.Debug(subsystem, "Restoring stored session")
	if _, err := m.FetchCurrentUser(ctx); err != nil {
		// Tokens stay in memory and storage after a transient failure so a
		// later Initialize or Reload can retry.
		if m.State() == StateAuthenticating {
			m.transition(StateUnauthenticated)
		}
		return err
	}
	return nil
}

// Login exchanges credentials for tokens and establishes the session. A
// rejected exchange leaves any existing session as it was; a failure after
// the new tokens were stored leaves the manager unauthenticated.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	prev := m.State()
	m.transition(StateAuthenticating)

	pair, err := m.api.Login(ctx, email, password)
	if err != nil {
		m.restoreState(StateAuthenticating, prev)
		logging.Audit(subsystem, logging.AuditEvent{
			Event:   "login",
			Outcome: "failure",
			Attrs:   []slog.Attr{slog.String("email", email), slog.String("error", err.Error())},
		})
		return &AuthError{Op: "login", Err: err}
	}

	if err := m.Establish(ctx, *pair); err != nil {
		return err
	}

	logging.Audit(subsystem, logging.AuditEvent{
		Event:   "login",
		Outcome: "success",
		Attrs:   []slog.Attr{slog.String("email", email)},
	})
	return nil
}

// Register creates an account and then logs in with the same credentials.
func (m *Manager) Register(ctx context.Context, req backend.RegisterRequest) error {
	if _, err := m.api.Register(ctx, req); err != nil {
		return &AuthError{Op: "register", Err: err}
	}
	logging.Info(subsystem, "Registered %s", req.Email)
	return m.Login(ctx, req.Email, req.Password)
}

// Establish persists pair and fetches the profile. It is the shared path for
// password login and OIDC completion.
func (m *Manager) Establish(ctx context.Context, pair oauth.TokenPair) error {
	if err := pair.Validate(); err != nil {
		m.clear("establish_failed")
		return &AuthError{Op: "establish", Err: err}
	}

	m.transition(StateAuthenticating)

	m.persistMu.Lock()
	if err := m.persistTokens(pair); err != nil {
		m.persistMu.Unlock()
		m.clear("establish_failed")
		return &AuthError{Op: "establish", Err: err}
	}
	m.mu.Lock()
	m.accessToken = pair.AccessToken
	m.refreshToken = pair.RefreshToken
	m.user = nil
	m.generation++
	m.mu.Unlock()
	m.persistMu.Unlock()

	if _, err := m.FetchCurrentUser(ctx); err != nil {
		m.clear("establish_failed")
		var ae *AuthError
		if errors.As(err, &ae) {
			return err
		}
		return &AuthError{Op: "fetch_user", Err: err}
	}
	return nil
}

// Refresh exchanges the refresh token for a new pair. Concurrent callers
// share one in-flight exchange. A rejected refresh logs out; a network
// failure is reported and the session is kept.
func (m *Manager) Refresh(ctx context.Context) error {
	// Detach from the first caller's cancellation; the exchange is shared.
	shared := context.WithoutCancel(ctx)
	ch := m.refreshGroup.DoChan("refresh", func() (any, error) {
		return nil, m.doRefresh(shared)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) doRefresh(ctx context.Context) error {
	m.mu.Lock()
	refresh := m.refreshToken
	gen := m.generation
	prev := m.state
	changed := false
	if prev == StateAuthenticated {
		changed = m.setStateLocked(StateRefreshing)
	}
	m.mu.Unlock()
	if changed {
		m.notify(StateRefreshing)
	}

	if refresh == "" {
		m.clear("refresh_failed")
		return ErrNotAuthenticated
	}

	pair, err := m.api.Refresh(ctx, refresh)
	if err != nil {
		var se *backend.StatusError
		if errors.As(err, &se) {
			logging.Audit(subsystem, logging.AuditEvent{
				Event:   "token_refresh",
				Outcome: "failure",
				Attrs:   []slog.Attr{slog.Int("status", se.StatusCode)},
			})
			m.clear("refresh_rejected")
			return &AuthError{Op: "refresh", Err: err}
		}
		logging.Warn(subsystem, "Refresh failed, keeping session: %v", err)
		m.restoreAfterRefresh(prev)
		return fmt.Errorf("refresh: %w", err)
	}

	m.persistMu.Lock()
	if current, ok := m.superseded(gen); ok {
		m.persistMu.Unlock()
		logging.Info(subsystem, "Session changed during refresh, discarding new tokens")
		if current == "" {
			return ErrNotAuthenticated
		}
		return nil
	}
	if err := m.persistTokens(*pair); err != nil {
		m.persistMu.Unlock()
		m.restoreAfterRefresh(prev)
		return fmt.Errorf("refresh: %w", err)
	}
	m.mu.Lock()
	m.accessToken = pair.AccessToken
	m.refreshToken = pair.RefreshToken
	m.mu.Unlock()
	m.persistMu.Unlock()
	m.restoreAfterRefresh(prev)

	logging.Audit(subsystem, logging.AuditEvent{Event: "token_refresh", Outcome: "success"})
	return nil
}

// superseded reports whether the session was cleared or replaced since gen,
// along with the current access token.
func (m *Manager) superseded(gen uint64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken, m.generation != gen
}

func (m *Manager) restoreAfterRefresh(prev State) {
	m.restoreState(StateRefreshing, prev)
}

// restoreState moves back to prev if the state is still from.
func (m *Manager) restoreState(from, prev State) {
	m.mu.Lock()
	changed := false
	if m.state == from {
		changed = m.setStateLocked(prev)
	}
	m.mu.Unlock()
	if changed {
		m.notify(prev)
	}
}

// FetchCurrentUser reloads the profile. A 401/403 logs out; any other
// failure is returned and the previous session is kept.
func (m *Manager) FetchCurrentUser(ctx context.Context) (*backend.Profile, error) {
	if m.AccessToken() == "" {
		return nil, ErrNotAuthenticated
	}

	p, err := m.api.CurrentUser(ctx)
	if err != nil {
		if backend.IsAuthorizationFailure(err) {
			m.clear("profile_rejected")
			return nil, &AuthError{Op: "fetch_user", Err: err}
		}
		logging.Warn(subsystem, "Fetching profile failed: %v", err)
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	if data, err := json.Marshal(p); err == nil {
		if err := m.vault.Cache().Set(storage.KeyProfile, string(data)); err != nil {
			logging.Warn(subsystem, "Caching profile failed: %v", err)
		}
	}

	m.mu.Lock()
	// A concurrent logout wins over a late profile.
	if m.accessToken == "" {
		m.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	u := *p
	m.user = &u
	changed := false
	if m.state == StateAuthenticating || m.state == StateUnauthenticated {
		changed = m.setStateLocked(StateAuthenticated)
	}
	m.mu.Unlock()
	if changed {
		m.notify(StateAuthenticated)
	}
	return p, nil
}

// Logout clears the session from memory and storage. It is idempotent.
// Memory is always cleared; storage errors are returned.
func (m *Manager) Logout() error {
	return m.clear("logout")
}

func (m *Manager) clear(reason string) error {
	m.persistMu.Lock()
	m.mu.Lock()
	hadSession := m.accessToken != "" || m.refreshToken != "" || m.user != nil
	m.accessToken = ""
	m.refreshToken = ""
	m.user = nil
	m.generation++
	changed := m.setStateLocked(StateUnauthenticated)
	m.mu.Unlock()

	var errs []error
	for _, key := range []string{storage.KeyAccessToken, storage.KeyRefreshToken} {
		if err := m.vault.Secure().Remove(key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.vault.Cache().Remove(storage.KeyProfile); err != nil {
		errs = append(errs, err)
	}
	m.persistMu.Unlock()
	err := errors.Join(errs...)

	if hadSession {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		logging.Audit(subsystem, logging.AuditEvent{
			Event:   "session_cleared",
			Outcome: outcome,
			Attrs:   []slog.Attr{slog.String("reason", reason)},
		})
	}

	if changed {
		m.notify(StateUnauthenticated)
	}
	return err
}

// persistTokens writes both tokens. If the second write fails the first is
// rolled back so storage never holds a mismatched pair.
func (m *Manager) persistTokens(pair oauth.TokenPair) error {
	secure := m.vault.Secure()

	prevAccess, accessErr := secure.Get(storage.KeyAccessToken)

	if err := secure.Set(storage.KeyAccessToken, pair.AccessToken); err != nil {
		m.auditStore("failure", err)
		return fmt.Errorf("failed to persist access token: %w", err)
	}
	if err := secure.Set(storage.KeyRefreshToken, pair.RefreshToken); err != nil {
		if accessErr == nil {
			_ = secure.Set(storage.KeyAccessToken, prevAccess)
		} else {
			_ = secure.Remove(storage.KeyAccessToken)
		}
		m.auditStore("failure", err)
		return fmt.Errorf("failed to persist refresh token: %w", err)
	}

	m.auditStore("success", nil)
	return nil
}

func (m *Manager) auditStore(outcome string, err error) {
	ev := logging.AuditEvent{
		Event:   "token_stored",
		Outcome: outcome,
		Attrs:   []slog.Attr{slog.Bool("has_refresh_token", true)},
	}
	if err != nil {
		ev.Attrs = append(ev.Attrs, slog.String("error", err.Error()))
	}
	logging.Audit(subsystem, ev)
}

// Reload re-reads stored tokens after another process changed them. A
// removed token logs this process out; a new token is adopted and the
// profile refetched.
func (m *Manager) Reload(ctx context.Context) error {
	access, err := m.vault.Secure().Get(storage.KeyAccessToken)
	if err != nil {
		access = ""
	}
	refresh, err := m.vault.Secure().Get(storage.KeyRefreshToken)
	if err != nil {
		refresh = ""
	}

	m.mu.Lock()
	current := m.accessToken
	m.mu.Unlock()

	switch {
	case access == current:
		return nil
	case access == "":
		logging.Info(subsystem, "Stored session removed externally")
		m.mu.Lock()
		m.accessToken = ""
		m.refreshToken = ""
		m.user = nil
		m.generation++
		changed := m.setStateLocked(StateUnauthenticated)
		m.mu.Unlock()
		if changed {
			m.notify(StateUnauthenticated)
		}
		return nil
	default:
		logging.Info(subsystem, "Stored session changed externally, reloading")
		m.mu.Lock()
		m.accessToken = access
		m.refreshToken = refresh
		m.user = nil
		m.generation++
		changed := m.setStateLocked(StateAuthenticating)
		m.mu.Unlock()
		if changed {
			m.notify(StateAuthenticating)
		}
		if _, err := m.FetchCurrentUser(ctx); err != nil {
			if m.State() == StateAuthenticating {
				m.transition(StateUnauthenticated)
			}
			return err
		}
		return nil
	}
}
