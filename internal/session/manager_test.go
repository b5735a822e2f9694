package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archivist/internal/backend"
	"archivist/internal/backend/backendtest"
	"archivist/internal/storage"
	"archivist/internal/transport"
	"archivist/pkg/oauth"
)

const (
	testEmail    = "ada@example.com"
	testPassword = "correct horse"
)

type harness struct {
	srv   *backendtest.Server
	api   *backend.Client
	vault *storage.Vault
	m     *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)
	srv.AddUser(testEmail, testPassword, backend.Profile{FullName: "Ada", Role: backend.RoleUser, IsActive: true})

	api, err := backend.New(srv.URL)
	require.NoError(t, err)

	vault := storage.NewMemoryVault()
	m := New(api, vault)
	api.SetAuthorizedTransport(transport.New(m, nil))

	return &harness{srv: srv, api: api, vault: vault, m: m}
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.Login(context.Background(), testEmail, testPassword))
}

func (h *harness) stored(key string) string {
	tier := h.vault.Secure()
	if key == storage.KeyProfile {
		tier = h.vault.Cache()
	}
	v, _ := tier.Get(key)
	return v
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) get() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func TestLogin_Success(t *testing.T) {
	h := newHarness(t)
	rec := &stateRecorder{}
	h.m.Watch(rec.record)

	h.login(t)

	assert.True(t, h.m.IsAuthenticated())
	assert.False(t, h.m.IsPrivileged())
	assert.Equal(t, StateAuthenticated, h.m.State())
	require.NotNil(t, h.m.User())
	assert.Equal(t, "Ada", h.m.User().FullName)

	assert.Equal(t, h.m.AccessToken(), h.stored(storage.KeyAccessToken))
	assert.Equal(t, h.m.RefreshToken(), h.stored(storage.KeyRefreshToken))
	assert.Contains(t, h.stored(storage.KeyProfile), testEmail)

	assert.Equal(t, []State{StateAuthenticating, StateAuthenticated}, rec.get())
}

func TestLogin_BadCredentials(t *testing.T) {
	h := newHarness(t)

	err := h.m.Login(context.Background(), testEmail, "wrong")
	require.Error(t, err)

	var ae *AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "login", ae.Op)
	assert.True(t, backend.IsAuthorizationFailure(err))
	assert.True(t, IsAuthError(err))

	assert.False(t, h.m.IsAuthenticated())
	assert.Equal(t, StateUnauthenticated, h.m.State())
	assert.Empty(t, h.stored(storage.KeyAccessToken))
	assert.Equal(t, int32(1), h.srv.LoginCalls.Load(), "login never retries")
}

func TestLogin_BadCredentialsKeepExistingSession(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	access := h.m.AccessToken()
	rec := &stateRecorder{}
	h.m.Watch(rec.record)

	err := h.m.Login(context.Background(), testEmail, "wrong")
	require.Error(t, err)
	assert.True(t, IsAuthError(err))

	assert.True(t, h.m.IsAuthenticated())
	assert.Equal(t, StateAuthenticated, h.m.State())
	assert.Equal(t, access, h.m.AccessToken())
	assert.Equal(t, access, h.stored(storage.KeyAccessToken))
	assert.NotEmpty(t, h.stored(storage.KeyRefreshToken))
	assert.Equal(t, []State{StateAuthenticating, StateAuthenticated}, rec.get())
}

func TestRegister(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.m.Register(ctx, backend.RegisterRequest{Email: "new@example.com", Password: "pw", FullName: "New"})
	require.NoError(t, err)
	assert.True(t, h.m.IsAuthenticated())
	assert.Equal(t, "new@example.com", h.m.User().Email)
	assert.Equal(t, int32(1), h.srv.LoginCalls.Load(), "registration logs in with the same credentials")

	require.NoError(t, h.m.Logout())

	err = h.m.Register(ctx, backend.RegisterRequest{Email: "new@example.com", Password: "pw"})
	var ae *AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "register", ae.Op)
	assert.False(t, h.m.IsAuthenticated())
}

func TestFetchCurrentUser_ServerErrorKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	before := h.srv.MeCalls.Load()

	h.srv.FailMe(http.StatusInternalServerError)
	_, err := h.m.FetchCurrentUser(context.Background())
	require.Error(t, err)
	assert.False(t, IsAuthError(err))

	assert.True(t, h.m.IsAuthenticated(), "transient failures never log out")
	assert.NotEmpty(t, h.stored(storage.KeyAccessToken))
	assert.Equal(t, before+1, h.srv.MeCalls.Load(), "error reported once, no retry")
	assert.Zero(t, h.srv.RefreshCalls.Load())
}

func TestFetchCurrentUser_UnauthorizedLogsOut(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	h.srv.FailMe(http.StatusUnauthorized)
	_, err := h.m.FetchCurrentUser(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))

	assert.False(t, h.m.IsAuthenticated())
	assert.Equal(t, StateUnauthenticated, h.m.State())
	assert.Empty(t, h.stored(storage.KeyAccessToken))
	assert.Empty(t, h.stored(storage.KeyRefreshToken))
	assert.Empty(t, h.stored(storage.KeyProfile))
	assert.Equal(t, int32(1), h.srv.RefreshCalls.Load(), "one refresh and one replay before giving up")
}

func TestFetchCurrentUser_ExpiredTokenRecovered(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	oldAccess := h.m.AccessToken()

	h.srv.ExpireAccessTokens()
	p, err := h.m.FetchCurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testEmail, p.Email)

	assert.True(t, h.m.IsAuthenticated())
	assert.NotEqual(t, oldAccess, h.m.AccessToken())
	assert.Equal(t, h.m.AccessToken(), h.stored(storage.KeyAccessToken))
	assert.Equal(t, int32(1), h.srv.RefreshCalls.Load())
}

func TestConcurrentAuthorizationFailures_SingleRefresh(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	h.srv.SetRefreshDelay(100 * time.Millisecond)
	h.srv.ExpireAccessTokens()

	const n = 20
	var wg sync.WaitGroup
	var failures atomic.Int32
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			var docs []map[string]string
			if err := h.api.Do(context.Background(), http.MethodGet, "/api/v1/documents", nil, &docs); err != nil {
				failures.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Zero(t, failures.Load(), "every request completes with the refreshed token")
	assert.Equal(t, int32(1), h.srv.RefreshCalls.Load(), "exactly one refresh reaches the server")
	assert.True(t, h.m.IsAuthenticated())
}

func TestRefresh_RejectedLogsOut(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	rec := &stateRecorder{}
	h.m.Watch(rec.record)

	h.srv.RevokeRefreshTokens()
	err := h.m.Refresh(context.Background())
	require.Error(t, err)

	var ae *AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "refresh", ae.Op)
	assert.False(t, h.m.IsAuthenticated())
	assert.Empty(t, h.stored(storage.KeyRefreshToken))
	assert.Equal(t, []State{StateRefreshing, StateUnauthenticated}, rec.get())
}

func TestRefresh_Success(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	rec := &stateRecorder{}
	h.m.Watch(rec.record)
	oldRefresh := h.m.RefreshToken()

	require.NoError(t, h.m.Refresh(context.Background()))

	assert.NotEqual(t, oldRefresh, h.m.RefreshToken())
	assert.Equal(t, h.m.RefreshToken(), h.stored(storage.KeyRefreshToken))
	assert.Equal(t, []State{StateRefreshing, StateAuthenticated}, rec.get())
}

func TestRefresh_WithoutSession(t *testing.T) {
	h := newHarness(t)
	err := h.m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Zero(t, h.srv.RefreshCalls.Load())
}

func TestLogout_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	var calls atomic.Int32
	h.m.Watch(func(State) { calls.Add(1) })

	require.NoError(t, h.m.Logout())
	require.NoError(t, h.m.Logout())

	assert.False(t, h.m.IsAuthenticated())
	assert.Empty(t, h.m.AccessToken())
	assert.Empty(t, h.stored(storage.KeyAccessToken))
	assert.Equal(t, int32(1), calls.Load(), "second logout is not a transition")
}

func TestInitialize(t *testing.T) {
	t.Run("no stored token", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.m.Initialize(context.Background()))
		assert.False(t, h.m.IsAuthenticated())
		assert.Zero(t, h.srv.MeCalls.Load())
	})

	t.Run("stored token restores session", func(t *testing.T) {
		h := newHarness(t)
		pair := h.srv.Issue(testEmail)
		require.NoError(t, h.vault.Secure().Set(storage.KeyAccessToken, pair.AccessToken))
		require.NoError(t, h.vault.Secure().Set(storage.KeyRefreshToken, pair.RefreshToken))

		require.NoError(t, h.m.Initialize(context.Background()))
		assert.True(t, h.m.IsAuthenticated())
		assert.Equal(t, pair.RefreshToken, h.m.RefreshToken())
	})

	t.Run("profile fetch fails transiently", func(t *testing.T) {
		h := newHarness(t)
		pair := h.srv.Issue(testEmail)
		require.NoError(t, h.vault.Secure().Set(storage.KeyAccessToken, pair.AccessToken))
		require.NoError(t, h.vault.Secure().Set(storage.KeyRefreshToken, pair.RefreshToken))
		h.srv.FailMe(http.StatusBadGateway)

		require.Error(t, h.m.Initialize(context.Background()))
		assert.False(t, h.m.IsAuthenticated(), "authenticated only after a successful profile fetch")
		assert.Equal(t, StateUnauthenticated, h.m.State())
		assert.Equal(t, pair.AccessToken, h.stored(storage.KeyAccessToken), "tokens kept for a later retry")

		h.srv.FailMe(0)
		require.NoError(t, h.m.Initialize(context.Background()))
		assert.True(t, h.m.IsAuthenticated())
	})

	t.Run("stale token with revoked refresh", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.vault.Secure().Set(storage.KeyAccessToken, "stale"))
		require.NoError(t, h.vault.Secure().Set(storage.KeyRefreshToken, "stale-refresh"))

		require.Error(t, h.m.Initialize(context.Background()))
		assert.False(t, h.m.IsAuthenticated())
		assert.Empty(t, h.stored(storage.KeyAccessToken), "rejected session is cleared")
	})
}

func TestIsPrivileged(t *testing.T) {
	tests := []struct {
		name    string
		profile backend.Profile
		want    bool
	}{
		{"admin role", backend.Profile{Role: backend.RoleAdmin}, true},
		{"superuser", backend.Profile{Role: backend.RoleUser, IsSuperuser: true}, true},
		{"regular user", backend.Profile{Role: backend.RoleUser}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.srv.AddUser("p@example.com", "pw", tt.profile)
			require.NoError(t, h.m.Login(context.Background(), "p@example.com", "pw"))
			assert.Equal(t, tt.want, h.m.IsPrivileged())
		})
	}

	assert.False(t, newHarness(t).m.IsPrivileged(), "no session is never privileged")
}

func TestTokenExpiry(t *testing.T) {
	h := newHarness(t)
	_, ok := h.m.TokenExpiry()
	assert.False(t, ok)

	h.srv.SetTokenTTL(time.Hour)
	h.login(t)

	exp, ok := h.m.TokenExpiry()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)
}

func TestWatch_Disposer(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	dispose := h.m.Watch(func(State) { calls.Add(1) })

	h.login(t)
	seen := calls.Load()
	assert.Positive(t, seen)

	dispose()
	dispose()
	require.NoError(t, h.m.Logout())
	assert.Equal(t, seen, calls.Load())
}

func TestCachedProfile(t *testing.T) {
	h := newHarness(t)
	_, ok := h.m.CachedProfile()
	assert.False(t, ok)

	h.login(t)
	p, ok := h.m.CachedProfile()
	require.True(t, ok)
	assert.Equal(t, testEmail, p.Email)
}

func TestReload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t)

	require.NoError(t, h.m.Reload(ctx), "unchanged storage is a no-op")
	assert.True(t, h.m.IsAuthenticated())

	// Another process logged out.
	require.NoError(t, h.vault.Secure().Remove(storage.KeyAccessToken))
	require.NoError(t, h.vault.Secure().Remove(storage.KeyRefreshToken))
	require.NoError(t, h.m.Reload(ctx))
	assert.False(t, h.m.IsAuthenticated())

	// Another process logged in.
	pair := h.srv.Issue(testEmail)
	require.NoError(t, h.vault.Secure().Set(storage.KeyAccessToken, pair.AccessToken))
	require.NoError(t, h.vault.Secure().Set(storage.KeyRefreshToken, pair.RefreshToken))
	require.NoError(t, h.m.Reload(ctx))
	assert.True(t, h.m.IsAuthenticated())
	assert.Equal(t, pair.AccessToken, h.m.AccessToken())
}

// flakyStore fails writes to one key on demand.
type flakyStore struct {
	storage.Store
	failKey atomic.Value
}

func (f *flakyStore) Set(key, value string) error {
	if k, _ := f.failKey.Load().(string); k == key {
		return errors.New("disk full")
	}
	return f.Store.Set(key, value)
}

func TestPersistFailureLeavesMemoryUntouched(t *testing.T) {
	srv := backendtest.New()
	defer srv.Close()
	srv.AddUser(testEmail, testPassword, backend.Profile{})

	api, err := backend.New(srv.URL)
	require.NoError(t, err)

	secure := &flakyStore{Store: storage.NewMemoryStore()}
	vault := storage.NewVault(secure, storage.NewMemoryStore())
	m := New(api, vault)
	api.SetAuthorizedTransport(transport.New(m, nil))

	require.NoError(t, m.Login(context.Background(), testEmail, testPassword))
	access, refresh := m.AccessToken(), m.RefreshToken()

	secure.failKey.Store(storage.KeyRefreshToken)
	err = m.Refresh(context.Background())
	require.Error(t, err)

	assert.Equal(t, access, m.AccessToken())
	assert.Equal(t, refresh, m.RefreshToken())
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, StateAuthenticated, m.State())

	stored, err := secure.Get(storage.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, access, stored, "partial write rolled back")
}

// stubAPI fails every call with err.
type stubAPI struct{ err error }

func (s stubAPI) Login(context.Context, string, string) (*oauth.TokenPair, error) {
	return nil, s.err
}

func (s stubAPI) Register(context.Context, backend.RegisterRequest) (*backend.Profile, error) {
	return nil, s.err
}

func (s stubAPI) Refresh(context.Context, string) (*oauth.TokenPair, error) {
	return nil, s.err
}

func (s stubAPI) CurrentUser(context.Context) (*backend.Profile, error) {
	return nil, s.err
}

// heldRefreshAPI answers Refresh only after release is closed.
type heldRefreshAPI struct {
	stubAPI
	entered chan struct{}
	release chan struct{}
}

func (h *heldRefreshAPI) Refresh(context.Context, string) (*oauth.TokenPair, error) {
	close(h.entered)
	<-h.release
	return &oauth.TokenPair{AccessToken: "a2", RefreshToken: "r2", TokenType: "bearer"}, nil
}

func TestRefresh_LogoutDuringExchangeWins(t *testing.T) {
	vault := storage.NewMemoryVault()
	api := &heldRefreshAPI{entered: make(chan struct{}), release: make(chan struct{})}
	m := New(api, vault)
	require.NoError(t, vault.Secure().Set(storage.KeyAccessToken, "a1"))
	require.NoError(t, vault.Secure().Set(storage.KeyRefreshToken, "r1"))
	m.accessToken = "a1"
	m.refreshToken = "r1"
	m.user = &backend.Profile{Email: testEmail}
	m.state = StateAuthenticated

	done := make(chan error, 1)
	go func() { done <- m.Refresh(context.Background()) }()

	<-api.entered
	require.NoError(t, m.Logout())
	close(api.release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	case <-time.After(3 * time.Second):
		t.Fatal("refresh did not return")
	}

	assert.False(t, m.IsAuthenticated())
	assert.Empty(t, m.AccessToken())
	assert.Empty(t, m.RefreshToken())
	assert.Equal(t, StateUnauthenticated, m.State())
	for _, key := range []string{storage.KeyAccessToken, storage.KeyRefreshToken} {
		_, err := vault.Secure().Get(key)
		assert.True(t, storage.IsNotFound(err), "%s must stay removed", key)
	}
}

func TestRefresh_NetworkErrorKeepsSession(t *testing.T) {
	vault := storage.NewMemoryVault()
	m := New(stubAPI{err: &netError{}}, vault)
	m.accessToken = "a"
	m.refreshToken = "r"
	m.user = &backend.Profile{Email: testEmail}
	m.state = StateAuthenticated

	err := m.Refresh(context.Background())
	require.Error(t, err)
	assert.False(t, IsAuthError(err))
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, StateAuthenticated, m.State())
}

type netError struct{}

func (*netError) Error() string { return "connection refused" }

func TestEstablish_InvalidPair(t *testing.T) {
	h := newHarness(t)
	err := h.m.Establish(context.Background(), oauth.TokenPair{AccessToken: "only-access"})
	var ae *AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "establish", ae.Op)
	assert.False(t, h.m.IsAuthenticated())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unauthenticated", StateUnauthenticated.String())
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "refreshing", StateRefreshing.String())
	assert.Equal(t, "unknown", State(99).String())
}
