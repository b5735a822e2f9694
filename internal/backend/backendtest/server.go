// Package backendtest provides an in-process fake of the archive REST API
// for tests.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"archivist/internal/backend"
	"archivist/pkg/oauth"
)

var signingKey = []byte("backendtest-signing-key")

type account struct {
	password string
	profile  backend.Profile
}

// Server is a fake archive API. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]*account // by email
	access   map[string]string   // access token -> email
	refresh  map[string]string   // refresh token -> email
	seq      int

	descriptor   oauth.ProviderDescriptor
	oidcEmail    string
	tokenTTL     time.Duration
	refreshDelay time.Duration
	streamDelay  time.Duration

	meStatus   atomic.Int32
	refreshErr atomic.Int32

	LoginCalls     atomic.Int32
	RefreshCalls   atomic.Int32
	MeCalls        atomic.Int32
	OIDCTokenCalls atomic.Int32

	lastOIDCTokens oauth.ProviderTokens

	wsMu    sync.Mutex
	wsConns map[*websocket.Conn]struct{}

	// StreamConnects counts accepted event stream handshakes.
	StreamConnects atomic.Int32

	// Pongs counts pong messages received on the event stream.
	Pongs atomic.Int32
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// New starts a fake archive. Call Close when done.
func New() *Server {
	s := &Server{
		accounts: make(map[string]*account),
		access:   make(map[string]string),
		refresh:  make(map[string]string),
		tokenTTL: 15 * time.Minute,
		wsConns:  make(map[*websocket.Conn]struct{}),
	}

	r := chi.NewRouter()
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/me", s.handleMe)
		r.Get("/oidc/config", s.handleOIDCConfig)
		r.Post("/oidc/token", s.handleOIDCToken)
	})
	r.Get("/api/v1/documents", s.handleDocuments)
	r.Get(backend.PathEvents, s.handleEvents)

	s.Server = httptest.NewServer(r)
	return s
}

// AddUser registers an account directly.
func (s *Server) AddUser(email, password string, profile backend.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if profile.Email == "" {
		profile.Email = email
	}
	if profile.ID == "" {
		s.seq++
		profile.ID = fmt.Sprintf("user-%d", s.seq)
	}
	s.accounts[email] = &account{password: password, profile: profile}
}

// Issue mints a token pair for email without going through login.
func (s *Server) Issue(email string) oauth.TokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(email)
}

// ExpireAccessTokens invalidates every issued access token. Refresh tokens
// stay valid.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]string)
}

// RevokeRefreshTokens invalidates every issued refresh token.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = make(map[string]string)
}

// SetDescriptor sets the body of GET /api/v1/auth/oidc/config.
func (s *Server) SetDescriptor(d oauth.ProviderDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptor = d
}

// UpdateDescriptor edits the published descriptor in place.
func (s *Server) UpdateDescriptor(fn func(*oauth.ProviderDescriptor)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.descriptor)
}

// SetOIDCEmail selects the account logged in by POST /api/v1/auth/oidc/token.
func (s *Server) SetOIDCEmail(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oidcEmail = email
}

// SetTokenTTL sets the exp claim of access tokens issued from now on.
func (s *Server) SetTokenTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = ttl
}

// SetRefreshDelay holds refresh responses for d so concurrent callers
// overlap.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// SetStreamDelay holds event stream handshakes for d before upgrading.
func (s *Server) SetStreamDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamDelay = d
}

// FailMe makes GET /me answer with status. Zero restores normal handling.
func (s *Server) FailMe(status int) {
	s.meStatus.Store(int32(status))
}

// FailRefresh makes POST /refresh answer with status. Zero restores normal
// handling.
func (s *Server) FailRefresh(status int) {
	s.refreshErr.Store(int32(status))
}

// LastOIDCTokens returns the body of the last oidc/token call.
func (s *Server) LastOIDCTokens() oauth.ProviderTokens {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOIDCTokens
}

// ValidAccessToken reports whether token is currently accepted.
func (s *Server) ValidAccessToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.access[token]
	return ok
}

// Publish sends msg as JSON to every open event stream connection.
func (s *Server) Publish(msg any) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for conn := range s.wsConns {
		_ = conn.WriteJSON(msg)
	}
}

// StreamConnections returns the number of open event stream connections.
func (s *Server) StreamConnections() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return len(s.wsConns)
}

// DropStreams closes every event stream connection abruptly.
func (s *Server) DropStreams() {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for conn := range s.wsConns {
		_ = conn.Close()
		delete(s.wsConns, conn)
	}
}

func (s *Server) issueLocked(email string) oauth.TokenPair {
	s.seq++
	claims := jwt.RegisteredClaims{
		Subject:   email,
		ID:        fmt.Sprintf("jti-%d", s.seq),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	refreshToken := fmt.Sprintf("refresh-%d", s.seq)
	s.access[accessToken] = email
	s.refresh[refreshToken] = email
	return oauth.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken, TokenType: "bearer"}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) bearerEmail(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.access[token]
	return email, ok
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req backend.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "email and password are required")
		return
	}

	s.mu.Lock()
	if _, exists := s.accounts[req.Email]; exists {
		s.mu.Unlock()
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	s.mu.Unlock()

	s.AddUser(req.Email, req.Password, backend.Profile{FullName: req.FullName, Role: backend.RoleUser, IsActive: true})

	s.mu.Lock()
	profile := s.accounts[req.Email].profile
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.LoginCalls.Add(1)

	var req backend.Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[req.Email]
	if !ok || acct.password != req.Password {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	writeJSON(w, http.StatusOK, s.issueLocked(req.Email))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.RefreshCalls.Add(1)
	s.mu.Lock()
	delay := s.refreshDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if status := s.refreshErr.Load(); status != 0 {
		writeDetail(w, int(status), "refresh failed")
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.refresh[req.RefreshToken]
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	// Refresh tokens rotate.
	delete(s.refresh, req.RefreshToken)
	writeJSON(w, http.StatusOK, s.issueLocked(email))
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.MeCalls.Add(1)
	if status := s.meStatus.Load(); status != 0 {
		writeDetail(w, int(status), "injected failure")
		return
	}

	email, ok := s.bearerEmail(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[email]
	if !ok {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, acct.profile)
}

func (s *Server) handleOIDCConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	d := s.descriptor
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleOIDCToken(w http.ResponseWriter, r *http.Request) {
	s.OIDCTokenCalls.Add(1)

	var tokens oauth.ProviderTokens
	if err := json.NewDecoder(r.Body).Decode(&tokens); err != nil || tokens.AccessToken == "" {
		writeDetail(w, http.StatusBadRequest, "provider tokens required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOIDCTokens = tokens
	if _, ok := s.accounts[s.oidcEmail]; !ok {
		writeDetail(w, http.StatusUnauthorized, "Unknown identity")
		return
	}
	writeJSON(w, http.StatusOK, s.issueLocked(s.oidcEmail))
}

// handleDocuments stands in for any authorized business endpoint.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.bearerEmail(r); !ok {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, []map[string]string{{"id": "doc-1", "title": "Invoice"}})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.ValidAccessToken(r.URL.Query().Get("token")) {
		writeDetail(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	s.mu.Lock()
	delay := s.streamDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.StreamConnects.Add(1)

	s.wsMu.Lock()
	s.wsConns[conn] = struct{}{}
	s.wsMu.Unlock()

	defer func() {
		s.wsMu.Lock()
		delete(s.wsConns, conn)
		s.wsMu.Unlock()
		_ = conn.Close()
	}()

	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == "pong" {
			s.Pongs.Add(1)
		}
	}
}
