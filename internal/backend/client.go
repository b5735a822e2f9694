package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"archivist/pkg/logging"
	"archivist/pkg/oauth"
)

// API paths.
const (
	PathRegister   = "/api/v1/auth/register"
	PathLogin      = "/api/v1/auth/login"
	PathRefresh    = "/api/v1/auth/refresh"
	PathMe         = "/api/v1/auth/me"
	PathOIDCConfig = "/api/v1/auth/oidc/config"
	PathOIDCToken  = "/api/v1/auth/oidc/token"
	PathEvents     = "/api/v1/ws"
)

// DefaultTimeout applies to every request made by the default clients.
const DefaultTimeout = 30 * time.Second

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 1 << 20

// Client talks to the archive REST API.
//
// Credential endpoints (login, register, refresh, OIDC) use a plain HTTP
// client. CurrentUser and Do use the authorized client, whose transport
// attaches the bearer token and refreshes on 401/403; it is installed with
// SetAuthorizedTransport once the session exists.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	authorized *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the plain HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// New returns a client for the archive at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL %q must use http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server URL %q has no host", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.authorized = c.httpClient
	return c, nil
}

// SetAuthorizedTransport installs the transport used for authenticated calls.
// It must be called before the client is shared between goroutines.
func (c *Client) SetAuthorizedTransport(rt http.RoundTripper) {
	c.authorized = &http.Client{Transport: rt, Timeout: c.httpClient.Timeout}
}

// BaseURL returns a copy of the server base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// EventStreamURL returns the websocket URL for the event feed. The scheme
// mirrors the base URL: http becomes ws, https becomes wss.
func (c *Client) EventStreamURL(accessToken string) string {
	u := c.BaseURL()
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + PathEvents
	q := url.Values{}
	q.Set("token", accessToken)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) endpoint(path string) string {
	u := c.BaseURL()
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*oauth.TokenPair, error) {
	var pair oauth.TokenPair
	if err := c.do(ctx, c.httpClient, http.MethodPost, PathLogin, Credentials{Email: email, Password: password}, &pair); err != nil {
		return nil, err
	}
	if err := pair.Validate(); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &pair, nil
}

// Register creates an account. It does not establish a session.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, c.httpClient, http.MethodPost, PathRegister, req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Refresh exchanges a refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth.TokenPair, error) {
	var pair oauth.TokenPair
	if err := c.do(ctx, c.httpClient, http.MethodPost, PathRefresh, refreshRequest{RefreshToken: refreshToken}, &pair); err != nil {
		return nil, err
	}
	if err := pair.Validate(); err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	return &pair, nil
}

// CurrentUser fetches the profile of the authenticated user through the
// authorized transport.
func (c *Client) CurrentUser(ctx context.Context) (*Profile, error) {
	var p Profile
	if err := c.do(ctx, c.authorized, http.MethodGet, PathMe, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// OIDCConfig fetches the identity provider descriptor.
func (c *Client) OIDCConfig(ctx context.Context) (*oauth.ProviderDescriptor, error) {
	var d oauth.ProviderDescriptor
	if err := c.do(ctx, c.httpClient, http.MethodGet, PathOIDCConfig, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ExchangeOIDCTokens trades provider tokens for an application token pair.
func (c *Client) ExchangeOIDCTokens(ctx context.Context, tokens *oauth.ProviderTokens) (*oauth.TokenPair, error) {
	var pair oauth.TokenPair
	if err := c.do(ctx, c.httpClient, http.MethodPost, PathOIDCToken, tokens, &pair); err != nil {
		return nil, err
	}
	if err := pair.Validate(); err != nil {
		return nil, fmt.Errorf("oidc token exchange: %w", err)
	}
	return &pair, nil
}

// Do performs an authorized JSON request against path. in and out may be nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	return c.do(ctx, c.authorized, method, path, in, out)
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, in, out any) error {
	var body io.Reader
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := newStatusError(resp.StatusCode, data)
		logging.Debug("Backend", "%s %s: %d", method, path, resp.StatusCode)
		return se
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// IsNetworkError reports whether err is a transport failure rather than an
// API response.
func IsNetworkError(err error) bool {
	var ue *url.Error
	return errors.As(err, &ue)
}
