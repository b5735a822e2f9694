// Package oidc runs browser-based login against the archive's identity
// provider using the Authorization Code flow with PKCE, and exchanges the
// result for archive tokens.
package oidc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"archivist/internal/storage"
	"archivist/pkg/logging"
	"archivist/pkg/oauth"
)

const subsystem = "OIDC"

// DefaultDiscoveryTimeout bounds the provider descriptor fetch.
const DefaultDiscoveryTimeout = 5 * time.Second

// API is the subset of the archive REST client used by the engine.
type API interface {
	OIDCConfig(ctx context.Context) (*oauth.ProviderDescriptor, error)
	ExchangeOIDCTokens(ctx context.Context, tokens *oauth.ProviderTokens) (*oauth.TokenPair, error)
}

// Session establishes a session from an archive token pair.
type Session interface {
	Establish(ctx context.Context, pair oauth.TokenPair) error
}

// Config configures an Engine.
type Config struct {
	API     API
	Session Session

	// Store is the secure tier holding the single-use flow slot.
	Store storage.Store

	// HTTPClient is used for the provider token endpoint. Defaults to a
	// client with oauth.DefaultHTTPTimeout.
	HTTPClient *http.Client

	// DiscoveryTimeout defaults to DefaultDiscoveryTimeout.
	DiscoveryTimeout time.Duration

	// UserAgent defaults to Browser.
	UserAgent UserAgent
}

// Flow is an initiated login waiting for its callback.
type Flow struct {
	// AuthorizationURL is where the user agent must be sent.
	AuthorizationURL string

	// State is the CSRF state embedded in AuthorizationURL.
	State string

	// Descriptor is the provider configuration fetched for this flow.
	Descriptor *oauth.ProviderDescriptor
}

// Engine orchestrates OIDC logins. It is safe for concurrent use, but only
// one flow slot exists; starting a new flow replaces a pending one.
type Engine struct {
	api              API
	session          Session
	store            storage.Store
	httpClient       *http.Client
	discoveryTimeout time.Duration
	userAgent        UserAgent

	discovery singleflight.Group

	mu        sync.Mutex
	pending   *oauth.ProviderDescriptor
	processed map[string]struct{}
}

// New returns an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.API == nil || cfg.Session == nil || cfg.Store == nil {
		return nil, errors.New("oidc: API, Session and Store are required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: oauth.DefaultHTTPTimeout}
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if cfg.UserAgent == nil {
		cfg.UserAgent = Browser{}
	}
	return &Engine{
		api:              cfg.API,
		session:          cfg.Session,
		store:            cfg.Store,
		httpClient:       cfg.HTTPClient,
		discoveryTimeout: cfg.DiscoveryTimeout,
		userAgent:        cfg.UserAgent,
		processed:        make(map[string]struct{}),
	}, nil
}

// Discover fetches and validates the provider descriptor. Concurrent calls
// share one request.
func (e *Engine) Discover(ctx context.Context) (*oauth.ProviderDescriptor, error) {
	ch := e.discovery.DoChan("descriptor", func() (any, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.discoveryTimeout)
		defer cancel()
		return e.api.OIDCConfig(dctx)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, fmt.Errorf("fetching provider descriptor: %w", res.Err)
	}

	desc := *res.Val.(*oauth.ProviderDescriptor)
	if !desc.Enabled {
		return nil, ErrProviderDisabled
	}
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}
	return &desc, nil
}

// Begin fetches the descriptor, generates the PKCE verifier and state,
// persists them in the flow slot and builds the authorization URL.
func (e *Engine) Begin(ctx context.Context) (*Flow, error) {
	desc, err := e.Discover(ctx)
	if err != nil {
		return nil, flowErr("discovery", err)
	}

	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		return nil, flowErr("begin", err)
	}
	state, err := oauth.GenerateState()
	if err != nil {
		return nil, flowErr("begin", err)
	}

	if err := e.store.Set(storage.KeyOIDCCodeVerifier, pkce.CodeVerifier); err != nil {
		e.clearSlot()
		return nil, flowErr("begin", fmt.Errorf("persisting flow state: %w", err))
	}
	if err := e.store.Set(storage.KeyOIDCState, state); err != nil {
		e.clearSlot()
		return nil, flowErr("begin", fmt.Errorf("persisting flow state: %w", err))
	}

	authURL, err := oauth.BuildAuthorizationURL(desc, state, pkce)
	if err != nil {
		e.clearSlot()
		return nil, flowErr("begin", err)
	}

	e.mu.Lock()
	e.pending = desc
	e.mu.Unlock()

	logging.Audit(subsystem, logging.AuditEvent{
		Event:   "oidc_flow_started",
		Outcome: "success",
		Attrs:   []slog.Attr{slog.String("authorization_endpoint", desc.AuthorizationEndpoint)},
	})
	return &Flow{AuthorizationURL: authURL, State: state, Descriptor: desc}, nil
}

// Complete validates a callback and, if it matches the pending flow,
// exchanges the code with the provider and the provider tokens with the
// archive, then establishes the session. The flow slot is deleted on every
// outcome except a duplicate callback, which leaves the original attempt
// alone.
func (e *Engine) Complete(ctx context.Context, cb oauth.Callback) error {
	if cb.Code != "" {
		e.mu.Lock()
		_, seen := e.processed[cb.Code]
		e.processed[cb.Code] = struct{}{}
		e.mu.Unlock()
		if seen {
			logging.Audit(subsystem, logging.AuditEvent{Event: "oidc_duplicate_callback", Outcome: "failure"})
			return flowErr("callback", ErrDuplicateCallback)
		}
	}

	defer e.clearSlot()

	if cb.IsError() {
		e.auditFailure("provider_error", cb.Error)
		return flowErr("callback", &ProviderError{Code: cb.Error, Description: cb.ErrorDescription})
	}
	if cb.Code == "" {
		e.auditFailure("missing_code", "")
		return flowErr("callback", ErrMissingCode)
	}

	state, err := e.store.Get(storage.KeyOIDCState)
	if err != nil {
		e.auditFailure("no_flow", "")
		return flowErr("callback", ErrNoFlow)
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(cb.State)) != 1 {
		e.auditFailure("state_mismatch", "")
		return flowErr("callback", ErrStateMismatch)
	}
	verifier, err := e.store.Get(storage.KeyOIDCCodeVerifier)
	if err != nil {
		e.auditFailure("no_flow", "")
		return flowErr("callback", ErrNoFlow)
	}

	e.mu.Lock()
	desc := e.pending
	e.pending = nil
	e.mu.Unlock()
	if desc == nil {
		// Flow began in another process.
		if desc, err = e.Discover(ctx); err != nil {
			return flowErr("discovery", err)
		}
	}

	providerTokens, err := oauth.ExchangeCode(ctx, e.httpClient, desc, cb.Code, verifier)
	if err != nil {
		e.auditFailure("provider_exchange", err.Error())
		return flowErr("exchange", err)
	}

	pair, err := e.api.ExchangeOIDCTokens(ctx, providerTokens)
	if err != nil {
		e.auditFailure("backend_exchange", err.Error())
		return flowErr("exchange", err)
	}

	if err := e.session.Establish(ctx, *pair); err != nil {
		return flowErr("establish", err)
	}

	logging.Audit(subsystem, logging.AuditEvent{Event: "oidc_login", Outcome: "success"})
	return nil
}

// Login runs a complete interactive flow: Begin, local receiver, user agent,
// Complete. There is no timeout of its own; ctx governs cancellation.
func (e *Engine) Login(ctx context.Context) error {
	flow, err := e.Begin(ctx)
	if err != nil {
		return err
	}

	recv, err := NewReceiver(flow.Descriptor.RedirectURI)
	if err != nil {
		e.abandon()
		return flowErr("begin", err)
	}
	if err := recv.Start(ctx); err != nil {
		e.abandon()
		return flowErr("begin", err)
	}
	defer recv.Stop()

	if err := e.userAgent.Open(ctx, flow.AuthorizationURL); err != nil {
		e.abandon()
		return flowErr("user_agent", err)
	}

	cb, err := recv.Wait(ctx)
	if err != nil {
		e.abandon()
		return flowErr("callback", err)
	}
	return e.Complete(ctx, cb)
}

// HasPendingFlow reports whether a flow slot is currently stored.
func (e *Engine) HasPendingFlow() bool {
	_, err := e.store.Get(storage.KeyOIDCState)
	return err == nil
}

func (e *Engine) abandon() {
	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
	e.clearSlot()
}

func (e *Engine) clearSlot() {
	for _, key := range []string{storage.KeyOIDCState, storage.KeyOIDCCodeVerifier} {
		if err := e.store.Remove(key); err != nil {
			logging.Warn(subsystem, "Failed to remove %s: %v", key, err)
		}
	}
}

func (e *Engine) auditFailure(reason, detail string) {
	attrs := []slog.Attr{slog.String("reason", reason)}
	if detail != "" {
		attrs = append(attrs, slog.String("detail", detail))
	}
	logging.Audit(subsystem, logging.AuditEvent{Event: "oidc_login", Outcome: "failure", Attrs: attrs})
}
