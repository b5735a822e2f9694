// Package transport provides the HTTP request pipeline for authenticated
// archive calls: it attaches the session's bearer token and, when the server
// rejects it, refreshes once and replays the request.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"

	"archivist/internal/backend"
	"archivist/pkg/logging"
	"archivist/pkg/oauth"
)

// DefaultRetryBudget is the number of replays a request gets when its
// context carries no explicit budget.
const DefaultRetryBudget = 1

// maxDrainBytes bounds how much of a rejected response is read before the
// connection is reused.
const maxDrainBytes = 4 << 10

// Session is the part of the token lifecycle manager the pipeline needs.
// Refresh must deduplicate concurrent calls.
type Session interface {
	AccessToken() string
	Refresh(ctx context.Context) error
}

type retryBudgetKey struct{}

// WithRetryBudget returns a context whose requests may be replayed at most n
// times after an authorization failure. n < 0 is treated as 0.
func WithRetryBudget(ctx context.Context, n int) context.Context {
	if n < 0 {
		n = 0
	}
	return context.WithValue(ctx, retryBudgetKey{}, n)
}

// RetryBudget returns the remaining replay budget carried by ctx.
func RetryBudget(ctx context.Context) int {
	if n, ok := ctx.Value(retryBudgetKey{}).(int); ok {
		return n
	}
	return DefaultRetryBudget
}

// Transport is an http.RoundTripper implementing bearer attachment and
// refresh-and-replay.
type Transport struct {
	base    http.RoundTripper
	session Session
}

var _ http.RoundTripper = (*Transport)(nil)

// New wraps base (http.DefaultTransport when nil).
func New(session Session, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, session: session}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := oauth.NewRedactedToken(t.session.AccessToken())
	if token.IsEmpty() {
		return t.base.RoundTrip(req)
	}

	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", "Bearer "+token.Value())

	resp, err := t.base.RoundTrip(authed)
	if err != nil || !backend.IsAuthorizationStatus(resp.StatusCode) {
		return resp, err
	}

	ctx := req.Context()
	budget := RetryBudget(ctx)
	if budget <= 0 {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		logging.Debug("Transport", "%s %s: body can't be replayed, not retrying", req.Method, req.URL.Path)
		return resp, nil
	}

	// Another request may already have refreshed while this one was in
	// flight; only refresh if the token we sent is still current.
	if t.session.AccessToken() == token.Value() {
		logging.Debug("Transport", "%s %s: %d with token %s, refreshing", req.Method, req.URL.Path, resp.StatusCode, token)
		if err := t.session.Refresh(ctx); err != nil {
			logging.Debug("Transport", "Refresh failed, returning original response: %v", err)
			return resp, nil
		}
	}
	if t.session.AccessToken() == "" {
		return resp, nil
	}

	replay := req.Clone(WithRetryBudget(ctx, budget-1))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		replay.Body = body
	}

	drain(resp)
	return t.RoundTrip(replay)
}

func drain(resp *http.Response) {
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrainBytes)
	if err := resp.Body.Close(); err != nil && !errors.Is(err, http.ErrBodyReadAfterClose) {
		logging.Debug("Transport", "Closing rejected response body: %v", err)
	}
}
