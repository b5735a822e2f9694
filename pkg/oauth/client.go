package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// DefaultHTTPTimeout is the default timeout for provider token requests.
const DefaultHTTPTimeout = 30 * time.Second

// BuildAuthorizationURL constructs the provider authorization URL for an
// Authorization Code + PKCE request.
func BuildAuthorizationURL(desc *ProviderDescriptor, state string, pkce *PKCEChallenge) (string, error) {
	if desc == nil {
		return "", errors.New("provider descriptor is nil")
	}
	if pkce == nil {
		return "", errors.New("PKCE challenge is nil")
	}

	authURL, err := url.Parse(desc.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	// Keep any query the provider already put on the endpoint.
	query := authURL.Query()
	query.Set("client_id", desc.ClientID)
	query.Set("response_type", "code")
	query.Set("redirect_uri", desc.RedirectURI)
	query.Set("state", state)
	query.Set("code_challenge", pkce.CodeChallenge)
	query.Set("code_challenge_method", pkce.CodeChallengeMethod)
	if scope := desc.Scopes.String(); scope != "" {
		query.Set("scope", scope)
	}

	authURL.RawQuery = query.Encode()
	return authURL.String(), nil
}

// ExchangeCode exchanges an authorization code and its PKCE verifier at the
// provider's token endpoint. httpClient may be nil.
func ExchangeCode(ctx context.Context, httpClient *http.Client, desc *ProviderDescriptor, code, verifier string) (*ProviderTokens, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)

	cfg := &oauth2.Config{
		ClientID:    desc.ClientID,
		RedirectURL: desc.RedirectURI,
		Scopes:      desc.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   desc.AuthorizationEndpoint,
			TokenURL:  desc.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("provider token exchange failed: %w", err)
	}

	tokens := &ProviderTokens{AccessToken: token.AccessToken}
	if idToken, ok := token.Extra("id_token").(string); ok {
		tokens.IDToken = idToken
	}
	return tokens, nil
}
