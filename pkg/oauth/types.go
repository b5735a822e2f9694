package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// TokenPair is the application credential pair issued by the archive backend
// on login, refresh and OIDC completion.
type TokenPair struct {
	// AccessToken is the bearer token attached to API requests.
	AccessToken string `json:"access_token"`

	// RefreshToken is exchanged for a new pair when the access token expires.
	RefreshToken string `json:"refresh_token"`

	// TokenType is typically "bearer".
	TokenType string `json:"token_type"`
}

// Validate checks that the backend returned a usable pair.
func (p *TokenPair) Validate() error {
	if p == nil || p.AccessToken == "" {
		return errors.New("token response has no access_token")
	}
	if p.RefreshToken == "" {
		return errors.New("token response has no refresh_token")
	}
	return nil
}

// Scopes is a list of OAuth scopes. It decodes from either a JSON array or a
// space-separated string since providers publish both shapes.
type Scopes []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Scopes) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}

	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("scopes must be a string or an array of strings: %w", err)
	}
	*s = strings.Fields(joined)
	return nil
}

// String returns the space-separated form used in authorization requests.
func (s Scopes) String() string {
	return strings.Join(s, " ")
}

// ProviderDescriptor is the identity provider configuration published by the
// archive backend at /api/v1/auth/oidc/config.
type ProviderDescriptor struct {
	Enabled               bool   `json:"enabled"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	ClientID              string `json:"client_id"`
	Scopes                Scopes `json:"scopes"`
	RedirectURI           string `json:"redirect_uri"`
}

// Validate reports the first missing or malformed field of an enabled
// descriptor. A disabled descriptor is not validated.
func (d *ProviderDescriptor) Validate() error {
	if d == nil {
		return errors.New("descriptor is empty")
	}
	if !d.Enabled {
		return nil
	}

	for name, raw := range map[string]string{
		"authorization_endpoint": d.AuthorizationEndpoint,
		"token_endpoint":         d.TokenEndpoint,
		"redirect_uri":           d.RedirectURI,
	} {
		if raw == "" {
			return fmt.Errorf("%s is missing", name)
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s %q is not an absolute URL", name, raw)
		}
	}

	if d.ClientID == "" {
		return errors.New("client_id is missing")
	}
	return nil
}

// ProviderTokens are the tokens obtained from the identity provider's token
// endpoint. They are never used as session credentials directly; the backend
// exchanges them for a TokenPair.
type ProviderTokens struct {
	IDToken     string `json:"id_token,omitempty"`
	AccessToken string `json:"access_token"`
}

// Callback holds the query parameters delivered to the redirect URI.
type Callback struct {
	// Code is the authorization code from the provider.
	Code string

	// State must match the state persisted when the flow began.
	State string

	// Error is the provider error code if authorization failed.
	Error string

	// ErrorDescription is a human-readable error description.
	ErrorDescription string
}

// ParseCallback extracts the callback parameters from a redirect query.
func ParseCallback(query url.Values) Callback {
	return Callback{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}
}

// IsError returns true if the provider reported a failure.
func (c Callback) IsError() bool {
	return c.Error != ""
}
