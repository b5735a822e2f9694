package oidc

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderDisabled is returned when the archive has no identity
	// provider configured.
	ErrProviderDisabled = errors.New("OIDC login is not enabled on this server")

	// ErrMalformedDescriptor is returned when the provider descriptor is
	// missing required fields.
	ErrMalformedDescriptor = errors.New("malformed OIDC provider descriptor")

	// ErrStateMismatch is returned when the callback state does not match
	// the state persisted at Begin. No token exchange is attempted.
	ErrStateMismatch = errors.New("OIDC state mismatch")

	// ErrDuplicateCallback is returned when an authorization code has
	// already been processed.
	ErrDuplicateCallback = errors.New("OIDC callback already processed")

	// ErrNoFlow is returned when a callback arrives but no flow is pending.
	ErrNoFlow = errors.New("no OIDC login in progress")

	// ErrMissingCode is returned when the callback carries neither a code
	// nor an error.
	ErrMissingCode = errors.New("OIDC callback has no authorization code")
)

// ProviderError is returned when the identity provider reports a failure on
// the redirect, e.g. the user denied consent.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("identity provider returned %s: %s", e.Code, e.Description)
	}
	return "identity provider returned " + e.Code
}

// FlowError wraps every failure of an OIDC attempt with the step it failed
// in. Sentinel errors remain reachable through errors.Is.
type FlowError struct {
	// Step is "discovery", "begin", "user_agent", "callback", "exchange" or "establish".
	Step string
	Err  error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("OIDC %s: %v", e.Step, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// IsFlowError reports whether err came out of the OIDC engine.
func IsFlowError(err error) bool {
	var fe *FlowError
	return errors.As(err, &fe)
}

func flowErr(step string, err error) error {
	return &FlowError{Step: step, Err: err}
}
