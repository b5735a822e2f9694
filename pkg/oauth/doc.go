// Package oauth provides the OAuth 2.0 / OIDC protocol pieces shared by the
// archivist session core.
//
// # Core Components
//
//   - TokenPair: application credential pair issued by the archive backend
//   - ProviderDescriptor: identity provider configuration published by the backend
//   - PKCEChallenge: Proof Key for Code Exchange generation (RFC 7636)
//   - Callback: parsed redirect parameters
//   - BuildAuthorizationURL / ExchangeCode: the two provider-facing protocol steps
//   - RedactedToken: a credential wrapper that never prints its value
//
// The stateful flow built on top of these lives in internal/oidc.
package oauth
