package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code verifier.
	// 32 bytes provides 256 bits of entropy; hex encoding yields 64 characters,
	// inside the 43..128 range RFC 7636 requires.
	pkceVerifierBytes = 32

	// ChallengeMethodS256 is the only challenge method used; plain is never sent.
	ChallengeMethodS256 = "S256"
)

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
type PKCEChallenge struct {
	// CodeVerifier is the hex-encoded random secret. It never leaves the
	// client except in the token request.
	CodeVerifier string

	// CodeChallenge is base64url(SHA-256(CodeVerifier)) without padding.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

// GeneratePKCE generates a new PKCE code verifier and its S256 challenge.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifierBytes := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(verifierBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes for PKCE: %w", err)
	}

	verifier := hex.EncodeToString(verifierBytes)

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       ChallengeFromVerifier(verifier),
		CodeChallengeMethod: ChallengeMethodS256,
	}, nil
}

// ChallengeFromVerifier derives the S256 challenge for a stored verifier.
func ChallengeFromVerifier(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// GenerateState generates a random state parameter for OAuth.
// The state links the authorization response back to the request that
// started it and protects the redirect against CSRF.
func GenerateState() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return id.String(), nil
}
