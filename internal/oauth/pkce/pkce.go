// Package pkce generates the RFC 7636 code pair for the OAuth2
// authorization-code flow.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Codes is one verifier/challenge pair. The verifier is sent with the token
// exchange; the challenge rides on the authorize URL.
type Codes struct {
	CodeVerifier  string `json:"code_verifier"`
	CodeChallenge string `json:"code_challenge"`
}

// Generate creates a fresh pair. The verifier is 64 random bytes hex-encoded
// (128 characters, the format the ChatGPT authorization server accepts from
// its own clients); the challenge is its S256 digest, base64url without
// padding.
func Generate() (*Codes, error) {
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("pkce verifier: %w", err)
	}
	verifier := hex.EncodeToString(raw)
	digest := sha256.Sum256([]byte(verifier))
	return &Codes{
		CodeVerifier:  verifier,
		CodeChallenge: base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(digest[:]),
	}, nil
}
