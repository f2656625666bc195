// Package auth implements credential handling, token acquisition and the
// serialized token refresh used by the transport pipeline.
package auth

import "margincalc/internal/config"

// Credential identifies a principal against the auth backend. It is
// immutable and only ever used to produce access tokens; the invoker
// references it but never takes ownership.
type Credential struct {
	APIKey    string
	APISecret config.Secret
}

// NewCredential creates a credential from a key/secret pair
func NewCredential(apiKey, apiSecret string) Credential {
	return Credential{
		APIKey:    apiKey,
		APISecret: config.Secret(apiSecret),
	}
}

// AccessToken is the immutable token value produced by authentication.
// It is never persisted across process restarts.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Scheme returns the Authorization header scheme, defaulting to Bearer
func (t AccessToken) Scheme() string {
	if t.TokenType == "" {
		return "Bearer"
	}
	return t.TokenType
}

// IsZero reports whether the token is the absent value
func (t AccessToken) IsZero() bool {
	return t.AccessToken == ""
}
