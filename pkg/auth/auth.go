// Package auth obtains the bearer token a probe session presents to the
// backend.
//
// Providers are queried once per session. Token refresh is not attempted;
// callers compare the token's expiry (see Inspect) against the session's
// budget and warn when the token may lapse mid-session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for credential acquisition.
var (
	// ErrInvalidCredentials indicates the identity provider rejected the
	// username/password or client.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrChallengeRequired indicates the provider answered with a challenge
	// (MFA, password reset) instead of tokens.
	ErrChallengeRequired = errors.New("authentication challenge required")

	// ErrThrottled indicates the provider rate limited the request.
	ErrThrottled = errors.New("request throttled")

	// ErrProviderUnavailable indicates the provider could not be reached.
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// ErrNoToken indicates the provider answered without a usable token.
	ErrNoToken = errors.New("no token in response")
)

// ProviderType names a credential provider.
type ProviderType string

const (
	ProviderCognito ProviderType = "cognito"
	ProviderOIDC    ProviderType = "oidc"
	ProviderStatic  ProviderType = "static"
)

// TokenProvider produces a bearer token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Type() ProviderType
}

// AuthError wraps a credential failure with the provider that produced it.
type AuthError struct {
	Provider ProviderType
	Err      error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err came from a TokenProvider.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsInvalidCredentials returns true if the error indicates rejected credentials.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsThrottled returns true if the error indicates the provider rate limited us.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "auth config: " + e.Field + ": " + e.Message
}

// Static returns a fixed token. Useful against the fake backend and for
// tokens minted out of band.
type Static struct {
	token string
}

var _ TokenProvider = (*Static)(nil)

// NewStatic creates a Static provider. The token must be non-empty.
func NewStatic(token string) (*Static, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &ConfigError{Field: "Token", Message: "static token is required"}
	}
	return &Static{token: token}, nil
}

// Token returns the configured token.
func (s *Static) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &AuthError{Provider: ProviderStatic, Err: err}
	}
	return s.token, nil
}

// Type returns ProviderStatic.
func (s *Static) Type() ProviderType {
	return ProviderStatic
}
