package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig configures a resource-owner password grant against an OIDC
// issuer.
type OIDCConfig struct {
	// IssuerURL is the OIDC issuer; discovery is read from
	// <issuer>/.well-known/openid-configuration.
	IssuerURL string

	ClientID string
	Scopes   []string
	Username string
	Password string

	// HTTPClient overrides the client used for discovery and token calls.
	HTTPClient *http.Client
}

// Validate checks that required configuration is present.
func (c *OIDCConfig) Validate() error {
	switch {
	case c.IssuerURL == "":
		return &ConfigError{Field: "IssuerURL", Message: "issuer url is required"}
	case c.ClientID == "":
		return &ConfigError{Field: "ClientID", Message: "client id is required"}
	case c.Username == "":
		return &ConfigError{Field: "Username", Message: "username is required"}
	case c.Password == "":
		return &ConfigError{Field: "Password", Message: "password is required"}
	}
	return nil
}

// OIDCProvider obtains tokens with the password grant. The ID token is
// returned when the issuer provides one, otherwise the access token.
type OIDCProvider struct {
	cfg OIDCConfig
}

var _ TokenProvider = (*OIDCProvider)(nil)

// NewOIDC creates an OIDC provider. Discovery happens on the first Token
// call so construction never touches the network.
func NewOIDC(cfg OIDCConfig) (*OIDCProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID}
	}
	return &OIDCProvider{cfg: cfg}, nil
}

// Token performs discovery and the password grant.
func (p *OIDCProvider) Token(ctx context.Context) (string, error) {
	if p.cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, p.cfg.HTTPClient)
	}

	provider, err := oidc.NewProvider(ctx, p.cfg.IssuerURL)
	if err != nil {
		return "", &AuthError{Provider: ProviderOIDC, Err: errors.Join(ErrProviderUnavailable, err)}
	}

	authConfig := &oauth2.Config{
		ClientID: p.cfg.ClientID,
		Scopes:   p.cfg.Scopes,
		Endpoint: provider.Endpoint(),
	}

	tok, err := authConfig.PasswordCredentialsToken(ctx, p.cfg.Username, p.cfg.Password)
	if err != nil {
		return "", wrapOAuthError(err)
	}

	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		return idToken, nil
	}
	if tok.AccessToken == "" {
		return "", &AuthError{Provider: ProviderOIDC, Err: ErrNoToken}
	}
	return tok.AccessToken, nil
}

// Type returns ProviderOIDC.
func (p *OIDCProvider) Type() ProviderType {
	return ProviderOIDC
}

func wrapOAuthError(err error) error {
	wrapped := &AuthError{Provider: ProviderOIDC, Err: err}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch {
		case re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_client" || re.ErrorCode == "unauthorized_client":
			wrapped.Err = errors.Join(ErrInvalidCredentials, err)
		case re.Response != nil && re.Response.StatusCode == http.StatusTooManyRequests:
			wrapped.Err = errors.Join(ErrThrottled, err)
		case re.Response != nil && re.Response.StatusCode >= 500:
			wrapped.Err = errors.Join(ErrProviderUnavailable, err)
		case re.Response != nil && (re.Response.StatusCode == http.StatusUnauthorized || re.Response.StatusCode == http.StatusBadRequest):
			wrapped.Err = errors.Join(ErrInvalidCredentials, err)
		}
		return wrapped
	}

	if strings.Contains(err.Error(), "connection refused") {
		wrapped.Err = errors.Join(ErrProviderUnavailable, err)
	}
	return wrapped
}
