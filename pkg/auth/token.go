package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo holds the claims the probe cares about. The signature is not
// verified; the backend does that.
type TokenInfo struct {
	Subject   string
	Issuer    string
	ExpiresAt *time.Time
	IssuedAt  *time.Time
}

// ErrNotJWT indicates a token could not be parsed as a JWT. Opaque tokens
// are legal; callers should treat this as "expiry unknown".
var ErrNotJWT = errors.New("token is not a JWT")

// Inspect decodes a JWT's registered claims without verifying it.
func Inspect(token string) (*TokenInfo, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotJWT, err)
	}

	info := &TokenInfo{
		Subject: claims.Subject,
		Issuer:  claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		t := claims.ExpiresAt.Time
		info.ExpiresAt = &t
	}
	if claims.IssuedAt != nil {
		t := claims.IssuedAt.Time
		info.IssuedAt = &t
	}
	return info, nil
}

// ExpiresWithin reports whether the token expires before now+d. Tokens
// without an exp claim never expire.
func (i *TokenInfo) ExpiresWithin(now time.Time, d time.Duration) bool {
	if i == nil || i.ExpiresAt == nil {
		return false
	}
	return i.ExpiresAt.Before(now.Add(d))
}
