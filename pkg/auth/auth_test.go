package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAPIError implements smithy.APIError for testing error code mapping.
type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

type fakeCognito struct {
	out   *cognitoidentityprovider.InitiateAuthOutput
	err   error
	input *cognitoidentityprovider.InitiateAuthInput
}

func (f *fakeCognito) InitiateAuth(_ context.Context, in *cognitoidentityprovider.InitiateAuthInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error) {
	f.input = in
	return f.out, f.err
}

func testCognitoConfig() CognitoConfig {
	return CognitoConfig{Region: "us-east-1", ClientID: "client-123", Username: "probe@example.com", Password: "hunter2"}
}

func TestCognitoConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CognitoConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*CognitoConfig) {}},
		{name: "missing region", mutate: func(c *CognitoConfig) { c.Region = "" }, wantErr: "region is required"},
		{name: "missing client", mutate: func(c *CognitoConfig) { c.ClientID = "" }, wantErr: "client id is required"},
		{name: "missing username", mutate: func(c *CognitoConfig) { c.Username = "" }, wantErr: "username is required"},
		{name: "missing password", mutate: func(c *CognitoConfig) { c.Password = "" }, wantErr: "password is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testCognitoConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCognitoProvider_Token(t *testing.T) {
	fake := &fakeCognito{out: &cognitoidentityprovider.InitiateAuthOutput{
		AuthenticationResult: &types.AuthenticationResultType{
			IdToken:     aws.String("id-token"),
			AccessToken: aws.String("access-token"),
		},
	}}
	p := newCognitoWithClient(fake, testCognitoConfig())

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id-token", tok)
	assert.Equal(t, ProviderCognito, p.Type())

	require.NotNil(t, fake.input)
	assert.Equal(t, types.AuthFlowTypeUserPasswordAuth, fake.input.AuthFlow)
	assert.Equal(t, "client-123", aws.ToString(fake.input.ClientId))
	assert.Equal(t, "probe@example.com", fake.input.AuthParameters["USERNAME"])
	assert.Equal(t, "hunter2", fake.input.AuthParameters["PASSWORD"])
}

func TestCognitoProvider_TokenFailures(t *testing.T) {
	tests := []struct {
		name string
		out  *cognitoidentityprovider.InitiateAuthOutput
		err  error
		want error
	}{
		{name: "not authorized", err: &mockAPIError{code: "NotAuthorizedException"}, want: ErrInvalidCredentials},
		{name: "user not found", err: &mockAPIError{code: "UserNotFoundException"}, want: ErrInvalidCredentials},
		{name: "throttled", err: &mockAPIError{code: "TooManyRequestsException"}, want: ErrThrottled},
		{name: "internal", err: &mockAPIError{code: "InternalErrorException"}, want: ErrProviderUnavailable},
		{name: "network", err: errors.New("dial tcp: lookup cognito-idp: no such host"), want: ErrProviderUnavailable},
		{
			name: "challenge",
			out:  &cognitoidentityprovider.InitiateAuthOutput{ChallengeName: types.ChallengeNameTypeNewPasswordRequired},
			want: ErrChallengeRequired,
		},
		{name: "empty result", out: &cognitoidentityprovider.InitiateAuthOutput{}, want: ErrNoToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newCognitoWithClient(&fakeCognito{out: tt.out, err: tt.err}, testCognitoConfig())
			_, err := p.Token(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsAuthError(err))
		})
	}
}

func TestCognitoProvider_TokenFailureKeepsCause(t *testing.T) {
	apiErr := &mockAPIError{code: "NotAuthorizedException", message: "Incorrect username or password."}
	p := newCognitoWithClient(&fakeCognito{err: apiErr}, testCognitoConfig())

	_, err := p.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.True(t, IsInvalidCredentials(err))
	assert.Contains(t, err.Error(), "Incorrect username or password.")

	var got smithy.APIError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, "NotAuthorizedException", got.ErrorCode())
}

func TestStatic(t *testing.T) {
	_, err := NewStatic("  ")
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "Token", ce.Field)

	s, err := NewStatic("abc")
	require.NoError(t, err)
	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Token(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// newIssuer starts a minimal OIDC issuer that supports discovery and the
// password grant for a single user.
func newIssuer(t *testing.T, tokenBody map[string]any) *httptest.Server {
	t.Helper()

	r := chi.NewRouter()
	var srv *httptest.Server
	r.Get("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/keys",
		})
	})
	r.Post("/token", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if req.FormValue("grant_type") != "password" ||
			req.FormValue("username") != "probe" || req.FormValue("password") != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		_ = json.NewEncoder(w).Encode(tokenBody)
	})

	srv = httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestOIDCProvider_Token(t *testing.T) {
	t.Run("prefers id token", func(t *testing.T) {
		srv := newIssuer(t, map[string]any{
			"access_token": "access", "token_type": "Bearer", "expires_in": 3600, "id_token": "id",
		})
		p, err := NewOIDC(OIDCConfig{IssuerURL: srv.URL, ClientID: "cli", Username: "probe", Password: "secret"})
		require.NoError(t, err)

		tok, err := p.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "id", tok)
	})

	t.Run("falls back to access token", func(t *testing.T) {
		srv := newIssuer(t, map[string]any{"access_token": "access", "token_type": "Bearer"})
		p, err := NewOIDC(OIDCConfig{IssuerURL: srv.URL, ClientID: "cli", Username: "probe", Password: "secret"})
		require.NoError(t, err)

		tok, err := p.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access", tok)
	})

	t.Run("bad password", func(t *testing.T) {
		srv := newIssuer(t, map[string]any{"access_token": "access", "token_type": "Bearer"})
		p, err := NewOIDC(OIDCConfig{IssuerURL: srv.URL, ClientID: "cli", Username: "probe", Password: "wrong"})
		require.NoError(t, err)

		_, err = p.Token(context.Background())
		require.Error(t, err)
		assert.True(t, IsInvalidCredentials(err))
	})

	t.Run("issuer unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		p, err := NewOIDC(OIDCConfig{IssuerURL: url, ClientID: "cli", Username: "probe", Password: "secret"})
		require.NoError(t, err)

		_, err = p.Token(context.Background())
		assert.ErrorIs(t, err, ErrProviderUnavailable)
	})
}

func TestNewOIDC_Validate(t *testing.T) {
	_, err := NewOIDC(OIDCConfig{ClientID: "cli", Username: "u", Password: "p"})
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "IssuerURL", ce.Field)
}

func TestInspect(t *testing.T) {
	exp := time.Date(2026, 1, 19, 13, 0, 0, 0, time.UTC)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "probe-user",
		Issuer:    "https://issuer.example.com",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("irrelevant"))
	require.NoError(t, err)

	info, err := Inspect(signed)
	require.NoError(t, err)
	assert.Equal(t, "probe-user", info.Subject)
	assert.Equal(t, "https://issuer.example.com", info.Issuer)
	require.NotNil(t, info.ExpiresAt)
	assert.True(t, exp.Equal(*info.ExpiresAt))

	now := exp.Add(-10 * time.Minute)
	assert.True(t, info.ExpiresWithin(now, 15*time.Minute))
	assert.False(t, info.ExpiresWithin(now, 5*time.Minute))

	_, err = Inspect("opaque-token")
	assert.ErrorIs(t, err, ErrNotJWT)

	var none *TokenInfo
	assert.False(t, none.ExpiresWithin(now, time.Hour))
}
