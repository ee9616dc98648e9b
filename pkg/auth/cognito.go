package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
)

// CognitoConfig configures a Cognito user-pool login.
//
// The app client must allow the USER_PASSWORD_AUTH flow and must not have a
// client secret.
type CognitoConfig struct {
	// Region is the user pool's AWS region (required).
	Region string

	// ClientID is the user pool app client ID (required).
	ClientID string

	Username string
	Password string

	// Endpoint overrides the Cognito endpoint. Used for local emulators.
	Endpoint string
}

// Validate checks that required configuration is present.
func (c *CognitoConfig) Validate() error {
	switch {
	case c.Region == "":
		return &ConfigError{Field: "Region", Message: "region is required"}
	case c.ClientID == "":
		return &ConfigError{Field: "ClientID", Message: "client id is required"}
	case c.Username == "":
		return &ConfigError{Field: "Username", Message: "username is required"}
	case c.Password == "":
		return &ConfigError{Field: "Password", Message: "password is required"}
	}
	return nil
}

// initiateAuthAPI is the subset of the Cognito client used here.
type initiateAuthAPI interface {
	InitiateAuth(ctx context.Context, params *cognitoidentityprovider.InitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error)
}

// CognitoProvider authenticates with USER_PASSWORD_AUTH and returns the ID
// token.
type CognitoProvider struct {
	client   initiateAuthAPI
	clientID string
	username string
	password string
}

var _ TokenProvider = (*CognitoProvider)(nil)

// NewCognito creates a Cognito provider.
//
// InitiateAuth is an unauthenticated API, so the client is built with
// anonymous AWS credentials; no local AWS profile is needed.
func NewCognito(ctx context.Context, cfg CognitoConfig) (*CognitoProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, &AuthError{Provider: ProviderCognito, Err: err}
	}

	var opts []func(*cognitoidentityprovider.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *cognitoidentityprovider.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return newCognitoWithClient(cognitoidentityprovider.NewFromConfig(awsCfg, opts...), cfg), nil
}

func newCognitoWithClient(client initiateAuthAPI, cfg CognitoConfig) *CognitoProvider {
	return &CognitoProvider{
		client:   client,
		clientID: cfg.ClientID,
		username: cfg.Username,
		password: cfg.Password,
	}
}

// Token performs the password login and returns the ID token.
func (p *CognitoProvider) Token(ctx context.Context) (string, error) {
	out, err := p.client.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(p.clientID),
		AuthParameters: map[string]string{
			"USERNAME": p.username,
			"PASSWORD": p.password,
		},
	})
	if err != nil {
		return "", wrapCognitoError(err)
	}

	if out.ChallengeName != "" {
		return "", &AuthError{Provider: ProviderCognito, Err: ErrChallengeRequired}
	}
	if out.AuthenticationResult == nil || aws.ToString(out.AuthenticationResult.IdToken) == "" {
		return "", &AuthError{Provider: ProviderCognito, Err: ErrNoToken}
	}
	return aws.ToString(out.AuthenticationResult.IdToken), nil
}

// Type returns ProviderCognito.
func (p *CognitoProvider) Type() ProviderType {
	return ProviderCognito
}

// wrapCognitoError converts Cognito errors to auth errors with sentinel causes.
func wrapCognitoError(err error) error {
	wrapped := &AuthError{Provider: ProviderCognito, Err: err}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotAuthorizedException", "UserNotFoundException", "UserNotConfirmedException":
			wrapped.Err = fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		case "PasswordResetRequiredException":
			wrapped.Err = fmt.Errorf("%w: %w", ErrChallengeRequired, err)
		case "TooManyRequestsException", "LimitExceededException":
			wrapped.Err = fmt.Errorf("%w: %w", ErrThrottled, err)
		case "InternalErrorException", "ServiceUnavailable":
			wrapped.Err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
		return wrapped
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "NotAuthorized"):
		wrapped.Err = fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	case strings.Contains(msg, "TooManyRequests"):
		wrapped.Err = fmt.Errorf("%w: %w", ErrThrottled, err)
	case strings.Contains(msg, "dial tcp") || strings.Contains(msg, "no such host"):
		wrapped.Err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return wrapped
}
