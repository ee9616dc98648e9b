package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/3leaps/jobprobe/internal/config"
	"github.com/3leaps/jobprobe/pkg/auth"
	"github.com/3leaps/jobprobe/pkg/backend"
	"github.com/3leaps/jobprobe/pkg/selector"
	"github.com/3leaps/jobprobe/pkg/sink"
)

// newTokenProvider builds the configured credential provider.
func newTokenProvider(ctx context.Context, cfg *config.Config) (auth.TokenProvider, error) {
	a := cfg.Auth
	switch auth.ProviderType(a.Provider) {
	case auth.ProviderCognito:
		return auth.NewCognito(ctx, auth.CognitoConfig{
			Region:   a.Region,
			ClientID: a.ClientID,
			Username: a.Username,
			Password: a.Password,
			Endpoint: a.Endpoint,
		})
	case auth.ProviderOIDC:
		return auth.NewOIDC(auth.OIDCConfig{
			IssuerURL: a.IssuerURL,
			ClientID:  a.ClientID,
			Scopes:    a.Scopes,
			Username:  a.Username,
			Password:  a.Password,
		})
	case auth.ProviderStatic:
		return auth.NewStatic(a.Token)
	}
	return nil, &config.ConfigError{Field: "auth.provider", Message: fmt.Sprintf("unsupported provider %q", a.Provider)}
}

// newBackendClient builds the job API client.
func newBackendClient(cfg *config.Config) (*backend.Client, error) {
	b := cfg.Backend
	return backend.New(backend.Config{
		BaseURL:        b.BaseURL,
		RequestTimeout: b.RequestTimeout,
		RateLimit:      b.RateLimit,
		Retries:        b.Retries,
		RetryDelay:     b.RetryDelay,
	})
}

// newSelector builds a model selector. A zero seed picks randomly.
func newSelector(patterns []string, seed uint64) (*selector.Selector, error) {
	var opts []selector.Option
	if seed != 0 {
		opts = append(opts, selector.WithSeed(seed))
	}
	return selector.New(patterns, opts...)
}

// newSessionSink builds the archive sinks enabled in cfg. It returns nil
// when none are.
func newSessionSink(ctx context.Context, cfg *config.Config) (sink.Sink, error) {
	var sinks []sink.Sink
	if cfg.Sink.Dir != "" {
		sinks = append(sinks, sink.NewFileSink(cfg.Sink.Dir))
	}
	if s3cfg := cfg.Sink.S3; s3cfg.Bucket != "" {
		s, err := sink.NewS3Sink(ctx, sink.S3Config{
			Bucket:          s3cfg.Bucket,
			Prefix:          s3cfg.Prefix,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			Profile:         s3cfg.Profile,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			ForcePathStyle:  s3cfg.ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sink.NewMulti(sinks...), nil
}

// openOutput opens the JSONL destination: "stdout" (or empty) or
// "file:<path>". A bare path is treated as a file.
func openOutput(dest string) (io.Writer, func(), error) {
	if dest == "" || dest == "stdout" {
		return os.Stdout, func() {}, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}
