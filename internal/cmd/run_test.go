package cmd

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobprobe/internal/config"
	"github.com/3leaps/jobprobe/internal/server"
	"github.com/3leaps/jobprobe/internal/server/jobs"
	"github.com/3leaps/jobprobe/pkg/monitor"
	"github.com/3leaps/jobprobe/pkg/selector"
	"github.com/3leaps/jobprobe/pkg/sink"
)

// startFakeBackend serves the in-process fake backend with the given
// schedule and a "secret" bearer token.
func startFakeBackend(t *testing.T, schedule jobs.Schedule) string {
	t.Helper()
	sim, err := jobs.New(jobs.Config{Models: []string{"sd-xl", "flux"}, Schedule: schedule, Seed: 1})
	require.NoError(t, err)
	srv := httptest.NewServer(server.New("127.0.0.1", 0, sim, server.WithToken("secret")).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func runConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Backend: config.BackendConfig{BaseURL: baseURL, RequestTimeout: 5 * time.Second},
		Auth:    config.AuthConfig{Provider: "static", Token: "secret"},
		Policy: config.PolicyConfig{
			PollInterval:  10 * time.Millisecond,
			QueuedTimeout: 5 * time.Second,
			TotalTimeout:  10 * time.Second,
		},
		Output:  config.OutputConfig{Destination: "file:" + filepath.Join(dir, "probe.jsonl")},
		Sink:    config.SinkConfig{Dir: filepath.Join(dir, "sessions")},
		Logging: config.LoggingConfig{Level: "info", Profile: "structured"},
	}
}

func TestRunSession_AgainstFakeBackend(t *testing.T) {
	tests := []struct {
		name     string
		schedule jobs.Schedule
		model    string
		wantKind monitor.Kind
		wantCode int
	}{
		{
			name:     "completes",
			schedule: jobs.Schedule{QueuedFor: 20 * time.Millisecond, RunningFor: 20 * time.Millisecond},
			wantKind: monitor.KindSuccess,
			wantCode: 0,
		},
		{
			name:     "fixed model",
			model:    "flux",
			wantKind: monitor.KindSuccess,
			wantCode: 0,
		},
		{
			name:     "job fails",
			schedule: jobs.Schedule{ForceStatus: jobs.StatusFailed},
			wantKind: monitor.KindJobFailed,
			wantCode: int(foundry.ExitExternalServiceUnavailable),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := runConfig(t, startFakeBackend(t, tt.schedule))

			runner, cleanup, err := newRunner(context.Background(), cfg, tt.model, mustSelector(t, tt.model))
			require.NoError(t, err)

			res, runErr := runner.Run(context.Background())
			cleanup()
			require.NotNil(t, res)
			assert.Equal(t, tt.wantKind, res.Outcome.Kind)
			assert.Equal(t, tt.wantCode, ExitCode(sessionResult(res, runErr)))
			assert.NotEmpty(t, res.Outcome.JobID)
			if tt.model != "" {
				assert.Equal(t, tt.model, res.Outcome.Model)
			}

			out, err := os.ReadFile(filepath.Join(filepath.Dir(cfg.Sink.Dir), "probe.jsonl"))
			require.NoError(t, err)
			assert.Contains(t, string(out), res.Outcome.JobID)
			assert.Contains(t, string(out), res.SessionID)

			archived, err := sink.NewFileSink(cfg.Sink.Dir).List()
			require.NoError(t, err)
			require.Len(t, archived, 1)
			assert.Equal(t, res.SessionID, archived[0].SessionID)
			require.NotNil(t, archived[0].Outcome)
			assert.Equal(t, string(tt.wantKind), archived[0].Outcome.Kind)
		})
	}
}

func TestRunSession_WrongToken(t *testing.T) {
	cfg := runConfig(t, startFakeBackend(t, jobs.Schedule{}))
	cfg.Auth.Token = "wrong"

	runner, cleanup, err := newRunner(context.Background(), cfg, "", mustSelector(t, ""))
	require.NoError(t, err)
	defer cleanup()

	res, runErr := runner.Run(context.Background())
	require.NotNil(t, res)
	assert.False(t, res.Outcome.Succeeded())
	assert.Empty(t, res.Outcome.JobID)
	assert.Equal(t, int(foundry.ExitExternalServiceUnavailable), ExitCode(sessionResult(res, runErr)))
}

func TestNewRunner_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "unknown provider", mutate: func(c *config.Config) { c.Auth.Provider = "kerberos" }},
		{name: "no poll interval", mutate: func(c *config.Config) { c.Policy.PollInterval = 0 }},
		{name: "queued exceeds total", mutate: func(c *config.Config) { c.Policy.QueuedTimeout = time.Hour }},
		{name: "missing prompt file", mutate: func(c *config.Config) { c.Prompt.File = "/nonexistent/prompt.yaml" }},
		{name: "no backend", mutate: func(c *config.Config) { c.Backend.BaseURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := runConfig(t, "http://127.0.0.1:9")
			tt.mutate(cfg)
			_, _, err := newRunner(context.Background(), cfg, "", mustSelector(t, ""))
			require.Error(t, err)
			assert.Equal(t, int(foundry.ExitInvalidArgument), ExitCode(err))
		})
	}
}

func mustSelector(t *testing.T, model string) *selector.Selector {
	t.Helper()
	if model != "" {
		return nil
	}
	sel, err := newSelector(nil, 42)
	require.NoError(t, err)
	return sel
}
