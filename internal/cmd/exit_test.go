package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"

	"github.com/3leaps/jobprobe/pkg/monitor"
	"github.com/3leaps/jobprobe/pkg/session"
)

func TestExitError(t *testing.T) {
	cause := errors.New("boom")
	err := exitError(int(foundry.ExitInvalidArgument), "Invalid configuration", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Invalid configuration: boom")
	assert.Equal(t, int(foundry.ExitInvalidArgument), ExitCode(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), ExitCode(wrapped))

	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))
}

func TestOutcomeExitCode(t *testing.T) {
	tests := []struct {
		kind monitor.Kind
		want int
	}{
		{monitor.KindSuccess, 0},
		{monitor.KindCancelled, int(foundry.ExitSignalInt)},
		{monitor.KindQueuedTimeout, int(foundry.ExitExternalServiceUnavailable)},
		{monitor.KindTimeoutWarning, int(foundry.ExitExternalServiceUnavailable)},
		{monitor.KindJobFailed, int(foundry.ExitExternalServiceUnavailable)},
		{monitor.KindAuthFailed, int(foundry.ExitExternalServiceUnavailable)},
		{monitor.KindStatusFetchFailed, int(foundry.ExitExternalServiceUnavailable)},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, outcomeExitCode(tt.kind))
		})
	}
}

func TestSessionResult(t *testing.T) {
	recordErr := errors.New("sink down")

	tests := []struct {
		name     string
		res      *session.Result
		err      error
		wantCode int
	}{
		{
			name:     "success",
			res:      &session.Result{Outcome: &monitor.Outcome{Kind: monitor.KindSuccess}},
			wantCode: 0,
		},
		{
			name:     "success but archive failed",
			res:      &session.Result{Outcome: &monitor.Outcome{Kind: monitor.KindSuccess}},
			err:      recordErr,
			wantCode: int(foundry.ExitFileWriteError),
		},
		{
			name:     "timeout",
			res:      &session.Result{Outcome: &monitor.Outcome{Kind: monitor.KindNeverStartedTimeout, JobID: "j1"}},
			wantCode: int(foundry.ExitExternalServiceUnavailable),
		},
		{
			name:     "cancelled",
			res:      &session.Result{Outcome: &monitor.Outcome{Kind: monitor.KindCancelled}},
			wantCode: int(foundry.ExitSignalInt),
		},
		{
			name:     "no result",
			err:      recordErr,
			wantCode: int(foundry.ExitExternalServiceUnavailable),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sessionResult(tt.res, tt.err)
			assert.Equal(t, tt.wantCode, ExitCode(err))
		})
	}

	err := sessionResult(&session.Result{Outcome: &monitor.Outcome{Kind: monitor.KindJobFailed, JobID: "j1"}}, nil)
	var oe *monitor.OutcomeError
	assert.ErrorAs(t, err, &oe)
	assert.Equal(t, "j1", oe.JobID)
}
