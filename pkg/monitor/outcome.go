package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind discriminates terminal outcomes.
//
// NOTE: These values are emitted in outcome records and are part of the
// stable output contract.
type Kind string

const (
	// KindSuccess means the backend reported completion within budget.
	KindSuccess Kind = "success"

	// KindTimeoutWarning means the job completed but spent at least the
	// queued-warning threshold in the queue.
	KindTimeoutWarning Kind = "timeout_warning"

	// KindJobFailed means the backend reported the job failed.
	KindJobFailed Kind = "job_failed"

	// KindJobFailedWarning means the job failed after spending at least the
	// queued-warning threshold in the queue.
	KindJobFailedWarning Kind = "job_failed_timeout_warning"

	// KindQueuedTimeout means the job never started within the queued budget.
	KindQueuedTimeout Kind = "queued_timeout"

	// KindRunningOrTotalTimeout means the job did not finish within the
	// total budget.
	KindRunningOrTotalTimeout Kind = "total_timeout"

	// KindRunningTimeout means the job started but did not finish before the
	// queued-max ceiling.
	KindRunningTimeout Kind = "running_timeout"

	// KindNeverStartedTimeout means the job never started before the
	// queued-max ceiling.
	KindNeverStartedTimeout Kind = "never_started_timeout"

	// KindStatusFetchFailed means a status fetch failed and the session was
	// aborted.
	KindStatusFetchFailed Kind = "status_fetch_failed"

	// KindCancelled means the caller aborted the session.
	KindCancelled Kind = "cancelled"

	// Pre-submission outcomes, produced by session orchestration.

	// KindAuthFailed means the credential provider failed.
	KindAuthFailed Kind = "auth_failed"

	// KindBackendFailed means a backend call before submission failed.
	KindBackendFailed Kind = "backend_failed"

	// KindNoModels means no model could be selected.
	KindNoModels Kind = "no_models_available"

	// KindSubmitFailed means the job submission failed.
	KindSubmitFailed Kind = "submit_failed"
)

// IsTimeout reports whether the kind is a policy-driven timeout outcome.
func (k Kind) IsTimeout() bool {
	switch k {
	case KindTimeoutWarning, KindJobFailedWarning, KindQueuedTimeout,
		KindRunningOrTotalTimeout, KindRunningTimeout, KindNeverStartedTimeout:
		return true
	}
	return false
}

// Outcome is the terminal result of a session.
//
// Outcomes are plain data. Rendering to logs or records is left to the
// caller.
type Outcome struct {
	Kind  Kind
	JobID string
	Model string

	// Phase is the last logical phase observed. Empty if no status was seen.
	Phase Phase

	// ReportedStatus is the last status string the backend returned.
	ReportedStatus string

	// QueuedElapsed is nil if the job never left the queue.
	QueuedElapsed  *time.Duration
	RunningElapsed time.Duration
	TotalElapsed   time.Duration

	// Polls is the number of status fetches that returned a status.
	Polls int

	// Budget is the exceeded budget for timeout outcomes.
	Budget time.Duration

	// BackendDuration is the last backend-reported duration, display-only.
	BackendDuration *float64

	// Raw is the last status payload, kept for failure diagnostics.
	Raw json.RawMessage

	// Err is the underlying error for fetch, cancellation and pre-submission
	// outcomes.
	Err error
}

// Succeeded reports whether the outcome is a clean success.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Kind == KindSuccess
}

// AsError returns nil for a success and an *OutcomeError otherwise.
func (o *Outcome) AsError() error {
	if o == nil {
		return &OutcomeError{Kind: KindCancelled, Err: errors.New("no outcome")}
	}
	if o.Succeeded() {
		return nil
	}
	return &OutcomeError{Kind: o.Kind, JobID: o.JobID, Model: o.Model, Err: o.Err}
}

// Sentinel errors that outcomes wrap.
var (
	// ErrStatusFetchFailed wraps status-source errors.
	ErrStatusFetchFailed = errors.New("status fetch failed")

	// ErrCancelled wraps caller cancellation.
	ErrCancelled = errors.New("session cancelled")
)

// OutcomeError is the error form of a non-success outcome.
type OutcomeError struct {
	Kind  Kind
	JobID string
	Model string
	Err   error
}

// Error implements the error interface.
func (e *OutcomeError) Error() string {
	msg := string(e.Kind)
	if e.JobID != "" {
		msg = fmt.Sprintf("%s: job %s", msg, e.JobID)
	}
	if e.Model != "" {
		msg = fmt.Sprintf("%s (model %s)", msg, e.Model)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OutcomeError) Unwrap() error {
	return e.Err
}
