// Package output provides JSONL output for probe sessions.
//
// Output is structured as typed record envelopes containing the session
// header, per-poll observations, the terminal outcome and errors. Each line
// is a self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/jobprobe/pkg/monitor"
	"github.com/3leaps/jobprobe/pkg/prompt"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: jobprobe.<type>.v<version>
const (
	// TypeSession identifies the session header, emitted once a job is
	// submitted.
	TypeSession = "jobprobe.session.v1"

	// TypeObservation identifies per-poll observation records.
	TypeObservation = "jobprobe.observation.v1"

	// TypeOutcome identifies the terminal outcome record.
	TypeOutcome = "jobprobe.outcome.v1"

	// TypeError identifies error records.
	TypeError = "jobprobe.error.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "jobprobe.outcome.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// SessionID is the correlation ID for this probe session.
	SessionID string `json:"session_id"`

	// Backend is the base URL of the job API under test.
	Backend string `json:"backend"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// SessionRecord describes one probe session. It is emitted when the job is
// submitted and, with Outcome filled in, archived by sinks at the end.
type SessionRecord struct {
	SessionID   string         `json:"session_id"`
	Backend     string         `json:"backend"`
	Model       string         `json:"model,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	SubmittedAt *time.Time     `json:"submitted_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Policy      PolicyRecord   `json:"policy"`
	Prompt      *prompt.Params `json:"prompt,omitempty"`
	Outcome     *OutcomeRecord `json:"outcome,omitempty"`
}

// PolicyRecord is the wire form of a monitor.Policy. Durations are seconds.
type PolicyRecord struct {
	Shape         string   `json:"shape"`
	PollInterval  float64  `json:"poll_interval"`
	QueuedTimeout *float64 `json:"queued_timeout,omitempty"`
	TotalTimeout  *float64 `json:"total_timeout,omitempty"`
	QueuedWarning *float64 `json:"queued_warning,omitempty"`
	QueuedMax     *float64 `json:"queued_max,omitempty"`
}

// NewPolicyRecord converts a policy for output.
func NewPolicyRecord(p monitor.Policy) PolicyRecord {
	rec := PolicyRecord{
		Shape:        p.Shape(),
		PollInterval: p.PollInterval.Seconds(),
	}
	if p.Split != nil {
		rec.QueuedTimeout = seconds(p.Split.QueuedTimeout)
		rec.TotalTimeout = seconds(p.Split.TotalTimeout)
	}
	if p.Warning != nil {
		rec.QueuedWarning = seconds(p.Warning.QueuedWarning)
		rec.QueuedMax = seconds(p.Warning.QueuedMax)
	}
	return rec
}

// ObservationRecord is the data payload for one poll step.
type ObservationRecord struct {
	JobID           string   `json:"job_id"`
	Model           string   `json:"model"`
	Poll            int      `json:"poll"`
	CurrentStatus   string   `json:"current_status"`
	Phase           string   `json:"phase"`
	Recognized      bool     `json:"recognized"`
	Terminal        bool     `json:"terminal"`
	QueuedTime      *float64 `json:"queued_time,omitempty"`
	RunningTime     float64  `json:"running_time"`
	JobTime         float64  `json:"job_time"`
	BackendDuration *float64 `json:"backend_duration,omitempty"`
}

// NewObservationRecord converts a poll step for output.
func NewObservationRecord(p monitor.Progress) *ObservationRecord {
	rec := &ObservationRecord{
		JobID:           p.JobID,
		Model:           p.Model,
		Poll:            p.Poll,
		CurrentStatus:   p.ReportedStatus,
		Phase:           string(p.Phase),
		Recognized:      p.Recognized,
		Terminal:        p.Terminal,
		RunningTime:     p.RunningElapsed.Seconds(),
		JobTime:         p.TotalElapsed.Seconds(),
		BackendDuration: p.BackendDuration,
	}
	if p.QueuedElapsed != nil {
		rec.QueuedTime = seconds(*p.QueuedElapsed)
	}
	return rec
}

// OutcomeRecord is the data payload for a terminal outcome. Times are
// seconds measured by the probe's own clock; BackendDuration is whatever the
// backend reported and is not used for classification.
type OutcomeRecord struct {
	Kind            string          `json:"kind"`
	Success         bool            `json:"success"`
	JobID           string          `json:"job_id,omitempty"`
	Model           string          `json:"model,omitempty"`
	Phase           string          `json:"phase,omitempty"`
	CurrentStatus   string          `json:"current_status,omitempty"`
	QueuedTime      *float64        `json:"queued_time,omitempty"`
	RunningTime     float64         `json:"running_time"`
	JobTime         float64         `json:"job_time"`
	Polls           int             `json:"polls"`
	Budget          *float64        `json:"budget,omitempty"`
	BackendDuration *float64        `json:"backend_duration,omitempty"`
	Raw             json.RawMessage `json:"raw,omitempty"`
	Error           string          `json:"error,omitempty"`
	Code            string          `json:"code,omitempty"`
}

// NewOutcomeRecord converts an outcome for output.
func NewOutcomeRecord(o *monitor.Outcome) *OutcomeRecord {
	rec := &OutcomeRecord{
		Kind:            string(o.Kind),
		Success:         o.Succeeded(),
		JobID:           o.JobID,
		Model:           o.Model,
		Phase:           string(o.Phase),
		CurrentStatus:   o.ReportedStatus,
		RunningTime:     o.RunningElapsed.Seconds(),
		JobTime:         o.TotalElapsed.Seconds(),
		Polls:           o.Polls,
		BackendDuration: o.BackendDuration,
	}
	if o.QueuedElapsed != nil {
		rec.QueuedTime = seconds(*o.QueuedElapsed)
	}
	if o.Budget > 0 {
		rec.Budget = seconds(o.Budget)
	}
	if len(o.Raw) > 0 && json.Valid(o.Raw) {
		rec.Raw = o.Raw
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	if !rec.Success {
		rec.Code = ErrorCodeFor(o.Kind)
	}
	return rec
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// JobID is the job related to this error, if one was submitted.
	JobID string `json:"job_id,omitempty"`

	// Model is the selected model, if selection happened.
	Model string `json:"model,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeAuth       = "AUTH_FAILED"
	ErrCodeBackend    = "BACKEND_ERROR"
	ErrCodeNoModels   = "NO_MODELS"
	ErrCodeTimeout    = "TIMEOUT"
	ErrCodeJobFailed  = "JOB_FAILED"
	ErrCodeCancelled  = "CANCELLED"
	ErrCodeInternal   = "INTERNAL"
	ErrCodeStatusRead = "STATUS_FETCH_FAILED"
)

// ErrorCodeFor maps an outcome kind to its error code. Success maps to "".
func ErrorCodeFor(k monitor.Kind) string {
	switch k {
	case monitor.KindSuccess:
		return ""
	case monitor.KindAuthFailed:
		return ErrCodeAuth
	case monitor.KindBackendFailed, monitor.KindSubmitFailed:
		return ErrCodeBackend
	case monitor.KindNoModels:
		return ErrCodeNoModels
	case monitor.KindJobFailed, monitor.KindJobFailedWarning:
		return ErrCodeJobFailed
	case monitor.KindStatusFetchFailed:
		return ErrCodeStatusRead
	case monitor.KindCancelled:
		return ErrCodeCancelled
	}
	if k.IsTimeout() {
		return ErrCodeTimeout
	}
	return ErrCodeInternal
}

func seconds(d time.Duration) *float64 {
	s := d.Seconds()
	return &s
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
