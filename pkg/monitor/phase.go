package monitor

import (
	"context"
	"encoding/json"
	"strings"
)

// Phase is the logical lifecycle stage of a job.
//
// NOTE: These values appear in outcome records and are part of the stable
// output contract.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// ParsePhase maps a backend status string onto a logical phase.
//
// Matching is case-insensitive and ignores surrounding whitespace. The
// second return value is false for statuses the monitor does not recognize;
// those are non-terminal and the returned phase is empty.
func ParsePhase(status string) (Phase, bool) {
	switch Phase(strings.ToLower(strings.TrimSpace(status))) {
	case PhaseQueued:
		return PhaseQueued, true
	case PhaseRunning:
		return PhaseRunning, true
	case PhaseCompleted:
		return PhaseCompleted, true
	case PhaseFailed:
		return PhaseFailed, true
	}
	return "", false
}

// IsTerminal reports whether the phase ends a session.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// String returns the phase name.
func (p Phase) String() string {
	return string(p)
}

// Observation is one status fetch as reported by the backend.
type Observation struct {
	// Status is the raw status string (e.g., "queued").
	Status string

	// BackendDuration is the backend-computed job duration in seconds, if the
	// backend reported one. It is display-only; the monitor never uses it for
	// timing.
	BackendDuration *float64

	// Raw is the full status payload.
	Raw json.RawMessage
}

// StatusSource performs one status fetch per call.
type StatusSource interface {
	FetchStatus(ctx context.Context) (*Observation, error)
}

// StatusSourceFunc adapts a function to StatusSource.
type StatusSourceFunc func(ctx context.Context) (*Observation, error)

// FetchStatus calls f.
func (f StatusSourceFunc) FetchStatus(ctx context.Context) (*Observation, error) {
	return f(ctx)
}
