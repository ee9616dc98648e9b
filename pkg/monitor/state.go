package monitor

import (
	"encoding/json"
	"time"
)

// State is the mutable accounting for one session.
//
// A State is owned by a single Run call and discarded when the session
// ends.
type State struct {
	Phase          Phase
	ReportedStatus string

	// QueuedElapsed is set once, on the first observation that the job left
	// the queue (running, completed or failed).
	QueuedElapsed *time.Duration

	// RunningElapsed is zero until QueuedElapsed is set.
	RunningElapsed time.Duration

	TotalElapsed time.Duration
	Polls        int

	BackendDuration *float64
	Raw             json.RawMessage
}

func newState() *State {
	return &State{Phase: PhaseQueued}
}

// Started reports whether the job has left the queue.
func (s *State) Started() bool {
	return s.QueuedElapsed != nil
}

// record applies one observation taken total after submission and returns
// the recognized phase (empty if unrecognized).
func (s *State) record(obs *Observation, total time.Duration) (Phase, bool) {
	// Clock readings can jitter backwards across polls; accounting never does.
	if total < s.TotalElapsed {
		total = s.TotalElapsed
	}
	s.TotalElapsed = total
	s.Polls++
	s.ReportedStatus = obs.Status
	s.BackendDuration = obs.BackendDuration
	s.Raw = obs.Raw

	phase, known := ParsePhase(obs.Status)
	if !known {
		// Unrecognized statuses keep the previous logical phase.
		s.RunningElapsed = s.runningSince(total)
		return "", false
	}

	if phase != PhaseQueued && !s.Started() {
		queued := total
		s.QueuedElapsed = &queued
	}
	s.Phase = phase
	s.RunningElapsed = s.runningSince(total)
	return phase, true
}

func (s *State) runningSince(total time.Duration) time.Duration {
	if s.QueuedElapsed == nil {
		return 0
	}
	return total - *s.QueuedElapsed
}

// outcome snapshots the state into an Outcome of the given kind.
func (s *State) outcome(kind Kind, sub Submission) *Outcome {
	o := &Outcome{
		Kind:            kind,
		JobID:           sub.JobID,
		Model:           sub.Model,
		Phase:           s.Phase,
		ReportedStatus:  s.ReportedStatus,
		RunningElapsed:  s.RunningElapsed,
		TotalElapsed:    s.TotalElapsed,
		Polls:           s.Polls,
		BackendDuration: s.BackendDuration,
		Raw:             s.Raw,
	}
	if s.QueuedElapsed != nil {
		queued := *s.QueuedElapsed
		o.QueuedElapsed = &queued
	}
	if s.Polls == 0 {
		o.Phase = ""
	}
	return o
}
