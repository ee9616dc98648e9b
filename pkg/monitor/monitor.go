// Package monitor drives a submitted job to a terminal outcome.
//
// A session is a sequence of poll steps: fetch status, account elapsed time
// per phase, then either end with an Outcome or wait PollInterval and poll
// again. The wait is the only suspension point and observes context
// cancellation.
//
// Timing always comes from the monitor's clock, never from durations the
// backend reports.
package monitor

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// Submission identifies the job a session monitors.
type Submission struct {
	JobID string
	Model string

	// SubmittedAt is the clock reading all elapsed time is measured from.
	SubmittedAt time.Time
}

// Progress describes one poll step. It is passed to the Observer after every
// successful status fetch.
type Progress struct {
	JobID          string
	Model          string
	Poll           int
	ReportedStatus string

	// Phase is the logical phase after this step.
	Phase Phase

	// Recognized is false when the backend reported a status the monitor
	// does not know.
	Recognized bool

	// Terminal is true when this step ends the session.
	Terminal bool

	QueuedElapsed   *time.Duration
	RunningElapsed  time.Duration
	TotalElapsed    time.Duration
	BackendDuration *float64
}

// Observer receives poll steps. Implementations must not block.
type Observer interface {
	Observe(p Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(p Progress)

// Observe calls f.
func (f ObserverFunc) Observe(p Progress) {
	f(p)
}

// Monitor runs polling sessions under a fixed Policy.
//
// A Monitor holds no per-session state and is safe for concurrent use; each
// Run owns its own State.
type Monitor struct {
	policy   Policy
	clock    clock.Clock
	observer Observer
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock used for elapsed time and waits.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithObserver sets the poll step observer.
func WithObserver(o Observer) Option {
	return func(m *Monitor) {
		m.observer = o
	}
}

// New creates a Monitor. The policy is validated.
func New(policy Policy, opts ...Option) (*Monitor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	m := &Monitor{
		policy: policy,
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Policy returns the monitor's policy.
func (m *Monitor) Policy() Policy {
	return m.policy
}

// Clock returns the monitor's clock.
func (m *Monitor) Clock() clock.Clock {
	return m.clock
}

// Run polls src until the job reaches a terminal outcome.
//
// Run always returns a non-nil Outcome. A status fetch error ends the
// session with KindStatusFetchFailed; it is not retried. Cancelling ctx
// ends the session with KindCancelled at the next step boundary or during
// the wait.
func (m *Monitor) Run(ctx context.Context, sub Submission, src StatusSource) *Outcome {
	st := newState()

	for {
		if err := ctx.Err(); err != nil {
			return m.cancelled(st, sub, err)
		}

		obs, err := src.FetchStatus(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return m.cancelled(st, sub, ctxErr)
			}
			o := st.outcome(KindStatusFetchFailed, sub)
			o.Err = fmt.Errorf("%w: %w", ErrStatusFetchFailed, err)
			return o
		}
		if obs == nil {
			obs = &Observation{}
		}

		outcome := m.step(st, sub, obs, m.clock.Since(sub.SubmittedAt))
		if outcome != nil {
			return outcome
		}

		if err := m.wait(ctx); err != nil {
			return m.cancelled(st, sub, err)
		}
	}
}

// step applies one observation and returns the terminal outcome, or nil if
// the session continues.
//
// Within a step, leaving the queue is recorded before any budget is
// compared, so a job first seen running at the exact budget boundary counts
// as started.
func (m *Monitor) step(st *State, sub Submission, obs *Observation, total time.Duration) *Outcome {
	phase, known := st.record(obs, total)

	var outcome *Outcome
	switch phase {
	case PhaseCompleted:
		kind := KindSuccess
		if m.policy.queuedWarningExceeded(st.QueuedElapsed) {
			kind = KindTimeoutWarning
		}
		outcome = st.outcome(kind, sub)
	case PhaseFailed:
		kind := KindJobFailed
		if m.policy.queuedWarningExceeded(st.QueuedElapsed) {
			kind = KindJobFailedWarning
		}
		outcome = st.outcome(kind, sub)
	default:
		outcome = m.checkBudgets(st, sub)
	}

	if outcome != nil && (outcome.Kind == KindTimeoutWarning || outcome.Kind == KindJobFailedWarning) {
		outcome.Budget = m.policy.Warning.QueuedWarning
	}

	m.notify(st, sub, known, outcome != nil)
	return outcome
}

// checkBudgets evaluates timeout budgets for a non-terminal step.
func (m *Monitor) checkBudgets(st *State, sub Submission) *Outcome {
	total := st.TotalElapsed

	if s := m.policy.Split; s != nil {
		if !st.Started() && total >= s.QueuedTimeout {
			o := st.outcome(KindQueuedTimeout, sub)
			o.Budget = s.QueuedTimeout
			return o
		}
		if total >= s.TotalTimeout {
			o := st.outcome(KindRunningOrTotalTimeout, sub)
			o.Budget = s.TotalTimeout
			return o
		}
		return nil
	}

	if w := m.policy.Warning; w != nil && total >= w.QueuedMax {
		kind := KindNeverStartedTimeout
		if st.Started() {
			kind = KindRunningTimeout
		}
		o := st.outcome(kind, sub)
		o.Budget = w.QueuedMax
		return o
	}
	return nil
}

func (m *Monitor) notify(st *State, sub Submission, known, terminal bool) {
	if m.observer == nil {
		return
	}
	p := Progress{
		JobID:           sub.JobID,
		Model:           sub.Model,
		Poll:            st.Polls,
		ReportedStatus:  st.ReportedStatus,
		Phase:           st.Phase,
		Recognized:      known,
		Terminal:        terminal,
		RunningElapsed:  st.RunningElapsed,
		TotalElapsed:    st.TotalElapsed,
		BackendDuration: st.BackendDuration,
	}
	if st.QueuedElapsed != nil {
		queued := *st.QueuedElapsed
		p.QueuedElapsed = &queued
	}
	m.observer.Observe(p)
}

// wait blocks for one poll interval or until ctx is done.
func (m *Monitor) wait(ctx context.Context) error {
	t := m.clock.NewTimer(m.policy.PollInterval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

func (m *Monitor) cancelled(st *State, sub Submission, err error) *Outcome {
	o := st.outcome(KindCancelled, sub)
	o.Err = fmt.Errorf("%w: %w", ErrCancelled, err)
	return o
}
