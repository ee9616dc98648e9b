package monitor

import (
	"fmt"
	"time"
)

// DefaultPollInterval is used when a policy does not set one.
const DefaultPollInterval = time.Second

// Policy configures poll cadence and timeout budgets for a session.
//
// Exactly one of Split or Warning must be set. Policies are immutable once
// handed to a Monitor.
type Policy struct {
	// PollInterval is the wait between status checks.
	PollInterval time.Duration

	// Split bounds the time a job may stay queued and the time from
	// submission to completion.
	Split *SplitBudget

	// Warning soft-limits queue time and hard-limits time before completion.
	Warning *WarningBudget
}

// SplitBudget is the queued-timeout plus total-timeout policy shape.
type SplitBudget struct {
	// QueuedTimeout is the maximum time a job may remain not running.
	QueuedTimeout time.Duration

	// TotalTimeout is the maximum time from submission to completion.
	TotalTimeout time.Duration
}

// WarningBudget is the queued-warning plus hard-max policy shape.
type WarningBudget struct {
	// QueuedWarning reclassifies terminal outcomes as timeout-flavored when
	// the job spent at least this long queued.
	QueuedWarning time.Duration

	// QueuedMax is the hard ceiling on session time for non-terminal jobs.
	QueuedMax time.Duration
}

// NewSplitPolicy returns a policy using the split-budget shape.
func NewSplitPolicy(pollInterval, queuedTimeout, totalTimeout time.Duration) Policy {
	return Policy{
		PollInterval: pollInterval,
		Split:        &SplitBudget{QueuedTimeout: queuedTimeout, TotalTimeout: totalTimeout},
	}
}

// NewWarningPolicy returns a policy using the queued-warning plus max shape.
func NewWarningPolicy(pollInterval, queuedWarning, queuedMax time.Duration) Policy {
	return Policy{
		PollInterval: pollInterval,
		Warning:      &WarningBudget{QueuedWarning: queuedWarning, QueuedMax: queuedMax},
	}
}

// Shape returns "split" or "warning", or "" for an invalid policy.
func (p Policy) Shape() string {
	switch {
	case p.Split != nil && p.Warning == nil:
		return "split"
	case p.Warning != nil && p.Split == nil:
		return "warning"
	}
	return ""
}

// Validate checks that exactly one budget shape is configured and that all
// durations are usable.
func (p Policy) Validate() error {
	if p.PollInterval <= 0 {
		return &PolicyError{Field: "PollInterval", Message: "must be positive"}
	}
	switch {
	case p.Split == nil && p.Warning == nil:
		return &PolicyError{Field: "Split/Warning", Message: "one budget shape is required"}
	case p.Split != nil && p.Warning != nil:
		return &PolicyError{Field: "Split/Warning", Message: "budget shapes are mutually exclusive"}
	}

	if s := p.Split; s != nil {
		if s.QueuedTimeout <= 0 {
			return &PolicyError{Field: "QueuedTimeout", Message: "must be positive"}
		}
		if s.TotalTimeout <= 0 {
			return &PolicyError{Field: "TotalTimeout", Message: "must be positive"}
		}
		if s.QueuedTimeout > s.TotalTimeout {
			return &PolicyError{Field: "QueuedTimeout", Message: fmt.Sprintf("must not exceed total timeout (%s)", s.TotalTimeout)}
		}
	}
	if w := p.Warning; w != nil {
		if w.QueuedWarning <= 0 {
			return &PolicyError{Field: "QueuedWarning", Message: "must be positive"}
		}
		if w.QueuedMax <= 0 {
			return &PolicyError{Field: "QueuedMax", Message: "must be positive"}
		}
		if w.QueuedWarning > w.QueuedMax {
			return &PolicyError{Field: "QueuedWarning", Message: fmt.Sprintf("must not exceed queued max (%s)", w.QueuedMax)}
		}
	}
	return nil
}

// MaxDuration is the longest a session under this policy can poll before a
// budget ends it. It is zero for an invalid policy.
func (p Policy) MaxDuration() time.Duration {
	switch {
	case p.Split != nil:
		return p.Split.TotalTimeout
	case p.Warning != nil:
		return p.Warning.QueuedMax
	}
	return 0
}

// queuedWarningExceeded reports whether the warning threshold applies to a
// job that left the queue after queued.
func (p Policy) queuedWarningExceeded(queued *time.Duration) bool {
	if p.Warning == nil || queued == nil {
		return false
	}
	return *queued >= p.Warning.QueuedWarning
}

// PolicyError represents a policy validation error.
type PolicyError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *PolicyError) Error() string {
	return "monitor policy: " + e.Field + ": " + e.Message
}
