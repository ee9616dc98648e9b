package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/jobprobe/internal/config"
)

// policyFlags are the budget overrides shared by run and watch.
type policyFlags struct {
	pollInterval  time.Duration
	queuedTimeout time.Duration
	totalTimeout  time.Duration
	queuedWarning time.Duration
	queuedMax     time.Duration
}

func (f *policyFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.DurationVar(&f.pollInterval, "poll-interval", 0, "Wait between status polls (overrides policy.poll_interval)")
	fs.DurationVar(&f.queuedTimeout, "queued-timeout", 0, "Split budget: max time before the job starts running")
	fs.DurationVar(&f.totalTimeout, "total-timeout", 0, "Split budget: max time from submission to completion")
	fs.DurationVar(&f.queuedWarning, "queued-warning", 0, "Warning budget: queue time that flags an otherwise clean outcome")
	fs.DurationVar(&f.queuedMax, "queued-max", 0, "Warning budget: hard ceiling on session time")
}

// apply copies changed flags onto p. Setting flags from one budget shape
// selects that shape; mixing shapes is an error.
func (f *policyFlags) apply(cmd *cobra.Command, p *config.PolicyConfig) error {
	changed := cmd.Flags().Changed
	split := changed("queued-timeout") || changed("total-timeout")
	warning := changed("queued-warning") || changed("queued-max")
	if split && warning {
		return fmt.Errorf("--queued-timeout/--total-timeout and --queued-warning/--queued-max select different budget shapes")
	}

	if changed("poll-interval") {
		p.PollInterval = f.pollInterval
	}
	if split {
		p.Shape = config.ShapeSplit
		if changed("queued-timeout") {
			p.QueuedTimeout = f.queuedTimeout
		}
		if changed("total-timeout") {
			p.TotalTimeout = f.totalTimeout
		}
	}
	if warning {
		p.Shape = config.ShapeWarning
		if changed("queued-warning") {
			p.QueuedWarning = f.queuedWarning
		}
		if changed("queued-max") {
			p.QueuedMax = f.queuedMax
		}
		if p.QueuedWarning <= 0 || p.QueuedMax <= 0 {
			return fmt.Errorf("the warning budget needs both --queued-warning and --queued-max (or policy.queued_warning and policy.queued_max in config)")
		}
	}
	return nil
}
