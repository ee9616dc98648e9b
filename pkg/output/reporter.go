package output

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/jobprobe/pkg/monitor"
)

// Reporter renders a session to the log and to a record Writer.
//
// Successful outcomes log at info, intermediate observations at debug, and
// every failure or timeout at error. Reporter implements monitor.Observer
// so it can be handed straight to the monitor.
type Reporter struct {
	w      Writer
	logger *zap.Logger

	mu       sync.Mutex
	writeErr error
}

var _ monitor.Observer = (*Reporter)(nil)

// NewReporter creates a Reporter. A nil logger discards log output.
func NewReporter(w Writer, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{w: w, logger: logger}
}

// Submitted records the session header after the job was accepted.
func (r *Reporter) Submitted(ctx context.Context, rec *SessionRecord) error {
	r.logger.Info("job submitted",
		zap.String("session_id", rec.SessionID),
		zap.String("job_id", rec.JobID),
		zap.String("model", rec.Model),
		zap.String("policy", rec.Policy.Shape),
	)
	return r.w.WriteSession(ctx, rec)
}

// Observe implements monitor.Observer.
func (r *Reporter) Observe(p monitor.Progress) {
	if !p.Terminal {
		fields := []zap.Field{
			zap.String("job_id", p.JobID),
			zap.String("model", p.Model),
			zap.Int("poll", p.Poll),
			zap.String("status", p.ReportedStatus),
			zap.Duration("job_time", p.TotalElapsed),
		}
		if p.QueuedElapsed != nil {
			fields = append(fields, zap.Duration("queued_time", *p.QueuedElapsed))
		}
		if !p.Recognized {
			fields = append(fields, zap.Bool("unrecognized", true))
		}
		r.logger.Debug("job still running - current status: "+p.ReportedStatus, fields...)
	}

	// Observers cannot fail the monitor; the first write error is kept for
	// Finished to report.
	if err := r.w.WriteObservation(context.Background(), NewObservationRecord(p)); err != nil {
		r.mu.Lock()
		if r.writeErr == nil {
			r.writeErr = err
		}
		r.mu.Unlock()
	}
}

// Finished renders the terminal outcome and returns its record.
//
// The returned error joins any observation write failure with the failure to
// write the outcome itself; the record is returned either way.
func (r *Reporter) Finished(ctx context.Context, o *monitor.Outcome) (*OutcomeRecord, error) {
	rec := NewOutcomeRecord(o)
	r.log(o)

	var errs []error
	r.mu.Lock()
	if r.writeErr != nil {
		errs = append(errs, r.writeErr)
	}
	r.mu.Unlock()

	if err := r.w.WriteOutcome(ctx, rec); err != nil {
		errs = append(errs, err)
	}
	if !rec.Success {
		msg := string(o.Kind)
		if o.Err != nil {
			msg = o.Err.Error()
		}
		if err := r.w.WriteError(ctx, &ErrorRecord{
			Code:    rec.Code,
			Message: msg,
			JobID:   o.JobID,
			Model:   o.Model,
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return rec, errors.Join(errs...)
}

func (r *Reporter) log(o *monitor.Outcome) {
	fields := []zap.Field{
		zap.String("kind", string(o.Kind)),
		zap.String("job_id", o.JobID),
		zap.String("model", o.Model),
		zap.Duration("job_time", o.TotalElapsed),
		zap.Duration("running_time", o.RunningElapsed),
		zap.Int("polls", o.Polls),
	}
	if o.QueuedElapsed != nil {
		fields = append(fields, zap.Duration("queued_time", *o.QueuedElapsed))
	}
	if o.ReportedStatus != "" {
		fields = append(fields, zap.String("current_status", o.ReportedStatus))
	}
	if o.BackendDuration != nil {
		fields = append(fields, zap.Float64("backend_duration", *o.BackendDuration))
	}
	if o.Budget > 0 {
		fields = append(fields, zap.Duration("budget", o.Budget))
	}

	if o.Succeeded() {
		r.logger.Info("job completed", fields...)
		return
	}
	if o.Err != nil {
		fields = append(fields, zap.Error(o.Err))
	}
	if len(o.Raw) > 0 && (o.Kind == monitor.KindJobFailed || o.Kind == monitor.KindJobFailedWarning) {
		fields = append(fields, zap.ByteString("raw", o.Raw))
	}
	r.logger.Error("job "+string(o.Kind), fields...)
}
