// Package session drives one end-to-end probe: acquire a token, pick a
// model, submit a job, monitor it to a terminal outcome, then report,
// archive and export the result.
//
// Every session ends with exactly one Outcome, including sessions that fail
// before a job is submitted. Run only returns an error when reporting,
// archiving or exporting that outcome failed.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/3leaps/jobprobe/pkg/auth"
	"github.com/3leaps/jobprobe/pkg/metrics"
	"github.com/3leaps/jobprobe/pkg/monitor"
	"github.com/3leaps/jobprobe/pkg/output"
	"github.com/3leaps/jobprobe/pkg/prompt"
	"github.com/3leaps/jobprobe/pkg/selector"
	"github.com/3leaps/jobprobe/pkg/sink"
)

// TokenSource produces the session's bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Backend is the job API a session talks to.
type Backend interface {
	ListModels(ctx context.Context, token string) (json.RawMessage, error)
	SubmitJob(ctx context.Context, token, model string, p prompt.Params) (string, error)
	StatusSource(token, jobID string) monitor.StatusSource
}

// Config holds per-session settings.
type Config struct {
	Policy monitor.Policy
	Prompt prompt.Params

	// Model skips listing and selection when set.
	Model string

	// BackendURL is recorded in output envelopes and archives.
	BackendURL string

	// PushgatewayURL enables metrics export when set.
	PushgatewayURL string
	MetricsJob     string
}

// Deps are the collaborators a Runner uses. Auth, Backend and Selector are
// required; the rest are optional.
type Deps struct {
	Auth     TokenSource
	Backend  Backend
	Selector *selector.Selector

	// Output receives JSONL records. Nil discards them.
	Output io.Writer

	Logger  *zap.Logger
	Clock   clock.Clock
	Sink    sink.Sink
	Metrics *metrics.Recorder

	// NewID generates session IDs. Nil uses random UUIDs.
	NewID func() string
}

// Result is what a finished session produced.
type Result struct {
	SessionID string
	Outcome   *monitor.Outcome
	Record    *output.SessionRecord
}

// Runner runs probe sessions.
type Runner struct {
	cfg  Config
	deps Deps
}

// New creates a Runner.
func New(cfg Config, deps Deps) (*Runner, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if deps.Auth == nil {
		return nil, errors.New("session: token source is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("session: backend is required")
	}
	if deps.Selector == nil && cfg.Model == "" {
		return nil, errors.New("session: selector is required when no model is fixed")
	}
	if deps.Output == nil {
		deps.Output = io.Discard
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Runner{cfg: cfg, deps: deps}, nil
}

// session is the per-run state shared by Run and Watch.
type session struct {
	id       string
	record   *output.SessionRecord
	writer   *output.JSONLWriter
	reporter *output.Reporter
	logger   *zap.Logger
}

func (r *Runner) begin() *session {
	id := r.deps.NewID()
	w := output.NewJSONLWriter(r.deps.Output, id, r.cfg.BackendURL)
	logger := r.deps.Logger.With(zap.String("session_id", id))
	params := r.cfg.Prompt
	return &session{
		id: id,
		record: &output.SessionRecord{
			SessionID: id,
			Backend:   r.cfg.BackendURL,
			StartedAt: r.deps.Clock.Now().UTC(),
			Policy:    output.NewPolicyRecord(r.cfg.Policy),
			Prompt:    &params,
		},
		writer:   w,
		reporter: output.NewReporter(w, logger),
		logger:   logger,
	}
}

// Run executes a full session: token, model selection, submission and
// monitoring.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	s := r.begin()

	token, err := r.deps.Auth.Token(ctx)
	if err != nil {
		return r.finish(ctx, s, r.preSubmit(ctx, monitor.KindAuthFailed, "", err))
	}
	r.checkTokenExpiry(s, token)

	model := r.cfg.Model
	if model == "" {
		body, err := r.deps.Backend.ListModels(ctx, token)
		if err != nil {
			return r.finish(ctx, s, r.preSubmit(ctx, monitor.KindBackendFailed, "", err))
		}
		ids, err := selector.ParseModelList(body)
		if err != nil {
			return r.finish(ctx, s, r.preSubmit(ctx, monitor.KindNoModels, "", err))
		}
		model, err = r.deps.Selector.Pick(ids)
		if err != nil {
			return r.finish(ctx, s, r.preSubmit(ctx, monitor.KindNoModels, "", err))
		}
		s.logger.Debug("model selected", zap.String("model", model), zap.Int("candidates", len(ids)))
	}
	s.record.Model = model

	jobID, err := r.deps.Backend.SubmitJob(ctx, token, model, r.cfg.Prompt)
	if err != nil {
		return r.finish(ctx, s, r.preSubmit(ctx, monitor.KindSubmitFailed, model, err))
	}

	return r.monitor(ctx, s, token, jobID, model)
}

// Watch monitors a job that was submitted elsewhere. Elapsed time is
// measured from the moment Watch starts.
func (r *Runner) Watch(ctx context.Context, jobID, model string) (*Result, error) {
	s := r.begin()
	s.record.Model = model

	token, err := r.deps.Auth.Token(ctx)
	if err != nil {
		o := r.preSubmit(ctx, monitor.KindAuthFailed, model, err)
		o.JobID = jobID
		s.record.JobID = jobID
		return r.finish(ctx, s, o)
	}
	r.checkTokenExpiry(s, token)

	return r.monitor(ctx, s, token, jobID, model)
}

func (r *Runner) monitor(ctx context.Context, s *session, token, jobID, model string) (*Result, error) {
	submittedAt := r.deps.Clock.Now()
	at := submittedAt.UTC()
	s.record.JobID = jobID
	s.record.SubmittedAt = &at

	var errs []error
	if err := s.reporter.Submitted(ctx, s.record); err != nil {
		errs = append(errs, err)
	}

	mon, err := monitor.New(r.cfg.Policy,
		monitor.WithClock(r.deps.Clock),
		monitor.WithObserver(s.reporter),
	)
	if err != nil {
		return nil, err
	}

	outcome := mon.Run(ctx, monitor.Submission{
		JobID:       jobID,
		Model:       model,
		SubmittedAt: submittedAt,
	}, r.deps.Backend.StatusSource(token, jobID))

	res, err := r.finish(ctx, s, outcome)
	errs = append(errs, err)
	return res, errors.Join(errs...)
}

// preSubmit builds the outcome for a failure before monitoring began.
func (r *Runner) preSubmit(ctx context.Context, kind monitor.Kind, model string, err error) *monitor.Outcome {
	if ctx.Err() != nil {
		return &monitor.Outcome{
			Kind:  monitor.KindCancelled,
			Model: model,
			Err:   fmt.Errorf("%w: %w", monitor.ErrCancelled, err),
		}
	}
	return &monitor.Outcome{Kind: kind, Model: model, Err: err}
}

// finish reports, archives and exports the outcome. Reporting uses a
// context detached from cancellation so cancelled sessions are still
// recorded.
func (r *Runner) finish(ctx context.Context, s *session, o *monitor.Outcome) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	finished := r.deps.Clock.Now().UTC()
	s.record.FinishedAt = &finished

	var errs []error
	rec, err := s.reporter.Finished(ctx, o)
	if err != nil {
		errs = append(errs, err)
	}
	s.record.Outcome = rec

	if r.deps.Sink != nil {
		if err := r.deps.Sink.Store(ctx, s.record); err != nil {
			s.logger.Error("Failed to archive session", zap.String("sink", r.deps.Sink.Name()), zap.Error(err))
			errs = append(errs, err)
		}
	}

	if r.deps.Metrics != nil {
		r.deps.Metrics.Observe(o)
		if r.cfg.PushgatewayURL != "" {
			if err := r.deps.Metrics.Push(ctx, r.cfg.PushgatewayURL, r.cfg.MetricsJob, map[string]string{
				"backend": r.cfg.BackendURL,
			}); err != nil {
				s.logger.Error("Failed to push metrics", zap.Error(err))
				errs = append(errs, err)
			}
		}
	}

	_ = s.writer.Close()
	return &Result{SessionID: s.id, Outcome: o, Record: s.record}, errors.Join(errs...)
}

// checkTokenExpiry warns when the token will lapse before the session's
// longest possible run. Tokens are never refreshed mid-session.
func (r *Runner) checkTokenExpiry(s *session, token string) {
	info, err := auth.Inspect(token)
	if err != nil {
		s.logger.Debug("token expiry unknown", zap.Error(err))
		return
	}
	budget := r.cfg.Policy.MaxDuration() + r.cfg.Policy.PollInterval
	now := r.deps.Clock.Now()
	if info.ExpiresWithin(now, budget) {
		s.logger.Warn("token may expire before the session budget elapses",
			zap.Time("expires_at", *info.ExpiresAt),
			zap.Duration("remaining", info.ExpiresAt.Sub(now).Round(time.Second)),
			zap.Duration("budget", budget),
		)
	}
}
