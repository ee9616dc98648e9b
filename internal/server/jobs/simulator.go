// Package jobs simulates a generative-inference job queue for the fake
// backend. Job status is derived from elapsed time on an injectable clock,
// so tests can walk a job through its lifecycle without sleeping.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// Statuses reported by the simulator.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DefaultModels are loaded when none are configured.
var DefaultModels = []string{"stable-diffusion-xl", "stable-diffusion-1.5"}

var (
	// ErrJobNotFound indicates an unknown job ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrUnknownModel indicates a submission for a model that is not loaded.
	ErrUnknownModel = errors.New("model not loaded")
)

// Schedule controls how simulated jobs progress.
type Schedule struct {
	// QueuedFor is how long each job reports queued.
	QueuedFor time.Duration

	// RunningFor is how long each job reports running after leaving the queue.
	RunningFor time.Duration

	// FailureRate is the probability in [0, 1] that a job ends failed.
	FailureRate float64

	// ForceStatus, when set, is reported for every job regardless of
	// elapsed time. Useful for exercising unrecognized statuses.
	ForceStatus string
}

// Config configures a Simulator.
type Config struct {
	// Models lists the loaded models. Nil uses DefaultModels; an empty,
	// non-nil slice simulates a backend with nothing loaded.
	Models []string

	Schedule Schedule

	// Seed makes failure draws reproducible. Zero seeds randomly.
	Seed uint64

	Clock clock.PassiveClock
}

// Job is one submitted job.
type Job struct {
	ID          string
	Model       string
	Prompt      string
	SubmittedAt time.Time

	fails bool
}

// Status is a point-in-time view of a job.
type Status struct {
	JobID       string    `json:"job_id"`
	Model       string    `json:"model"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`

	// Duration is the simulated run time in seconds, set once the job ends.
	Duration *float64 `json:"duration,omitempty"`

	Error string `json:"error,omitempty"`
}

// Simulator holds submitted jobs in memory.
type Simulator struct {
	mu       sync.Mutex
	models   []string
	schedule Schedule
	clock    clock.PassiveClock
	rnd      *rand.Rand
	jobs     map[string]*Job
}

// New creates a Simulator.
func New(cfg Config) (*Simulator, error) {
	s := cfg.Schedule
	if s.QueuedFor < 0 || s.RunningFor < 0 {
		return nil, fmt.Errorf("schedule durations must not be negative")
	}
	if s.FailureRate < 0 || s.FailureRate > 1 {
		return nil, fmt.Errorf("failure rate must be within [0, 1] (got %g)", s.FailureRate)
	}

	models := cfg.Models
	if models == nil {
		models = DefaultModels
	}
	c := cfg.Clock
	if c == nil {
		c = clock.RealClock{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &Simulator{
		models:   slices.Clone(models),
		schedule: s,
		clock:    c,
		rnd:      rand.New(rand.NewPCG(seed, seed)),
		jobs:     make(map[string]*Job),
	}, nil
}

// Models returns the loaded models.
func (s *Simulator) Models() []string {
	return slices.Clone(s.models)
}

// Submit records a new job.
func (s *Simulator) Submit(model, prompt string) (*Job, error) {
	model = strings.TrimSpace(model)
	if !slices.Contains(s.models, model) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job := &Job{
		ID:          uuid.NewString(),
		Model:       model,
		Prompt:      prompt,
		SubmittedAt: s.clock.Now(),
		fails:       s.schedule.FailureRate > 0 && s.rnd.Float64() < s.schedule.FailureRate,
	}
	s.jobs[job.ID] = job
	return job, nil
}

// Status reports where a job is in its lifecycle.
func (s *Simulator) Status(id string) (Status, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	st := Status{JobID: job.ID, Model: job.Model, SubmittedAt: job.SubmittedAt.UTC()}
	if s.schedule.ForceStatus != "" {
		st.Status = s.schedule.ForceStatus
		return st, nil
	}

	elapsed := s.clock.Since(job.SubmittedAt)
	switch {
	case elapsed < s.schedule.QueuedFor:
		st.Status = StatusQueued
	case elapsed < s.schedule.QueuedFor+s.schedule.RunningFor:
		st.Status = StatusRunning
	default:
		d := s.schedule.RunningFor.Seconds()
		st.Duration = &d
		st.Status = StatusCompleted
		if job.fails {
			st.Status = StatusFailed
			st.Error = "simulated failure"
		}
	}
	return st, nil
}

// Len returns the number of submitted jobs.
func (s *Simulator) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// CheckHealth reports whether the simulator can serve jobs.
func (s *Simulator) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(s.models) == 0 {
		return errors.New("no models loaded")
	}
	return nil
}
