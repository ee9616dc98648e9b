// Package selector picks the model a probe session submits against.
//
// The backend's loaded-models response is parsed into identifiers,
// optionally narrowed by doublestar glob patterns, and one identifier is
// drawn uniformly at random.
package selector

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrNoModelsAvailable indicates there is nothing to select from: the
	// response was empty, malformed, or every model was filtered out.
	ErrNoModelsAvailable = errors.New("no models available")

	// ErrInvalidPattern indicates a filter pattern is not a valid glob.
	ErrInvalidPattern = errors.New("invalid pattern")
)

// PatternError wraps pattern validation errors with the offending pattern.
type PatternError struct {
	Pattern string
	Err     error
}

// Error implements the error interface.
func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PatternError) Unwrap() error {
	return e.Err
}

// Selector draws one model from a candidate list.
//
// A Selector is not safe for concurrent use; its random source is not
// synchronized.
type Selector struct {
	rnd      *rand.Rand
	patterns []string
}

// Option configures a Selector.
type Option func(*Selector)

// WithRand sets the random source. Tests use a seeded source for
// reproducible draws.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) {
		if r != nil {
			s.rnd = r
		}
	}
}

// WithSeed seeds the random source.
func WithSeed(seed uint64) Option {
	return func(s *Selector) {
		s.rnd = rand.New(rand.NewPCG(seed, seed))
	}
}

// New creates a Selector. Patterns, if any, restrict candidates to model
// identifiers matching at least one pattern.
func New(patterns []string, opts ...Option) (*Selector, error) {
	s := &Selector{}
	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: raw, Err: ErrInvalidPattern}
		}
		s.patterns = append(s.patterns, p)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		seed := uint64(time.Now().UnixNano())
		s.rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	return s, nil
}

// Filter returns the models matching the selector's patterns, preserving
// order. With no patterns every model matches.
func (s *Selector) Filter(models []string) []string {
	if len(s.patterns) == 0 {
		return models
	}
	out := make([]string, 0, len(models))
	for _, m := range models {
		for _, p := range s.patterns {
			if ok, err := doublestar.Match(p, m); err == nil && ok {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// Pick filters models and returns one chosen by a uniform random index.
func (s *Selector) Pick(models []string) (string, error) {
	candidates := s.Filter(models)
	if len(candidates) == 0 {
		return "", ErrNoModelsAvailable
	}
	return candidates[s.rnd.IntN(len(candidates))], nil
}

// ParseModelList extracts model identifiers from a loaded-models response.
//
// The response must be a JSON array whose elements are either objects with
// a string "id" field or plain strings. Elements without an identifier are
// skipped. Anything that is not an array yields ErrNoModelsAvailable.
func ParseModelList(body []byte) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, ErrNoModelsAvailable
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item, &obj); err == nil && obj.ID != "" {
			ids = append(ids, obj.ID)
			continue
		}
		var id string
		if err := json.Unmarshal(item, &id); err == nil && id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, ErrNoModelsAvailable
	}
	return ids, nil
}
