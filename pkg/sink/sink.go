// Package sink archives finished probe sessions.
//
// A session record is written once, after the outcome is known. Sinks are
// independent: MultiSink writes to every configured sink and reports all
// failures together.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/jobprobe/pkg/output"
)

// Sink archives a finished session.
type Sink interface {
	// Store persists the record. Implementations must not retain rec.
	Store(ctx context.Context, rec *output.SessionRecord) error

	// Name identifies the sink in logs and errors (e.g., "file", "s3").
	Name() string
}

// Sentinel errors for sink operations.
var (
	// ErrAccessDenied indicates insufficient permissions on the target.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the S3 bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrThrottled indicates the request was rate limited.
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable indicates the target service is unavailable.
	ErrUnavailable = errors.New("sink unavailable")

	// ErrInvalidRecord indicates the record cannot be archived.
	ErrInvalidRecord = errors.New("invalid session record")
)

// Error wraps sink failures with context.
type Error struct {
	// Op is the operation that failed (e.g., "Store", "PutObject").
	Op string

	// Sink is the sink name.
	Sink string

	// Target is the path or bucket/key written to, if known.
	Target string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s sink %s: %s: %v", e.Sink, e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s sink %s: %v", e.Sink, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

func validateRecord(rec *output.SessionRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}
	id := strings.TrimSpace(rec.SessionID)
	if id == "" {
		return "", fmt.Errorf("%w: session_id is required", ErrInvalidRecord)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: session_id %q is not a valid name", ErrInvalidRecord, id)
	}
	return id, nil
}

// Multi fans a record out to several sinks.
type Multi struct {
	sinks []Sink
}

var _ Sink = (*Multi)(nil)

// NewMulti creates a Multi. Nil sinks are skipped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of configured sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Store writes to every sink, even when an earlier one fails.
func (m *Multi) Store(ctx context.Context, rec *output.SessionRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Store(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name returns the member sink names joined with "+".
func (m *Multi) Name() string {
	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}
