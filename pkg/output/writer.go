package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer outputs JSONL records for a probe session.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits a complete record as a
// single line of JSON followed by a newline.
type Writer interface {
	// WriteSession emits the session header.
	WriteSession(ctx context.Context, rec *SessionRecord) error

	// WriteObservation emits a poll observation.
	WriteObservation(ctx context.Context, rec *ObservationRecord) error

	// WriteOutcome emits the terminal outcome.
	WriteOutcome(ctx context.Context, rec *OutcomeRecord) error

	// WriteError emits an error record.
	WriteError(ctx context.Context, rec *ErrorRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	w         io.Writer
	sessionID string
	backend   string
	now       func() time.Time
	mu        sync.Mutex

	// closed indicates the writer has been closed.
	closed bool
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - sessionID: Correlation ID for this probe session
//   - backend: Base URL of the job API under test
func NewJSONLWriter(w io.Writer, sessionID, backend string) *JSONLWriter {
	return &JSONLWriter{
		w:         w,
		sessionID: sessionID,
		backend:   backend,
		now:       time.Now,
	}
}

// WriteSession emits the session header.
func (jw *JSONLWriter) WriteSession(ctx context.Context, rec *SessionRecord) error {
	return jw.writeRecord(ctx, TypeSession, rec)
}

// WriteObservation emits a poll observation.
func (jw *JSONLWriter) WriteObservation(ctx context.Context, rec *ObservationRecord) error {
	return jw.writeRecord(ctx, TypeObservation, rec)
}

// WriteOutcome emits the terminal outcome.
func (jw *JSONLWriter) WriteOutcome(ctx context.Context, rec *OutcomeRecord) error {
	return jw.writeRecord(ctx, TypeOutcome, rec)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, rec *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, rec)
}

// Close marks the writer as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line.
//
// This method holds the mutex for the entire operation to ensure
// atomic line writes.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		Type:      recordType,
		TS:        jw.now().UTC(),
		SessionID: jw.sessionID,
		Backend:   jw.backend,
		Data:      dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			// No progress made - avoid infinite loop
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Compile-time check that JSONLWriter implements Writer.
var _ Writer = (*JSONLWriter)(nil)
