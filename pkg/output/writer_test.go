package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobprobe/pkg/monitor"
	"github.com/3leaps/jobprobe/pkg/prompt"
)

func dur(d time.Duration) *time.Duration { return &d }

func TestNewJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess-123", "https://api.example.com")

	assert.NotNil(t, w)
	assert.Equal(t, "sess-123", w.sessionID)
	assert.Equal(t, "https://api.example.com", w.backend)
}

func TestJSONLWriter_WriteSession(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess-123", "https://api.example.com")

	submitted := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	params := prompt.Default()
	rec := &SessionRecord{
		SessionID:   "sess-123",
		Backend:     "https://api.example.com",
		Model:       "sdxl",
		JobID:       "job-1",
		StartedAt:   submitted.Add(-time.Second),
		SubmittedAt: &submitted,
		Policy:      NewPolicyRecord(monitor.NewSplitPolicy(time.Second, 5*time.Second, 30*time.Second)),
		Prompt:      &params,
	}
	require.NoError(t, w.WriteSession(context.Background(), rec))

	var record Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, TypeSession, record.Type)
	assert.Equal(t, "sess-123", record.SessionID)
	assert.Equal(t, "https://api.example.com", record.Backend)
	assert.False(t, record.TS.IsZero())

	var data map[string]any
	require.NoError(t, json.Unmarshal(record.Data, &data))
	assert.Equal(t, "job-1", data["job_id"])
	policy := data["policy"].(map[string]any)
	assert.Equal(t, "split", policy["shape"])
	assert.Equal(t, 5.0, policy["queued_timeout"])
	assert.Equal(t, 30.0, policy["total_timeout"])
	assert.NotContains(t, policy, "queued_max")
	assert.Equal(t, "dog flying sky 4k front view", data["prompt"].(map[string]any)["prompt"])
}

func TestNewOutcomeRecord(t *testing.T) {
	tests := []struct {
		name    string
		outcome *monitor.Outcome
		check   func(t *testing.T, rec *OutcomeRecord)
	}{
		{
			name: "success",
			outcome: &monitor.Outcome{
				Kind: monitor.KindSuccess, JobID: "j1", Model: "m1", Phase: monitor.PhaseCompleted,
				ReportedStatus: "completed", QueuedElapsed: dur(2 * time.Second),
				RunningElapsed: 3 * time.Second, TotalElapsed: 5 * time.Second, Polls: 6,
			},
			check: func(t *testing.T, rec *OutcomeRecord) {
				assert.True(t, rec.Success)
				assert.Equal(t, "success", rec.Kind)
				require.NotNil(t, rec.QueuedTime)
				assert.Equal(t, 2.0, *rec.QueuedTime)
				assert.Equal(t, 3.0, rec.RunningTime)
				assert.Equal(t, 5.0, rec.JobTime)
				assert.Empty(t, rec.Code)
				assert.Nil(t, rec.Budget)
			},
		},
		{
			name: "never started keeps queued unset",
			outcome: &monitor.Outcome{
				Kind: monitor.KindNeverStartedTimeout, JobID: "j2", Model: "m1", Phase: monitor.PhaseQueued,
				TotalElapsed: 21 * time.Second, Budget: 20 * time.Second,
			},
			check: func(t *testing.T, rec *OutcomeRecord) {
				assert.False(t, rec.Success)
				assert.Nil(t, rec.QueuedTime)
				require.NotNil(t, rec.Budget)
				assert.Equal(t, 20.0, *rec.Budget)
				assert.Equal(t, ErrCodeTimeout, rec.Code)
			},
		},
		{
			name: "job failed carries raw payload",
			outcome: &monitor.Outcome{
				Kind: monitor.KindJobFailed, JobID: "j3", Phase: monitor.PhaseFailed,
				Raw: json.RawMessage(`{"status":"failed","error":"oom"}`),
			},
			check: func(t *testing.T, rec *OutcomeRecord) {
				assert.JSONEq(t, `{"status":"failed","error":"oom"}`, string(rec.Raw))
				assert.Equal(t, ErrCodeJobFailed, rec.Code)
			},
		},
		{
			name: "invalid raw dropped",
			outcome: &monitor.Outcome{
				Kind: monitor.KindJobFailed, Raw: json.RawMessage(`not json`),
			},
			check: func(t *testing.T, rec *OutcomeRecord) {
				assert.Nil(t, rec.Raw)
			},
		},
		{
			name: "error text",
			outcome: &monitor.Outcome{
				Kind: monitor.KindStatusFetchFailed, JobID: "j4", Err: errors.New("connection reset"),
			},
			check: func(t *testing.T, rec *OutcomeRecord) {
				assert.Equal(t, "connection reset", rec.Error)
				assert.Equal(t, ErrCodeStatusRead, rec.Code)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, NewOutcomeRecord(tt.outcome))
		})
	}
}

func TestErrorCodeFor(t *testing.T) {
	tests := []struct {
		kind monitor.Kind
		want string
	}{
		{monitor.KindSuccess, ""},
		{monitor.KindAuthFailed, ErrCodeAuth},
		{monitor.KindBackendFailed, ErrCodeBackend},
		{monitor.KindSubmitFailed, ErrCodeBackend},
		{monitor.KindNoModels, ErrCodeNoModels},
		{monitor.KindQueuedTimeout, ErrCodeTimeout},
		{monitor.KindRunningOrTotalTimeout, ErrCodeTimeout},
		{monitor.KindTimeoutWarning, ErrCodeTimeout},
		{monitor.KindJobFailedWarning, ErrCodeJobFailed},
		{monitor.KindCancelled, ErrCodeCancelled},
		{monitor.Kind("mystery"), ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCodeFor(tt.kind))
		})
	}
}

func TestJSONLWriter_NewlineTerminated(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess-123", "b")

	require.NoError(t, w.WriteObservation(context.Background(), &ObservationRecord{Poll: 1, CurrentStatus: "queued"}))
	require.NoError(t, w.WriteObservation(context.Background(), &ObservationRecord{Poll: 2, CurrentStatus: "running"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)

	for _, line := range lines {
		var record Record
		err := json.Unmarshal([]byte(line), &record)
		assert.NoError(t, err)
		assert.Equal(t, TypeObservation, record.Type)
	}
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess-123", "b")

	require.NoError(t, w.Close())

	err := w.WriteOutcome(context.Background(), &OutcomeRecord{Kind: "success"})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess-123", "b")

	const numWriters = 10
	const writesPerWriter = 100

	var wg sync.WaitGroup
	wg.Add(numWriters)

	for i := 0; i < numWriters; i++ {
		go func(writerID int) {
			defer wg.Done()
			for j := 0; j < writesPerWriter; j++ {
				_ = w.WriteObservation(context.Background(), &ObservationRecord{Poll: writerID*writesPerWriter + j})
			}
		}(i)
	}

	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, numWriters*writesPerWriter)

	for i, line := range lines {
		var record Record
		err := json.Unmarshal([]byte(line), &record)
		assert.NoError(t, err, "line %d should be valid JSON: %s", i, line)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "sess-123", "b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteError(ctx, &ErrorRecord{Code: ErrCodeInternal})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	failWriter := &failingWriter{err: errors.New("disk full")}
	w := NewJSONLWriter(failWriter, "sess-123", "b")

	err := w.WriteOutcome(context.Background(), &OutcomeRecord{Kind: "success"})
	require.Error(t, err)

	var writeErr *WriteError
	assert.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "write", writeErr.Op)
}

// failingWriter is an io.Writer that always returns an error.
type failingWriter struct {
	err error
}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, f.err
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	shortWriter := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(shortWriter, "sess-123", "b")

	err := w.WriteOutcome(context.Background(), &OutcomeRecord{Kind: "success", JobID: "job-1", JobTime: 12.5})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(shortWriter.buf.String()), "\n")
	assert.Len(t, lines, 1)

	var record Record
	err = json.Unmarshal([]byte(lines[0]), &record)
	assert.NoError(t, err, "output should be valid JSON despite short writes")
	assert.Equal(t, TypeOutcome, record.Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	w := NewJSONLWriter(&zeroWriteWriter{}, "sess-123", "b")

	err := w.WriteOutcome(context.Background(), &OutcomeRecord{Kind: "success"})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

// shortWriteWriter writes at most bytesPerWrite bytes per call, returning
// nil error.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	toWrite := len(p)
	if toWrite > sw.bytesPerWrite {
		toWrite = sw.bytesPerWrite
	}
	return sw.buf.Write(p[:toWrite])
}

// zeroWriteWriter always returns 0 bytes written with nil error.
type zeroWriteWriter struct{}

func (zw *zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestOutcomeRecord_OmitEmpty(t *testing.T) {
	data, err := json.Marshal(&OutcomeRecord{Kind: "success", Success: true})
	require.NoError(t, err)

	s := string(data)
	assert.NotContains(t, s, "queued_time")
	assert.NotContains(t, s, "raw")
	assert.NotContains(t, s, "error")
	assert.Contains(t, s, `"running_time":0`)
	assert.Contains(t, s, `"job_time":0`)
}
