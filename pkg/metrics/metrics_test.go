package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/jobprobe/pkg/monitor"
)

const epsilon = 1e-9

func TestRecorder_Observe(t *testing.T) {
	r := NewRecorder()
	queued := 12 * time.Second
	r.Observe(&monitor.Outcome{
		Kind:           monitor.KindTimeoutWarning,
		Model:          "sdxl",
		QueuedElapsed:  &queued,
		RunningElapsed: 3 * time.Second,
		TotalElapsed:   15 * time.Second,
		Polls:          16,
	})

	assert.InDelta(t, 12.0, testutil.ToFloat64(r.queuedSeconds), epsilon)
	assert.InDelta(t, 3.0, testutil.ToFloat64(r.runningSeconds), epsilon)
	assert.InDelta(t, 15.0, testutil.ToFloat64(r.totalSeconds), epsilon)
	assert.InDelta(t, 16.0, testutil.ToFloat64(r.polls), epsilon)
	assert.InDelta(t, 1.0, testutil.ToFloat64(r.lastOutcome.WithLabelValues("timeout_warning", "sdxl")), epsilon)
	assert.InDelta(t, 1.0, testutil.ToFloat64(r.outcomes.WithLabelValues("timeout_warning")), epsilon)
	assert.InDelta(t, 0.0, testutil.ToFloat64(r.succeeded), epsilon)
}

func TestRecorder_LastOutcomeReset(t *testing.T) {
	r := NewRecorder()
	r.Observe(&monitor.Outcome{Kind: monitor.KindQueuedTimeout, Model: "a"})
	r.Observe(&monitor.Outcome{Kind: monitor.KindSuccess, Model: "b"})

	assert.Equal(t, 1, testutil.CollectAndCount(r.lastOutcome))
	assert.InDelta(t, 1.0, testutil.ToFloat64(r.succeeded), epsilon)
	assert.InDelta(t, 1.0, testutil.ToFloat64(r.outcomes.WithLabelValues("queued_timeout")), epsilon)
	assert.InDelta(t, 1.0, testutil.ToFloat64(r.outcomes.WithLabelValues("success")), epsilon)
}

func TestRecorder_Push(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		mu.Lock()
		method, path, body = req.Method, req.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder()
	r.Observe(&monitor.Outcome{Kind: monitor.KindSuccess, Model: "sdxl", TotalElapsed: time.Second})

	err := r.Push(context.Background(), srv.URL, "", map[string]string{"backend": "staging"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/metrics/job/jobprobe"), path)
	assert.Contains(t, path, "/backend/staging")
	assert.NotEmpty(t, body)
}

func TestRecorder_PushErrors(t *testing.T) {
	r := NewRecorder()
	assert.Error(t, r.Push(context.Background(), " ", "job", nil))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := r.Push(context.Background(), srv.URL, "job", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push metrics")
}
