package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/3leaps/jobprobe/internal/server/jobs"
	"github.com/3leaps/jobprobe/internal/server/middleware"
)

func serve(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0, nil)

	rec := serve(t, srv, http.MethodGet, "/does-not-exist", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body middleware.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestServer_Port(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"default port", 8080},
		{"custom port", 9000},
		{"zero port", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New("127.0.0.1", tt.port, nil)
			assert.Equal(t, tt.port, srv.Port())
		})
	}
	assert.Equal(t, "127.0.0.1:9000", New("127.0.0.1", 9000, nil).Addr())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0, nil)

	rec := serve(t, srv, http.MethodPost, "/version", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body middleware.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
}

func TestServer_RoutesRegistered(t *testing.T) {
	srv := New("127.0.0.1", 0, nil)

	endpoints := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/health/live", http.StatusOK},
		{"GET", "/health/ready", http.StatusOK},
		{"GET", "/version", http.StatusOK},
		{"GET", "/metrics", http.StatusOK},
		{"GET", "/models?loaded=true", http.StatusUnauthorized},
		{"POST", "/job", http.StatusUnauthorized},
		{"GET", "/job/abc", http.StatusUnauthorized},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			rec := serve(t, srv, ep.method, ep.path, "", "")
			assert.Equal(t, ep.want, rec.Code)
		})
	}
}

func TestServer_JobLifecycle(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC))
	sim, err := jobs.New(jobs.Config{
		Models:   []string{"sdxl"},
		Schedule: jobs.Schedule{QueuedFor: 2 * time.Second, RunningFor: 3 * time.Second},
		Clock:    fc,
	})
	require.NoError(t, err)
	srv := New("127.0.0.1", 0, sim, WithToken("secret"))

	rec := serve(t, srv, http.MethodGet, "/models?loaded=true", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, srv, http.MethodGet, "/models?loaded=true", "secret", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"sdxl"}]`, rec.Body.String())

	rec = serve(t, srv, http.MethodPost, "/job", "secret",
		`{"model":"sdxl","prompt":"dog","params":{"width":512,"height":512}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var submitted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.JobID)

	status := func() jobs.Status {
		rec := serve(t, srv, http.MethodGet, "/job/"+submitted.JobID, "secret", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var st jobs.Status
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
		return st
	}

	assert.Equal(t, jobs.StatusQueued, status().Status)
	fc.Step(3 * time.Second)
	assert.Equal(t, jobs.StatusRunning, status().Status)
	fc.Step(3 * time.Second)
	st := status()
	assert.Equal(t, jobs.StatusCompleted, st.Status)
	require.NotNil(t, st.Duration)
	assert.Equal(t, 3.0, *st.Duration)

	metrics := serve(t, srv, http.MethodGet, "/metrics", "", "")
	assert.Contains(t, metrics.Body.String(), `fakebackend_jobs_submitted_total{model="sdxl"} 1`)
}

func TestServer_SubmitErrors(t *testing.T) {
	srv := New("127.0.0.1", 0, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing model", `{"prompt":"x"}`, http.StatusBadRequest},
		{"unknown model", `{"model":"nope"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, srv, http.MethodPost, "/job", "any", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			var body middleware.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, middleware.CodeBadRequest, body.Error.Code)
		})
	}

	rec := serve(t, srv, http.MethodGet, "/job/unknown", "any", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Serve(t *testing.T) {
	srv := New("127.0.0.1", 0, nil)
	ctx, cancel := context.WithCancel(context.Background())

	addrCh := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, func(addr string) { addrCh <- addr }) }()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/health/live")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
