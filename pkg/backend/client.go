// Package backend is the HTTP client for the job API under test.
//
// It exposes the three calls a probe session depends on: list loaded
// models, submit a job, and fetch a job's status. Every request carries the
// session's bearer token. Idempotent reads are retried on throttling and
// transient failures; submissions are retried only when the backend
// explicitly throttled them.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/time/rate"

	"github.com/3leaps/jobprobe/pkg/monitor"
	"github.com/3leaps/jobprobe/pkg/prompt"
)

// Defaults for zero-valued Config fields.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultRetryDelay     = 500 * time.Millisecond

	// maxErrorBody bounds how much of a failed response is kept in errors.
	maxErrorBody = 512
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://api.example.com/v1 (required).
	BaseURL string

	// RequestTimeout bounds each HTTP attempt. Zero uses DefaultRequestTimeout.
	RequestTimeout time.Duration

	// RateLimit is the maximum requests per second. Zero means unlimited.
	RateLimit float64

	// Retries is the number of additional attempts for retryable failures.
	Retries uint

	// RetryDelay is the base delay between attempts. Zero uses DefaultRetryDelay.
	RetryDelay time.Duration

	// HTTPClient overrides the transport. Nil uses a client with RequestTimeout.
	HTTPClient *http.Client
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return &ConfigError{Field: "BaseURL", Message: "base url is required"}
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Field: "BaseURL", Message: fmt.Sprintf("invalid url %q", c.BaseURL)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigError{Field: "BaseURL", Message: "scheme must be http or https"}
	}
	if c.RateLimit < 0 {
		return &ConfigError{Field: "RateLimit", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "backend config: " + e.Field + ": " + e.Message
}

// JobStatus is one status response.
type JobStatus struct {
	Status string

	// Duration is the backend's own job duration in seconds, if reported.
	// Display only.
	Duration *float64

	// Raw is the full response body.
	Raw json.RawMessage
}

// Client calls the job API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	attempts   uint
	retryDelay time.Duration
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		attempts:   cfg.Retries + 1,
		retryDelay: delay,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c, nil
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListModels returns the raw loaded-models response body.
//
// The body is returned unparsed; pkg/selector decides what a usable model
// list looks like.
func (c *Client) ListModels(ctx context.Context, token string) (json.RawMessage, error) {
	var body []byte
	err := c.do(ctx, "ListModels", retryable, func() error {
		b, _, err := c.send(ctx, token, http.MethodGet, "/models?loaded=true", nil)
		body = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

type submitRequest struct {
	Model  string       `json:"model"`
	Params submitParams `json:"params"`
	Prompt string       `json:"prompt"`
}

type submitParams struct {
	Width             int     `json:"width"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Height            int     `json:"height"`
	NumInferenceSteps int     `json:"num_inference_steps"`
}

// SubmitJob submits one job and returns the backend's job identifier.
func (c *Client) SubmitJob(ctx context.Context, token, model string, p prompt.Params) (string, error) {
	payload, err := json.Marshal(submitRequest{
		Model: model,
		Params: submitParams{
			Width:             p.Width,
			GuidanceScale:     p.GuidanceScale,
			Height:            p.Height,
			NumInferenceSteps: p.NumInferenceSteps,
		},
		Prompt: p.Text,
	})
	if err != nil {
		return "", &Error{Op: "SubmitJob", Err: err}
	}

	var body []byte
	var status int
	err = c.do(ctx, "SubmitJob", IsThrottled, func() error {
		b, s, err := c.send(ctx, token, http.MethodPost, "/job", payload)
		body, status = b, s
		return err
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || strings.TrimSpace(resp.JobID) == "" {
		return "", &Error{Op: "SubmitJob", StatusCode: status, Body: truncate(body), Err: ErrMalformedResponse}
	}
	return resp.JobID, nil
}

// GetJobStatus fetches the current status of a job.
func (c *Client) GetJobStatus(ctx context.Context, token, jobID string) (*JobStatus, error) {
	var body []byte
	var status int
	err := c.do(ctx, "GetJobStatus", retryable, func() error {
		b, s, err := c.send(ctx, token, http.MethodGet, "/job/"+url.PathEscape(jobID), nil)
		body, status = b, s
		return err
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Status   *string  `json:"status"`
		Duration *float64 `json:"duration"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Status == nil {
		return nil, &Error{Op: "GetJobStatus", StatusCode: status, Body: truncate(body), Err: ErrMalformedResponse}
	}
	return &JobStatus{
		Status:   *resp.Status,
		Duration: resp.Duration,
		Raw:      json.RawMessage(body),
	}, nil
}

// StatusSource adapts GetJobStatus for one job to the monitor's status
// capability.
func (c *Client) StatusSource(token, jobID string) monitor.StatusSource {
	return monitor.StatusSourceFunc(func(ctx context.Context) (*monitor.Observation, error) {
		st, err := c.GetJobStatus(ctx, token, jobID)
		if err != nil {
			return nil, err
		}
		return &monitor.Observation{
			Status:          st.Status,
			BackendDuration: st.Duration,
			Raw:             st.Raw,
		}, nil
	})
}

// do runs attempt under the rate limiter and retry policy. attempt returns
// an *Error on failure.
func (c *Client) do(ctx context.Context, op string, retryIf func(error) bool, attempt func() error) error {
	err := retry.Do(
		func() error {
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return retry.Unrecoverable(err)
				}
			}
			return attempt()
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.RetryIf(retryIf),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return nil
	}
	if IsBackendError(err) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// send performs one HTTP exchange. Non-2xx responses are mapped to *Error
// with a sentinel cause.
func (c *Client) send(ctx context.Context, token, method, path string, payload []byte) ([]byte, int, error) {
	op := opFor(method, path)

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, &Error{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, &Error{Op: op, Err: ctx.Err()}
		}
		return nil, 0, &Error{Op: op, Err: errors.Join(ErrUnavailable, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &Error{Op: op, StatusCode: resp.StatusCode, Err: errors.Join(ErrUnavailable, err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, resp.StatusCode, nil
	}
	return body, resp.StatusCode, &Error{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       truncate(body),
		Err:        statusError(resp.StatusCode),
	}
}

func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrThrottled
	case code >= 500:
		return ErrUnavailable
	default:
		return ErrRequestRejected
	}
}

func opFor(method, path string) string {
	switch {
	case strings.HasPrefix(path, "/models"):
		return "ListModels"
	case method == http.MethodPost:
		return "SubmitJob"
	default:
		return "GetJobStatus"
	}
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
