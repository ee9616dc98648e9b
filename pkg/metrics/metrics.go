// Package metrics exports probe session latencies to Prometheus.
//
// A probe is a short-lived batch process, so metrics are pushed to a
// Pushgateway once the session ends rather than scraped.
package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/3leaps/jobprobe/pkg/monitor"
)

const namespace = "jobprobe"

// DefaultJobName is the Pushgateway job label when none is configured.
const DefaultJobName = "jobprobe"

// Recorder holds the metrics for one session on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	queuedSeconds  prometheus.Gauge
	runningSeconds prometheus.Gauge
	totalSeconds   prometheus.Gauge
	polls          prometheus.Gauge
	lastOutcome    *prometheus.GaugeVec
	outcomes       *prometheus.CounterVec
	succeeded      prometheus.Gauge
}

// NewRecorder creates a Recorder with all metrics registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		queuedSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_seconds",
			Help:      "Seconds the probe job spent queued before it started. Unset if it never started.",
		}),
		runningSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_seconds",
			Help:      "Seconds the probe job spent running.",
		}),
		totalSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_seconds",
			Help:      "Seconds from submission to the terminal observation.",
		}),
		polls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_polls",
			Help:      "Number of status fetches in the session.",
		}),
		lastOutcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outcome",
			Help:      "1 for the outcome kind of the last session, labelled by kind and model.",
		}, []string{"kind", "model"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Sessions finished, by outcome kind.",
		}, []string{"kind"}),
		succeeded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "success",
			Help:      "1 if the last session succeeded, 0 otherwise.",
		}),
	}
	r.registry.MustRegister(
		r.queuedSeconds,
		r.runningSeconds,
		r.totalSeconds,
		r.polls,
		r.lastOutcome,
		r.outcomes,
		r.succeeded,
	)
	return r
}

// Registry exposes the underlying registry, e.g. for a /metrics handler.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe records a finished session.
func (r *Recorder) Observe(o *monitor.Outcome) {
	if o == nil {
		return
	}
	if o.QueuedElapsed != nil {
		r.queuedSeconds.Set(o.QueuedElapsed.Seconds())
	}
	r.runningSeconds.Set(o.RunningElapsed.Seconds())
	r.totalSeconds.Set(o.TotalElapsed.Seconds())
	r.polls.Set(float64(o.Polls))

	r.lastOutcome.Reset()
	r.lastOutcome.WithLabelValues(string(o.Kind), o.Model).Set(1)
	r.outcomes.WithLabelValues(string(o.Kind)).Inc()

	if o.Succeeded() {
		r.succeeded.Set(1)
	} else {
		r.succeeded.Set(0)
	}
}

// Push sends the registry to a Pushgateway, replacing the job's previous
// group. Grouping labels narrow the group, e.g. {"backend": "..."}.
func (r *Recorder) Push(ctx context.Context, gatewayURL, job string, grouping map[string]string) error {
	gatewayURL = strings.TrimSpace(gatewayURL)
	if gatewayURL == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	if strings.TrimSpace(job) == "" {
		job = DefaultJobName
	}

	p := push.New(gatewayURL, job).Gatherer(r.registry)
	for k, v := range grouping {
		if v != "" {
			p = p.Grouping(k, v)
		}
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
