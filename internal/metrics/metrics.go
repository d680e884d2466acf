// internal/metrics/metrics.go
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xkilldash9x/applypilot/internal/attempt"
)

// Metrics holds the collectors for one run. Each instance owns its registry so runs
// and tests do not share state.
type Metrics struct {
	Registry *prometheus.Registry

	AttemptsFinished *prometheus.CounterVec
	AttemptDuration  prometheus.Histogram
	Iterations       prometheus.Histogram
	UnansweredTotal  prometheus.Counter
	CommitStrategies *prometheus.CounterVec
	AttemptsActive   prometheus.Gauge
	Skipped          *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		AttemptsFinished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "applypilot_attempts_finished_total",
				Help: "Attempts that reached a terminal state",
			},
			[]string{"state", "reason"},
		),
		AttemptDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "applypilot_attempt_duration_seconds",
				Help:    "Wall time of an attempt",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
		),
		Iterations: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "applypilot_attempt_iterations",
				Help:    "Scan iterations used per attempt",
				Buckets: prometheus.LinearBuckets(1, 3, 10),
			},
		),
		UnansweredTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "applypilot_unanswered_questions_total",
				Help: "Questions that no rule could answer or no widget accepted",
			},
		),
		CommitStrategies: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "applypilot_commit_strategy_total",
				Help: "Successful commits by the strategy that stuck",
			},
			[]string{"strategy"},
		),
		AttemptsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "applypilot_attempts_active",
				Help: "Attempts currently running",
			},
		),
		Skipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "applypilot_jobs_skipped_total",
				Help: "Jobs skipped before an attempt started",
			},
			[]string{"reason"},
		),
	}
}

// CommitStrategy implements attempt.Recorder.
func (m *Metrics) CommitStrategy(strategy string) {
	m.CommitStrategies.WithLabelValues(strategy).Inc()
}

// Unanswered implements attempt.Recorder.
func (m *Metrics) Unanswered() { m.UnansweredTotal.Inc() }

// Finished implements attempt.Recorder.
func (m *Metrics) Finished(o attempt.Outcome) {
	m.AttemptsFinished.WithLabelValues(o.State, o.Reason).Inc()
	m.AttemptDuration.Observe(o.Duration.Seconds())
	m.Iterations.Observe(float64(o.Iterations))
}

// WriteTextfile writes the current values in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

var _ attempt.Recorder = (*Metrics)(nil)
