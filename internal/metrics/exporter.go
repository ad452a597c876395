package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/processd/internal/contract"
)

// Exporter publishes verification results as Prometheus metrics.
type Exporter struct {
	verifications *prometheus.CounterVec
	failures      *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
}

// NewExporter registers the verification metrics with reg. A nil reg
// creates unregistered collectors.
func NewExporter(reg prometheus.Registerer) *Exporter {
	factory := promauto.With(reg)
	return &Exporter{
		// Labels: tool, process, result (passed, failed)
		verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "processd",
				Name:      "verification_total",
				Help:      "Total number of verified step executions",
			},
			[]string{"tool", "process", "result"},
		),
		// Labels: tool, process, phase
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "processd",
				Name:      "verification_failures_total",
				Help:      "Total number of verification failures by phase",
			},
			[]string{"tool", "process", "phase"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "processd",
				Name:      "step_duration_seconds",
				Help:      "Duration of verified step executions in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
	}
}

// Observe records one result.
func (e *Exporter) Observe(r contract.VerificationResult) {
	result := "passed"
	if !r.Passed {
		result = "failed"
		e.failures.WithLabelValues(r.ToolName, r.ProcessID, string(r.Phase)).Inc()
	}
	e.verifications.WithLabelValues(r.ToolName, r.ProcessID, result).Inc()
	e.stepDuration.WithLabelValues(r.ToolName).Observe(float64(r.ExecutionTimeMs) / 1000)
}
