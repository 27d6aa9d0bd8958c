// Package metrics defines the Prometheus collectors of the sandbox.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sakif/code-sandbox/internal/executor"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	PeakMemory        prometheus.Histogram
	OutputTruncated   *prometheus.CounterVec
	RateLimitHits     prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ExecutionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_executions_total",
				Help: "Total number of executions by terminal status",
			},
			[]string{"status"},
		),
		ExecutionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandbox_execution_duration_seconds",
				Help:    "Wall-clock time of executed cells",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		PeakMemory: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sandbox_peak_memory_bytes",
				Help:    "Peak sampled resident memory per execution",
				Buckets: prometheus.ExponentialBuckets(4<<20, 2, 8),
			},
		),
		OutputTruncated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_output_truncated_total",
				Help: "Executions whose output hit the output limit",
			},
			[]string{"stream"},
		),
		RateLimitHits: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sandbox_rate_limit_hits_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
		),
	}
}

// Observe records one terminal result.
func (m *Metrics) Observe(res *executor.ExecutionResult) {
	status := string(res.Status)
	m.ExecutionsTotal.WithLabelValues(status).Inc()

	switch res.Status {
	case executor.StatusRejected, executor.StatusBusy:
		// never ran
		return
	}
	m.ExecutionDuration.WithLabelValues(status).Observe(res.Elapsed.Seconds())
	if res.PeakMemory > 0 {
		m.PeakMemory.Observe(float64(res.PeakMemory))
	}
	if res.StdoutTruncated {
		m.OutputTruncated.WithLabelValues("stdout").Inc()
	}
	if res.StderrTruncated {
		m.OutputTruncated.WithLabelValues("stderr").Inc()
	}
}

// RegisterLoad exports the supervisor's live and queued counts as gauges
// read at scrape time.
func RegisterLoad(reg prometheus.Registerer, stats func() executor.Stats) {
	f := promauto.With(reg)
	f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sandbox_live_cells",
			Help: "Cells currently running",
		},
		func() float64 { return float64(stats().Live) },
	)
	f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sandbox_queued_requests",
			Help: "Requests waiting for a free slot",
		},
		func() float64 { return float64(stats().Queued) },
	)
	f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sandbox_capacity",
			Help: "Maximum number of concurrent cells",
		},
		func() float64 { return float64(stats().Capacity) },
	)
}
