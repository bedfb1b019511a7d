package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// refresh pipeline and its collaborators.
type Metrics struct {
	CyclesTotal        *prometheus.CounterVec // labels: outcome={done,skipped_fresh,skipped_inflight,failed}
	CycleDuration      prometheus.Histogram
	FetchAttempts      prometheus.Counter
	FetchRetries       prometheus.Counter
	ObservationsStored prometheus.Counter
	AssessmentsStored  prometheus.Counter
	AlertsPublished    prometheus.Counter
	PipelineRunning    prometheus.Gauge

	// Provider metrics.
	ProviderRequests *prometheus.CounterVec   // labels: provider, outcome={success,error}
	ProviderDuration *prometheus.HistogramVec // labels: provider

	// Cache metrics.
	CacheLookups *prometheus.CounterVec // labels: operation, result={hit,miss}

	// Current risk per location, for dashboards.
	RiskPercentage *prometheus.GaugeVec // labels: location
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.FetchAttempts,
		m.FetchRetries,
		m.ObservationsStored,
		m.AssessmentsStored,
		m.AlertsPublished,
		m.PipelineRunning,
		m.ProviderRequests,
		m.ProviderDuration,
		m.CacheLookups,
		m.RiskPercentage,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_risk",
			Name:      "cycles_total",
			Help:      "Refresh cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flood_risk",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-score-persist cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		FetchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_risk",
			Name:      "fetch_attempts_total",
			Help:      "Retryable cycle step attempts (fetches and store writes), including retries.",
		}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_risk",
			Name:      "fetch_retries_total",
			Help:      "Attempts beyond the first for a retryable cycle step.",
		}),
		ObservationsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_risk",
			Name:      "observations_stored_total",
			Help:      "Observations appended to the observation store.",
		}),
		AssessmentsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_risk",
			Name:      "assessments_stored_total",
			Help:      "Risk assessments appended to the risk store.",
		}),
		AlertsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_risk",
			Name:      "alerts_published_total",
			Help:      "Assessments published to the alert topic.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_risk",
			Name:      "pipeline_running",
			Help:      "1 while at least one refresh cycle is in flight.",
		}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_risk",
			Name:      "provider_requests_total",
			Help:      "Weather provider requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flood_risk",
			Name:      "provider_request_duration_seconds",
			Help:      "Weather provider request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_risk",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by operation and result.",
		}, []string{"operation", "result"}),
		RiskPercentage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flood_risk",
			Name:      "risk_percentage",
			Help:      "Most recent computed risk percentage per location.",
		}, []string{"location"}),
	}
}
