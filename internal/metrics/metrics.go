package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for quotad
type Metrics struct {
	// Admission counters
	AdmissionsTotal    *prometheus.CounterVec
	CompletionsTotal   *prometheus.CounterVec
	TerminationsTotal  prometheus.Counter
	AdmissionConflicts prometheus.Counter

	// Quota fill gauges
	QuotaFillRatio *prometheus.GaugeVec
	QuotaCurrent   *prometheus.GaugeVec

	// Vendor callbacks
	VendorCallbacksTotal *prometheus.CounterVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		AdmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotad_admissions_total",
				Help: "Total number of admission attempts by verdict",
			},
			[]string{"survey_id", "status"},
		),
		CompletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotad_completions_total",
				Help: "Total number of completion transitions by outcome",
			},
			[]string{"survey_id", "outcome"},
		),
		TerminationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quotad_terminations_total",
				Help: "Total number of explicit termination transitions",
			},
		),
		AdmissionConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quotad_admission_conflicts_total",
				Help: "Total number of lifecycle conflicts (double completion, ceiling races)",
			},
		),

		QuotaFillRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quotad_quota_fill_ratio",
				Help: "Completed share of the quota total target per survey",
			},
			[]string{"survey_id"},
		),
		QuotaCurrent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quotad_quota_current_count",
				Help: "Current completed count per survey",
			},
			[]string{"survey_id"},
		),

		VendorCallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotad_vendor_callbacks_total",
				Help: "Total number of vendor callback deliveries by result",
			},
			[]string{"result"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotad_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotad_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotad_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quotad_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quotad_goroutines",
				Help: "Number of active goroutines",
			},
		),

		registry: reg,
	}

	// Register all metrics
	reg.MustRegister(
		m.AdmissionsTotal,
		m.CompletionsTotal,
		m.TerminationsTotal,
		m.AdmissionConflicts,
		m.QuotaFillRatio,
		m.QuotaCurrent,
		m.VendorCallbacksTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncAdmissions increments the admission counter for a verdict
func IncAdmissions(surveyID, status string) {
	m := Global()
	if m != nil {
		m.AdmissionsTotal.WithLabelValues(surveyID, status).Inc()
	}
}

// IncCompletions increments the completion counter
func IncCompletions(surveyID, outcome string) {
	m := Global()
	if m != nil {
		m.CompletionsTotal.WithLabelValues(surveyID, outcome).Inc()
	}
}

// IncTerminations increments the termination counter
func IncTerminations() {
	m := Global()
	if m != nil {
		m.TerminationsTotal.Inc()
	}
}

// IncAdmissionConflicts increments the conflict counter
func IncAdmissionConflicts() {
	m := Global()
	if m != nil {
		m.AdmissionConflicts.Inc()
	}
}

// SetQuotaFill updates the fill gauges for a survey
func SetQuotaFill(surveyID string, current, totalTarget int) {
	m := Global()
	if m == nil {
		return
	}
	m.QuotaCurrent.WithLabelValues(surveyID).Set(float64(current))
	if totalTarget > 0 {
		m.QuotaFillRatio.WithLabelValues(surveyID).Set(float64(current) / float64(totalTarget))
	}
}

// IncVendorCallbacks increments the vendor callback counter
func IncVendorCallbacks(result string) {
	m := Global()
	if m != nil {
		m.VendorCallbacksTotal.WithLabelValues(result).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
