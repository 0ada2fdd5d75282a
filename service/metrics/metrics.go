package metrics

import (
	"github.com/brojonat/revolut-feed/service/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics.
type Metrics struct {
	// Revolut API Metrics
	apiCallsTotal       *prometheus.CounterVec
	apiCallDuration     *prometheus.HistogramVec
	apiRateLimitHits    *prometheus.CounterVec
	breakerState        *prometheus.GaugeVec
	apiTransactionsSeen *prometheus.HistogramVec

	// Ledger Metrics
	ledgerRowsTotal        *prometheus.CounterVec
	ledgerMatchesTotal     *prometheus.CounterVec
	ledgerDiagnosticsTotal *prometheus.CounterVec
	ledgerBuildDuration    *prometheus.HistogramVec

	// Workflow Metrics
	exportWorkflowDuration        *prometheus.HistogramVec
	exportWorkflowExecutionsTotal *prometheus.CounterVec
	exportActivityDuration        *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		apiCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revolut_api_calls_total",
				Help: "Total number of Revolut API calls by endpoint and status",
			},
			[]string{"endpoint", "status", "environment"},
		),
		apiCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "revolut_api_call_duration_seconds",
				Help:    "Duration of Revolut API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "environment"},
		),
		apiRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revolut_api_rate_limit_hits_total",
				Help: "Total number of Revolut API rate limit responses (429)",
			},
			[]string{"environment"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "revolut_api_circuit_breaker_state",
				Help: "Circuit breaker state for the Revolut API (0 closed, 1 half-open, 2 open)",
			},
			[]string{"environment"},
		),
		apiTransactionsSeen: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "revolut_api_transactions_per_call",
				Help:    "Number of transactions returned per transactions call",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
			[]string{"environment"},
		),

		ledgerRowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rows_total",
				Help: "Total number of ledger rows produced",
			},
			[]string{"currency"},
		),
		ledgerMatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_exchange_matches_total",
				Help: "Total number of exchanges reconciled, by strategy (single, combined, none)",
			},
			[]string{"currency", "strategy"},
		),
		ledgerDiagnosticsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_diagnostics_total",
				Help: "Total number of reconciliation diagnostics by kind",
			},
			[]string{"currency", "kind"},
		),
		ledgerBuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_build_duration_seconds",
				Help:    "Duration of ledger builds in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"currency"},
		),

		exportWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "export_workflow_duration_seconds",
				Help:    "Duration of ledger export workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"currency", "status"},
		),
		exportWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "export_workflow_executions_total",
				Help: "Total number of ledger export workflow executions",
			},
			[]string{"currency", "status"},
		),
		exportActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "export_activity_duration_seconds",
				Help:    "Duration of ledger export activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "currency"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Revolut API metric helpers

// RecordAPICall records a Revolut API call with duration.
func (m *Metrics) RecordAPICall(endpoint, status, environment string, duration float64) {
	m.apiCallsTotal.WithLabelValues(endpoint, status, environment).Inc()
	m.apiCallDuration.WithLabelValues(endpoint, environment).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 response).
func (m *Metrics) RecordRateLimitHit(environment string) {
	m.apiRateLimitHits.WithLabelValues(environment).Inc()
}

// RecordBreakerState records the circuit breaker state as a number.
func (m *Metrics) RecordBreakerState(environment string, state float64) {
	m.breakerState.WithLabelValues(environment).Set(state)
}

// RecordTransactionsPerCall records how many transactions one call returned.
func (m *Metrics) RecordTransactionsPerCall(environment string, count int) {
	m.apiTransactionsSeen.WithLabelValues(environment).Observe(float64(count))
}

// Ledger metric helpers

// RecordLedgerBuild records the outcome of one ledger build.
func (m *Metrics) RecordLedgerBuild(currency string, rows int, duration float64) {
	m.ledgerRowsTotal.WithLabelValues(currency).Add(float64(rows))
	m.ledgerBuildDuration.WithLabelValues(currency).Observe(duration)
}

// RecordMatch records how an exchange was reconciled.
func (m *Metrics) RecordMatch(currency, strategy string) {
	m.ledgerMatchesTotal.WithLabelValues(currency, strategy).Inc()
}

// RecordDiagnostic records a reconciliation diagnostic.
func (m *Metrics) RecordDiagnostic(currency, kind string) {
	m.ledgerDiagnosticsTotal.WithLabelValues(currency, kind).Inc()
}

// LedgerObserver adapts Metrics to ledger.Observer for one reference currency.
func (m *Metrics) LedgerObserver(currency string) ledger.Observer {
	return &ledgerObserver{m: m, currency: currency}
}

type ledgerObserver struct {
	m        *Metrics
	currency string
}

func (o *ledgerObserver) ObserveMatch(s ledger.Strategy) {
	o.m.RecordMatch(o.currency, string(s))
}

func (o *ledgerObserver) ObserveDiagnostic(k ledger.DiagnosticKind) {
	o.m.RecordDiagnostic(o.currency, string(k))
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(currency, status string, duration float64) {
	m.exportWorkflowDuration.WithLabelValues(currency, status).Observe(duration)
	m.exportWorkflowExecutionsTotal.WithLabelValues(currency, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, currency string, duration float64) {
	m.exportActivityDuration.WithLabelValues(activity, currency).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
