package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics; a nil
// *Metrics means metrics are disabled and callers must check before use.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Transfer Metrics
	transfersTotal               *prometheus.CounterVec
	transferSubmitDuration       *prometheus.HistogramVec
	receiverAccountsCreatedTotal *prometheus.CounterVec
	finalityOutcomesTotal        *prometheus.CounterVec
	finalityWaitDuration         *prometheus.HistogramVec

	// Workflow Metrics
	transferWorkflowDuration        *prometheus.HistogramVec
	transferWorkflowExecutionsTotal *prometheus.CounterVec
	transferActivityDuration        *prometheus.HistogramVec

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
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		// Transfer Metrics
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_transfers_total",
				Help: "Total number of token transfer attempts by outcome",
			},
			[]string{"outcome", "mode"},
		),
		transferSubmitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "token_transfer_submit_duration_seconds",
				Help:    "Time from transfer request to node acceptance or failure",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode"},
		),
		receiverAccountsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "receiver_token_accounts_created_total",
				Help: "Total number of receiver token accounts provisioned by transfers",
			},
			[]string{"mode"},
		),
		finalityOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_finality_outcomes_total",
				Help: "Total number of finality waits by terminal status",
			},
			[]string{"status"},
		),
		finalityWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_finality_wait_seconds",
				Help:    "Time spent waiting for a transaction to reach its target commitment",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"status"},
		),

		// Workflow Metrics
		transferWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transfer_workflow_duration_seconds",
				Help:    "Duration of transfer workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		transferWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_workflow_executions_total",
				Help: "Total number of transfer workflow executions",
			},
			[]string{"status"},
		),
		transferActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transfer_activity_duration_seconds",
				Help:    "Duration of transfer workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"activity", "status"},
		),

		// Database Metrics
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

		// HTTP Metrics
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

		// NATS Metrics
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

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// Transfer metric helpers

// RecordTransfer records a transfer attempt and how long it took to settle on an outcome.
func (m *Metrics) RecordTransfer(outcome, mode string, duration float64) {
	m.transfersTotal.WithLabelValues(outcome, mode).Inc()
	m.transferSubmitDuration.WithLabelValues(mode).Observe(duration)
}

// RecordReceiverAccountCreated records a transfer that provisioned the receiver's token account.
func (m *Metrics) RecordReceiverAccountCreated(mode string) {
	m.receiverAccountsCreatedTotal.WithLabelValues(mode).Inc()
}

// RecordFinality records the end of a finality wait.
func (m *Metrics) RecordFinality(status string, duration float64) {
	m.finalityOutcomesTotal.WithLabelValues(status).Inc()
	m.finalityWaitDuration.WithLabelValues(status).Observe(duration)
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.transferWorkflowDuration.WithLabelValues(status).Observe(duration)
	m.transferWorkflowExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.transferActivityDuration.WithLabelValues(activity, status).Observe(duration)
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

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
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
