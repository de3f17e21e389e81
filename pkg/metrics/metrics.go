package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Risk engine metrics
	AssessmentsTotal   *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	CrisisRiskObserved prometheus.Histogram
	EscalationsTotal   prometheus.Counter
	RejectedRequests   *prometheus.CounterVec

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Transport metrics
	MessagesTotal         *prometheus.CounterVec
	WebSocketClients      prometheus.Gauge
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionStatus  prometheus.Gauge
	ArchiveOperations     *prometheus.CounterVec
	CircuitBreakerState   *prometheus.GaugeVec
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		AssessmentsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_assessments_total",
				Help: "Total number of risk assessments by urgency tier",
			},
			[]string{"urgency"},
		)

		EvaluationDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crisis_evaluation_duration_seconds",
				Help:    "Time taken to evaluate a transcript segment",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12), // 50us to ~100ms
			},
		)

		CrisisRiskObserved = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crisis_risk_score",
				Help:    "Distribution of crisis risk scores",
				Buckets: prometheus.LinearBuckets(0, 10, 11),
			},
		)

		EscalationsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crisis_escalations_total",
				Help: "Total number of one-shot escalation events raised",
			},
		)

		RejectedRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_rejected_requests_total",
				Help: "Total number of requests rejected before evaluation",
			},
			[]string{"reason"},
		)

		ActiveSessions = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crisis_sessions_active",
				Help: "Number of live monitoring sessions",
			},
		)

		SessionsStarted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crisis_sessions_started_total",
				Help: "Total number of sessions started",
			},
		)

		SessionsEnded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_sessions_ended_total",
				Help: "Total number of sessions ended by reason",
			},
			[]string{"reason"},
		)

		SessionDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crisis_session_duration_seconds",
				Help:    "Duration of monitored sessions",
				Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~9 hours
			},
		)

		MessagesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_messages_total",
				Help: "Total number of protocol messages handled",
			},
			[]string{"type", "status"},
		)

		WebSocketClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crisis_websocket_clients",
				Help: "Number of connected assessment stream clients",
			},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_amqp_published_messages_total",
				Help: "Total number of events published to AMQP",
			},
			[]string{"routing_key", "status"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crisis_amqp_connection_status",
				Help: "Status of AMQP connection (1 = connected, 0 = disconnected)",
			},
		)

		ArchiveOperations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crisis_archive_operations_total",
				Help: "Total number of summary archive operations",
			},
			[]string{"operation", "status"},
		)

		CircuitBreakerState = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crisis_circuit_breaker_state",
				Help: "Circuit breaker state (0 = closed, 1 = half-open, 2 = open)",
			},
			[]string{"name"},
		)

		registry.MustRegister(
			AssessmentsTotal,
			EvaluationDuration,
			CrisisRiskObserved,
			EscalationsTotal,
			RejectedRequests,

			ActiveSessions,
			SessionsStarted,
			SessionsEnded,
			SessionDuration,

			MessagesTotal,
			WebSocketClients,
			AMQPPublishedMessages,
			AMQPConnectionStatus,
			ArchiveOperations,
			CircuitBreakerState,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the Prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsPath sets the path served by RegisterHandler
func SetMetricsPath(path string) {
	defaultMetricsPath = path
}

// EnableMetrics enables or disables metrics recording
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// Handler returns the HTTP handler exposing the registry
func Handler() http.Handler {
	if registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RegisterHandler registers the metrics endpoint on the given mux
func RegisterHandler(mux *http.ServeMux) {
	if !metricsEnabled {
		return
	}
	mux.Handle(defaultMetricsPath, Handler())
}

// StartMetrics initializes the metrics service
func StartMetrics(logger *logrus.Logger, enabled bool) {
	if !enabled {
		EnableMetrics(false)
		logger.Info("Metrics collection is disabled")
		return
	}

	Init(logger)
	EnableMetrics(true)
	logger.WithField("metrics_path", defaultMetricsPath).Info("Metrics endpoint initialized")
}

// ready reports whether recording helpers may touch the collectors;
// helpers are no-ops until Init has run.
func ready() bool {
	return metricsEnabled && registry != nil
}

// RecordAssessment records one evaluation
func RecordAssessment(urgency string, crisisRisk int, duration time.Duration) {
	if ready() {
		AssessmentsTotal.WithLabelValues(urgency).Inc()
		CrisisRiskObserved.Observe(float64(crisisRisk))
		EvaluationDuration.Observe(duration.Seconds())
	}
}

// RecordEscalation records a one-shot escalation event
func RecordEscalation() {
	if ready() {
		EscalationsTotal.Inc()
	}
}

// RecordRejected records a request rejected at the boundary
func RecordRejected(reason string) {
	if ready() {
		RejectedRequests.WithLabelValues(reason).Inc()
	}
}

// SetActiveSessions sets the live session gauge
func SetActiveSessions(n int) {
	if ready() {
		ActiveSessions.Set(float64(n))
	}
}

// RecordSessionStarted records a new session
func RecordSessionStarted() {
	if ready() {
		SessionsStarted.Inc()
	}
}

// RecordSessionEnded records a session teardown and its duration
func RecordSessionEnded(reason string, duration time.Duration) {
	if ready() {
		SessionsEnded.WithLabelValues(reason).Inc()
		SessionDuration.Observe(duration.Seconds())
	}
}

// RecordMessage records a handled protocol message
func RecordMessage(msgType, status string) {
	if ready() {
		MessagesTotal.WithLabelValues(msgType, status).Inc()
	}
}

// SetWebSocketClients sets the stream client gauge
func SetWebSocketClients(n int) {
	if ready() {
		WebSocketClients.Set(float64(n))
	}
}

// RecordAMQPPublish records an AMQP publish attempt
func RecordAMQPPublish(routingKey, status string) {
	if ready() {
		AMQPPublishedMessages.WithLabelValues(routingKey, status).Inc()
	}
}

// SetAMQPConnectionStatus sets the AMQP connection gauge
func SetAMQPConnectionStatus(connected bool) {
	if ready() {
		if connected {
			AMQPConnectionStatus.Set(1)
		} else {
			AMQPConnectionStatus.Set(0)
		}
	}
}

// RecordArchiveOperation records a summary archive read or write
func RecordArchiveOperation(operation string, err error) {
	if ready() {
		status := "success"
		if err != nil {
			status = "error"
		}
		ArchiveOperations.WithLabelValues(operation, status).Inc()
	}
}

// SetCircuitBreakerState records the state of a named circuit breaker
func SetCircuitBreakerState(name string, state int) {
	if ready() {
		CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	}
}
