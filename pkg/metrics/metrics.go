package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Provider metrics
	ProviderRequests        *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
	ProviderRetries         *prometheus.CounterVec
	CircuitBreakerState     *prometheus.GaugeVec
	CircuitBreakerTrips     *prometheus.CounterVec

	// Streaming metrics
	StreamTokens   *prometheus.CounterVec
	StreamCostUSD  *prometheus.CounterVec
	StreamOutcomes *prometheus.CounterVec

	// Realtime metrics
	ActiveConnections *prometheus.GaugeVec
	Disconnects       *prometheus.CounterVec
	CleanupOutcomes   *prometheus.CounterVec
	QueuedMessages    *prometheus.GaugeVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "chatrelay",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
			[]string{"method", "path"},
		),
		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "provider_requests_total",
				Help:      "Total model provider requests by outcome",
			},
			[]string{"provider", "model", "outcome"},
		),
		ProviderRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "provider_request_duration_seconds",
				Help:      "Model provider request duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider", "model"},
		),
		ProviderRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "provider_retries_total",
				Help:      "Total retry attempts against the provider",
			},
			[]string{"provider", "error_type"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		CircuitBreakerTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total circuit breaker CLOSED to OPEN transitions",
			},
			[]string{"name"},
		),
		StreamTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "stream_tokens_total",
				Help:      "Total tokens streamed by direction",
			},
			[]string{"model", "direction"},
		),
		StreamCostUSD: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "stream_cost_usd_total",
				Help:      "Accumulated estimated cost in USD",
			},
			[]string{"model"},
		),
		StreamOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "stream_outcomes_total",
				Help:      "Stream session terminal states",
			},
			[]string{"model", "state"},
		),
		ActiveConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "active_connections",
				Help:      "Currently registered websocket connections",
			},
			[]string{},
		),
		Disconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "disconnects_total",
				Help:      "Websocket disconnects by category",
			},
			[]string{"type"},
		),
		CleanupOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cleanup_outcomes_total",
				Help:      "Connection cleanup outcomes",
			},
			[]string{"success"},
		),
		QueuedMessages: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "queued_messages",
				Help:      "Messages buffered awaiting reconnection",
			},
			[]string{},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total errors by component and type",
			},
			[]string{"component", "error_type"},
		),
		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "panics_total",
				Help:      "Total recovered panics",
			},
			[]string{"component"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ProviderRequests,
		m.ProviderRequestDuration,
		m.ProviderRetries,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
		m.StreamTokens,
		m.StreamCostUSD,
		m.StreamOutcomes,
		m.ActiveConnections,
		m.Disconnects,
		m.CleanupOutcomes,
		m.QueuedMessages,
		m.ErrorsTotal,
		m.PanicsTotal,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordProviderRequest records one provider call with its outcome
func (m *Metrics) RecordProviderRequest(provider, model, outcome string, duration time.Duration) {
	if m.ProviderRequests == nil {
		return
	}

	m.ProviderRequests.WithLabelValues(provider, model, outcome).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// RecordRetry records a retry attempt
func (m *Metrics) RecordRetry(provider, errorType string) {
	if m.ProviderRetries == nil {
		return
	}
	m.ProviderRetries.WithLabelValues(provider, errorType).Inc()
}

// UpdateCircuitBreakerState records the breaker state after a transition
func (m *Metrics) UpdateCircuitBreakerState(name string, state int) {
	if m.CircuitBreakerState == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	if state == 1 {
		m.CircuitBreakerTrips.WithLabelValues(name).Inc()
	}
}

// RecordStreamUsage records token usage and cost for a completed stream
func (m *Metrics) RecordStreamUsage(model string, inputTokens, outputTokens int64, costUSD float64) {
	if m.StreamTokens == nil {
		return
	}
	m.StreamTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	m.StreamTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	m.StreamCostUSD.WithLabelValues(model).Add(costUSD)
}

// RecordStreamOutcome records a stream session's terminal state
func (m *Metrics) RecordStreamOutcome(model, state string) {
	if m.StreamOutcomes == nil {
		return
	}
	m.StreamOutcomes.WithLabelValues(model, state).Inc()
}

// UpdateActiveConnections sets the live connection gauge
func (m *Metrics) UpdateActiveConnections(count int) {
	if m.ActiveConnections == nil {
		return
	}
	m.ActiveConnections.WithLabelValues().Set(float64(count))
}

// RecordDisconnect records a categorized disconnect
func (m *Metrics) RecordDisconnect(disconnectType string) {
	if m.Disconnects == nil {
		return
	}
	m.Disconnects.WithLabelValues(disconnectType).Inc()
}

// RecordCleanup records a cleanup outcome
func (m *Metrics) RecordCleanup(success bool) {
	if m.CleanupOutcomes == nil {
		return
	}
	m.CleanupOutcomes.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// UpdateQueuedMessages sets the offline queue gauge
func (m *Metrics) UpdateQueuedMessages(count int) {
	if m.QueuedMessages == nil {
		return
	}
	m.QueuedMessages.WithLabelValues().Set(float64(count))
}

// RecordError records an error by component and type
func (m *Metrics) RecordError(component, errorType string) {
	if m.ErrorsTotal == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordPanic records a recovered panic
func (m *Metrics) RecordPanic(component string) {
	if m.PanicsTotal == nil {
		return
	}
	m.PanicsTotal.WithLabelValues(component).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
