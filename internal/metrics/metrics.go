package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the booking engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP requests by method, route and status code
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP latency by method and route
	HTTPRequestDuration *prometheus.HistogramVec

	// Seat lock operations (operation: lock/unlock/extend/map, result: success/conflict/not_owner/error)
	SeatLockOperations *prometheus.CounterVec

	// Lock store latency (operation)
	SeatLockDuration *prometheus.HistogramVec

	// Expired locks reconciled (trigger: subscription/sweep, outcome: reverted/skipped)
	SeatLockExpiries *prometheus.CounterVec

	// Booking status transitions (from, to)
	BookingTransitions *prometheus.CounterVec

	// Consumed events (kind, result: success/skipped/retry/dlq)
	SagaEventsProcessed *prometheus.CounterVec

	// Outbox relay results (result: published/failed)
	OutboxPublished *prometheus.CounterVec

	// Connected seat stream subscribers
	StreamSubscribers prometheus.Gauge
}

// New creates metrics registered on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors on reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		SeatLockOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seat_lock_operations_total",
				Help: "Seat lock operations by outcome",
			},
			[]string{"operation", "result"},
		),
		SeatLockDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "seat_lock_duration_seconds",
				Help:    "Time spent in lock store operations",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		SeatLockExpiries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seat_lock_expiries_total",
				Help: "Expired seat locks handled by reconciliation",
			},
			[]string{"trigger", "outcome"},
		),
		BookingTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booking_status_transitions_total",
				Help: "Booking status transitions",
			},
			[]string{"from", "to"},
		),
		SagaEventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "saga_events_processed_total",
				Help: "Consumed events by kind and result",
			},
			[]string{"kind", "result"},
		),
		OutboxPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbox_messages_total",
				Help: "Outbox relay attempts by result",
			},
			[]string{"result"},
		),
		StreamSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "seat_stream_subscribers",
				Help: "Currently connected seat status stream subscribers",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SeatLockOperations,
		m.SeatLockDuration,
		m.SeatLockExpiries,
		m.BookingTransitions,
		m.SagaEventsProcessed,
		m.OutboxPublished,
		m.StreamSubscribers,
	)

	return m
}

// LockOperation counts one seat lock operation
func (m *Metrics) LockOperation(operation, result string) {
	if m == nil {
		return
	}
	m.SeatLockOperations.WithLabelValues(operation, result).Inc()
}

// ObserveLockStore records lock store latency since start
func (m *Metrics) ObserveLockStore(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.SeatLockDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// LockExpired counts a reconciled expiry
func (m *Metrics) LockExpired(trigger, outcome string) {
	if m == nil {
		return
	}
	m.SeatLockExpiries.WithLabelValues(trigger, outcome).Inc()
}

// BookingTransition counts a persisted status change
func (m *Metrics) BookingTransition(from, to string) {
	if m == nil {
		return
	}
	m.BookingTransitions.WithLabelValues(from, to).Inc()
}

// EventProcessed counts a consumed event
func (m *Metrics) EventProcessed(kind, result string) {
	if m == nil {
		return
	}
	m.SagaEventsProcessed.WithLabelValues(kind, result).Inc()
}

// OutboxResult counts an outbox relay attempt
func (m *Metrics) OutboxResult(result string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(result).Inc()
}

// StreamConnected adjusts the subscriber gauge by delta
func (m *Metrics) StreamConnected(delta float64) {
	if m == nil {
		return
	}
	m.StreamSubscribers.Add(delta)
}

// HTTPMiddleware records request count and latency per route template
func (m *Metrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
