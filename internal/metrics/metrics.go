package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the marketplace collectors. A nil *Metrics is a no-op so
// services can be constructed without a registry in tests.
type Metrics struct {
	reservations        *prometheus.CounterVec
	creditsReserved     prometheus.Counter
	creditsReleased     *prometheus.CounterVec
	ordersCreated       *prometheus.CounterVec
	orderTransitions    *prometheus.CounterVec
	transitionConflicts prometheus.Counter
	sweepRuns           *prometheus.CounterVec
	sweptOrders         prometheus.Counter
	notifyFailures      *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
}

// New registers every collector on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.reservations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_credit_reservations_total",
			Help: "credit reservation attempts by result",
		},
		[]string{"result"},
	)
	m.creditsReserved = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_credits_reserved_total",
			Help: "credits moved out of available inventory",
		},
	)
	m.creditsReleased = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_credits_released_total",
			Help: "credits returned to available inventory",
		},
		[]string{"reason"},
	)
	m.ordersCreated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_orders_created_total",
			Help: "orders persisted in pending state",
		},
		[]string{"currency"},
	)
	m.orderTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_order_transitions_total",
			Help: "committed order status transitions",
		},
		[]string{"from", "to"},
	)
	m.transitionConflicts = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_order_transition_conflicts_total",
			Help: "optimistic version conflicts seen while transitioning orders",
		},
	)
	m.sweepRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_checkout_sweeps_total",
			Help: "checkout sweeper runs by result",
		},
		[]string{"result"},
	)
	m.sweptOrders = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_checkout_swept_orders_total",
			Help: "pending orders failed by the checkout sweeper",
		},
	)
	m.notifyFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_notification_failures_total",
			Help: "order event deliveries that failed",
		},
		[]string{"channel"},
	)
	m.requestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	return m
}

// Reservation records a reserve attempt; ok is false when credits were insufficient
func (m *Metrics) Reservation(amount int64, ok bool) {
	if m == nil {
		return
	}
	if !ok {
		m.reservations.WithLabelValues("insufficient").Inc()
		return
	}
	m.reservations.WithLabelValues("reserved").Inc()
	m.creditsReserved.Add(float64(amount))
}

// Released records credits returned to inventory
func (m *Metrics) Released(reason string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsReleased.WithLabelValues(reason).Add(float64(amount))
}

func (m *Metrics) OrderCreated(currency string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(currency).Inc()
}

func (m *Metrics) OrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) TransitionConflict() {
	if m == nil {
		return
	}
	m.transitionConflicts.Inc()
}

// Sweep records one sweeper run; result is "ok", "skipped" or "error"
func (m *Metrics) Sweep(result string, swept int) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweptOrders.Add(float64(swept))
}

func (m *Metrics) NotificationFailed(channel string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(channel).Inc()
}

// GinMiddleware observes request latency by matched route
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
