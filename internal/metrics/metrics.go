package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_events_dispatched_total",
			Help: "Total number of events dispatched, by tenant.",
		},
		[]string{"tenant_id"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"status"},
	)

	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookrelay_delivery_latency_seconds",
			Help:    "Webhook delivery round-trip latency by outcome.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"status"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_retries_total",
			Help: "Total number of delivery retries by failure reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network
	)

	ExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_expired_total",
			Help: "Total number of deliveries expired by the TTL sweep.",
		},
	)

	EndpointsSuspendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_endpoints_suspended_total",
			Help: "Total number of endpoints suspended by the circuit breaker.",
		},
	)

	QueueBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookrelay_queue_backlog",
			Help: "Current depth of the deliveries queue.",
		},
	)
)

// MustRegister registers all collectors on reg.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsDispatchedTotal,
		DeliveriesTotal,
		DeliveryLatency,
		RetriesTotal,
		ExpiredTotal,
		EndpointsSuspendedTotal,
		QueueBacklog,
	)
}

// RecordEventDispatched counts one dispatched event for tenantID.
func RecordEventDispatched(tenantID string) {
	if tenantID == "" {
		tenantID = "system"
	}
	EventsDispatchedTotal.WithLabelValues(tenantID).Inc()
}

// RecordDelivery counts one delivery attempt outcome and its latency.
func RecordDelivery(status string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(status).Inc()
	if latency > 0 {
		DeliveryLatency.WithLabelValues(status).Observe(latency.Seconds())
	}
}

// RecordRetry counts one scheduled retry by failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordExpired counts n deliveries expired by the sweep.
func RecordExpired(n int64) {
	ExpiredTotal.Add(float64(n))
}

// RecordEndpointSuspended counts one circuit-breaker suspension.
func RecordEndpointSuspended() {
	EndpointsSuspendedTotal.Inc()
}

// UpdateQueueBacklog sets the current queue depth gauge.
func UpdateQueueBacklog(depth float64) {
	QueueBacklog.Set(depth)
}
