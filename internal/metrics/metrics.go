package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	holdAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seat_booking",
			Name:      "hold_attempts_total",
			Help:      "Seat hold requests by outcome (created, conflict, invalid, error).",
		},
		[]string{"outcome"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seat_booking",
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by target status.",
		},
		[]string{"status"},
	)

	webhookResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seat_booking",
			Name:      "payment_webhooks_total",
			Help:      "Payment notifications by reconciliation result.",
		},
		[]string{"result"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "seat_booking",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiration sweeps.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seat_booking",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		},
		[]string{"route", "status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(holdAttempts, bookingTransitions, webhookResults, sweepDuration, httpRequests)
	})
}

// IncHold counts a hold attempt outcome
func IncHold(outcome string) {
	holdAttempts.WithLabelValues(outcome).Inc()
}

// IncTransition counts a booking moving into status
func IncTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

// IncWebhook counts a webhook reconciliation result
func IncWebhook(result string) {
	webhookResults.WithLabelValues(result).Inc()
}

// ObserveSweep records how long a sweep took
func ObserveSweep(seconds float64) {
	sweepDuration.Observe(seconds)
}

// IncHTTP counts an HTTP request
func IncHTTP(route, status string) {
	httpRequests.WithLabelValues(route, status).Inc()
}
