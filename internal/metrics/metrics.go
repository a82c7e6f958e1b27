// Package metrics registers the Prometheus counters exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// OTPVerifications counts passcode checks by result
	// (ok, mismatch, not_found, exhausted).
	OTPVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "broker",
		Subsystem: "auth",
		Name:      "otp_verifications_total",
		Help:      "One-time passcode verifications by result.",
	}, []string{"result"})

	// TokenRefreshes counts refresh attempts by result.
	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "broker",
		Subsystem: "auth",
		Name:      "token_refreshes_total",
		Help:      "Refresh token rotations by result.",
	}, []string{"result"})

	// TokenReuse counts detected refresh token replays.
	TokenReuse = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "broker",
		Subsystem: "auth",
		Name:      "token_reuse_detected_total",
		Help:      "Rotated refresh tokens presented again.",
	})

	// SessionsEvicted counts sessions revoked by the per-user cap.
	SessionsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "broker",
		Subsystem: "auth",
		Name:      "sessions_evicted_total",
		Help:      "Sessions revoked because the user exceeded the session cap.",
	})

	// PaymentWebhooks counts webhook deliveries by outcome.
	PaymentWebhooks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "broker",
		Subsystem: "payment",
		Name:      "webhooks_total",
		Help:      "Payment processor notifications by outcome.",
	}, []string{"outcome"})

	// PaymentInitiations counts initiate calls, split by replay.
	PaymentInitiations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "broker",
		Subsystem: "payment",
		Name:      "initiations_total",
		Help:      "Payment initiations; replayed=true for idempotent repeats.",
	}, []string{"replayed"})

	// OrderTransitions counts accepted order transitions by target status.
	OrderTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "broker",
		Subsystem: "order",
		Name:      "transitions_total",
		Help:      "Accepted order status transitions by target status.",
	}, []string{"to"})
)

func init() {
	prometheus.MustRegister(
		OTPVerifications,
		TokenRefreshes,
		TokenReuse,
		SessionsEvicted,
		PaymentWebhooks,
		PaymentInitiations,
		OrderTransitions,
	)
}
