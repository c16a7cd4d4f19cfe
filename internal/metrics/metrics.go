// Package metrics exposes the Prometheus instruments of the federation core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActivitiesProcessed counts inbound activities by type and terminal
	// outcome (applied or ignored).
	ActivitiesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atoll",
		Subsystem: "federation",
		Name:      "activities_processed_total",
		Help:      "Inbound activities by type and outcome.",
	}, []string{"type", "outcome"})

	// DeliveryAttempts counts outbound delivery attempts by outcome.
	DeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atoll",
		Subsystem: "federation",
		Name:      "delivery_attempts_total",
		Help:      "Outbound delivery attempts by outcome.",
	}, []string{"outcome"})
)

func outcomeLabel(applied bool) string {
	if applied {
		return "applied"
	}
	return "ignored"
}

// ObserveActivity records one processed inbound activity.
func ObserveActivity(activityType string, applied bool) {
	ActivitiesProcessed.WithLabelValues(activityType, outcomeLabel(applied)).Inc()
}

// ObserveDelivery records one outbound delivery attempt.
func ObserveDelivery(success bool) {
	if success {
		DeliveryAttempts.WithLabelValues("success").Inc()
		return
	}
	DeliveryAttempts.WithLabelValues("failure").Inc()
}
