package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuantityMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_quantity_mutations_total",
			Help: "Add-on subscription item quantity mutations sent to the payment processor",
		},
		[]string{"op"},
	)

	Inconsistencies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_inconsistencies_total",
			Help: "Local writes that failed after an external billing mutation had already committed",
		},
		[]string{"operation"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Payment processor webhook events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	TrialActivations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_trial_activations_total",
			Help: "Trial activation attempts by outcome",
		},
		[]string{"outcome"},
	)

	GatewayRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_gateway_retries_total",
			Help: "Rate-limited payment processor reads that were retried",
		},
		[]string{"operation"},
	)
)
