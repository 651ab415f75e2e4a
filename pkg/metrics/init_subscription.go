package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSubscriptionMetrics() {
	r.SubscriptionsActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "subscriptions_active",
			Help:      "Open MonitorMessages subscriptions",
		},
	)

	r.SubscriptionsEvictedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "subscriptions_evicted_total",
			Help:      "Subscriptions closed because their backlog grew too large",
		},
	)

	r.MessagesDeliveredTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_delivered_total",
			Help:      "Messages queued to a live subscription",
		},
	)

	r.MessagesPendingTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_pending_total",
			Help:      "Messages stored as pending because the recipient was offline",
		},
	)
}
