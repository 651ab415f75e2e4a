package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initClusterMetrics() {
	r.ClusterMembersTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "cluster_members_total",
			Help:      "Members known to the local directory, self included",
		},
	)

	r.ClusterReachableMembers = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "cluster_reachable_members",
			Help:      "Members currently considered reachable",
		},
	)

	r.ClusterEpoch = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "cluster_epoch",
			Help:      "Current leadership epoch",
		},
	)

	r.ClusterRole = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "cluster_role",
			Help:      "Role of this server (1 for the current role, 0 otherwise)",
		},
		[]string{"role"},
	)

	r.ClusterElectionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cluster_elections_total",
			Help:      "Leader elections started by this server",
		},
		[]string{"result"}, // won, deferred, rejected
	)

	r.ClusterHeartbeatsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cluster_heartbeats_total",
			Help:      "Heartbeat probes sent, by outcome",
		},
		[]string{"result"},
	)

	r.ClusterPeerTransitions = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cluster_peer_transitions_total",
			Help:      "Peer reachability changes",
		},
		[]string{"transition"}, // unreachable, recovered
	)

	r.ClusterStaleAnnouncements = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cluster_stale_announcements_total",
			Help:      "Leadership announcements dropped for carrying an old epoch",
		},
	)

	r.ClusterPurgedMembers = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cluster_purged_members_total",
			Help:      "Members removed after an extended absence",
		},
	)

	r.ReplicationWritesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "replication_writes_total",
			Help:      "Writes replicated between leader and followers",
		},
		[]string{"direction", "result"}, // sent/applied, ok/stale/error
	)
}
