package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name
const Namespace = "cluso_chat"

// Registry holds all metrics for a chat server process
type Registry struct {
	// RPC metrics
	RPCRequestsTotal     *prometheus.CounterVec
	RPCRequestDuration   *prometheus.HistogramVec
	RPCConnectionsActive prometheus.Gauge
	RPCConnectionsTotal  *prometheus.CounterVec
	RPCRedirectsTotal    *prometheus.CounterVec
	CodecErrorsTotal     *prometheus.CounterVec
	FrameSizeBytes       *prometheus.HistogramVec
	OutboundCallsTotal   *prometheus.CounterVec

	// Cluster metrics
	ClusterMembersTotal       prometheus.Gauge
	ClusterReachableMembers   prometheus.Gauge
	ClusterEpoch              prometheus.Gauge
	ClusterRole               *prometheus.GaugeVec
	ClusterElectionsTotal     *prometheus.CounterVec
	ClusterHeartbeatsTotal    *prometheus.CounterVec
	ClusterPeerTransitions    *prometheus.CounterVec
	ClusterStaleAnnouncements prometheus.Counter
	ClusterPurgedMembers      prometheus.Counter
	ReplicationWritesTotal    *prometheus.CounterVec

	// Subscription metrics
	SubscriptionsActive       prometheus.Gauge
	SubscriptionsEvictedTotal prometheus.Counter
	MessagesDeliveredTotal    prometheus.Counter
	MessagesPendingTotal      prometheus.Counter

	// System metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge

	registry *prometheus.Registry
	started  time.Time
	mu       sync.Mutex
}

// Role label values for ClusterRole
const (
	RoleLeader   = "leader"
	RoleFollower = "follower"
)
