package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initRPCMetrics() {
	r.RPCRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rpc_requests_total",
			Help:      "Total number of handled RPC requests",
		},
		[]string{"opcode", "status"},
	)

	r.RPCRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "Time to produce the first reply of an RPC",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"opcode"},
	)

	r.RPCConnectionsActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "rpc_connections_active",
			Help:      "Currently open inbound connections",
		},
	)

	r.RPCConnectionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rpc_connections_total",
			Help:      "Inbound connections accepted, by detected wire format",
		},
		[]string{"format"},
	)

	r.RPCRedirectsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rpc_redirects_total",
			Help:      "Writes answered with NOT_LEADER",
		},
		[]string{"opcode"},
	)

	r.CodecErrorsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "codec_errors_total",
			Help:      "Frames that failed to decode",
		},
		[]string{"format", "status"},
	)

	r.FrameSizeBytes = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "frame_size_bytes",
			Help:      "Size of frames on the wire",
			Buckets:   prometheus.ExponentialBuckets(32, 4, 8),
		},
		[]string{"format", "direction"}, // in, out
	)

	r.OutboundCallsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "outbound_calls_total",
			Help:      "Calls made to other servers",
		},
		[]string{"opcode", "result"}, // ok, error
	)
}
