package metrics

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with every collector registered.
// Tests create their own so counters start at zero.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
	}

	r.initRPCMetrics()
	r.initClusterMetrics()
	r.initSubscriptionMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
// System gauges are refreshed on every scrape.
func (r *Registry) Handler() http.Handler {
	inner := promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.UpdateSystemMetrics()
		inner.ServeHTTP(w, req)
	})
}

// RecordRequest records one handled RPC
func (r *Registry) RecordRequest(opcode, status string, duration time.Duration) {
	r.RPCRequestsTotal.WithLabelValues(opcode, status).Inc()
	r.RPCRequestDuration.WithLabelValues(opcode).Observe(duration.Seconds())
}

// RecordCodecError records a frame that failed to decode
func (r *Registry) RecordCodecError(format, status string) {
	r.CodecErrorsTotal.WithLabelValues(format, status).Inc()
}

// RecordFrame records the size of a frame read or written
func (r *Registry) RecordFrame(format, direction string, size int) {
	r.FrameSizeBytes.WithLabelValues(format, direction).Observe(float64(size))
}

// RecordHeartbeat records one probe outcome ("ok" or "miss")
func (r *Registry) RecordHeartbeat(result string) {
	r.ClusterHeartbeatsTotal.WithLabelValues(result).Inc()
}

// UpdateClusterMetrics publishes a snapshot of the cluster view
func (r *Registry) UpdateClusterMetrics(members, reachable int, epoch uint64, leader bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ClusterMembersTotal.Set(float64(members))
	r.ClusterReachableMembers.Set(float64(reachable))
	r.ClusterEpoch.Set(float64(epoch))

	if leader {
		r.ClusterRole.WithLabelValues(RoleLeader).Set(1)
		r.ClusterRole.WithLabelValues(RoleFollower).Set(0)
	} else {
		r.ClusterRole.WithLabelValues(RoleLeader).Set(0)
		r.ClusterRole.WithLabelValues(RoleFollower).Set(1)
	}
}

// UpdateSystemMetrics refreshes uptime, goroutine and heap gauges
func (r *Registry) UpdateSystemMetrics() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	r.UptimeSeconds.Set(time.Since(r.started).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(mem.Alloc))
}
