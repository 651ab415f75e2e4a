package health

import (
	"encoding/json"
	"net/http"

	"github.com/dd0wney/cluso-chat/pkg/cluster"
)

// Handler serves the checks of kind. Unhealthy answers 503; for readiness
// and liveness so does degraded.
func (hc *HealthChecker) Handler(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := hc.Run(r.Context(), kind)
		code := http.StatusOK
		if resp.Status == StatusUnhealthy || (kind != KindOverall && resp.Status != StatusHealthy) {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

// ClusterHandler serves the directory snapshot as JSON
func ClusterHandler(view func() cluster.ClusterView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, view())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
