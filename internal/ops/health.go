package ops

import (
	"encoding/json"
	"net/http"
)

// newHealthHandler renders the current SystemHealth from healthFn as JSON,
// setting a 503 status when the snapshot reports unhealthy so uptime
// monitors and load balancers can key off HTTP status alone.
func newHealthHandler(serviceName string, healthFn HealthProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := healthFn(r.Context())
		health.Service = serviceName

		w.Header().Set("Content-Type", "application/json")
		if !health.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	}
}
