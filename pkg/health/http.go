package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves the aggregated result as JSON. Unhealthy responds 503,
// healthy and degraded respond 200.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		result := r.Check(req.Context())
		status := http.StatusOK
		if result.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(result)
	})
}
