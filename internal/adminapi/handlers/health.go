package handlers

import (
	"net/http"
	"time"

	"github.com/marmos91/galaxycache/internal/adminapi/httputil"
	"github.com/marmos91/galaxycache/internal/cluster"
)

// HealthHandler serves unauthenticated liveness/readiness probes.
type HealthHandler struct {
	cluster   *cluster.Cluster
	startTime time.Time
}

// NewHealthHandler builds a HealthHandler. cluster may be nil for a
// standalone node; readiness then always reports healthy.
func NewHealthHandler(c *cluster.Cluster) *HealthHandler {
	return &HealthHandler{cluster: c, startTime: time.Now()}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	httputil.WriteJSON(w, http.StatusOK, httputil.Healthy(map[string]any{
		"service":    "galaxycache",
		"started_at": h.startTime.UTC().Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
	}))
}

// Readiness handles GET /health/ready. A node with cluster membership
// configured is only ready once it has registered a node id.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.cluster == nil {
		httputil.WriteJSON(w, http.StatusOK, httputil.Healthy(map[string]any{"mode": "standalone"}))
		return
	}
	if h.cluster.MyNodeID().String() == "unknown" {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.Unhealthy("cluster registration not yet complete"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Healthy(map[string]any{
		"node_id":   h.cluster.MyNodeID().String(),
		"is_master": h.cluster.IsMaster(),
	}))
}
