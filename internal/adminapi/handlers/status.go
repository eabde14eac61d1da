// Package handlers implements the admin API's HTTP endpoints: node
// status, per-line diagnostics dumps, and manual eviction.
package handlers

import (
	"net/http"
	"time"

	"github.com/marmos91/galaxycache/internal/adminapi/httputil"
	"github.com/marmos91/galaxycache/internal/cluster"
	"github.com/marmos91/galaxycache/internal/coherence"
)

// StatusHandler serves node and table status for operability.
type StatusHandler struct {
	table   *coherence.Table
	cluster *cluster.Cluster
}

// NewStatusHandler builds a StatusHandler. cluster may be nil for a
// standalone node (no Postgres-backed membership configured), in which
// case node_id reports "unknown", is_master is false and standalone is
// true.
func NewStatusHandler(table *coherence.Table, c *cluster.Cluster) *StatusHandler {
	return &StatusHandler{table: table, cluster: c}
}

// nodeStatusResponse is the body returned by GET /api/v1/status.
type nodeStatusResponse struct {
	NodeID      string    `json:"node_id"`
	IsMaster    bool      `json:"is_master"`
	Standalone  bool      `json:"standalone"`
	LinesOwned  int64     `json:"lines_owned"`
	LinesShared int64     `json:"lines_shared"`
	Evictions   int64     `json:"evictions_total"`
	Allocations int64     `json:"allocations_total"`
	Timestamp   time.Time `json:"timestamp"`
}

// Status handles GET /api/v1/status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := nodeStatusResponse{
		NodeID:     "unknown",
		Standalone: h.cluster == nil,
		Timestamp:  time.Now().UTC(),
	}
	if h.cluster != nil {
		resp.NodeID = h.cluster.MyNodeID().String()
		resp.IsMaster = h.cluster.IsMaster()
	}
	if h.table != nil {
		m := h.table.Metrics()
		resp.LinesOwned = m.Owned
		resp.LinesShared = m.Shared
		resp.Evictions = m.Evictions
		resp.Allocations = m.Allocations
	}
	httputil.WriteJSONOK(w, resp)
}
