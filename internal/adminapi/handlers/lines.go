package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/galaxycache/internal/adminapi/httputil"
	"github.com/marmos91/galaxycache/internal/coherence"
)

// LineHandler serves read-only dumps of cached line records, mirroring
// the teacher's cli/output status rendering but over HTTP.
type LineHandler struct {
	table *coherence.Table
	node  *coherence.Node
}

// NewLineHandler builds a LineHandler.
func NewLineHandler(table *coherence.Table, node *coherence.Node) *LineHandler {
	return &LineHandler{table: table, node: node}
}

// lineSnapshotResponse mirrors coherence.LineSnapshot with JSON tags
// and human-readable enum strings.
type lineSnapshotResponse struct {
	ID          int64    `json:"id"`
	State       string   `json:"state"`
	NextState   string   `json:"next_state"`
	Owner       string   `json:"owner"`
	Sharers     []string `json:"sharers"`
	Version     uint64   `json:"version"`
	Flags       string   `json:"flags"`
	PendingOps  int      `json:"pending_ops"`
	PendingMsgs int      `json:"pending_msgs"`
}

func toLineSnapshotResponse(s coherence.LineSnapshot) lineSnapshotResponse {
	sharers := make([]string, len(s.Sharers))
	for i, id := range s.Sharers {
		sharers[i] = id.String()
	}
	return lineSnapshotResponse{
		ID:          int64(s.ID),
		State:       s.State.String(),
		NextState:   s.NextState.String(),
		Owner:       s.Owner.String(),
		Sharers:     sharers,
		Version:     s.Version,
		Flags:       s.Flags.String(),
		PendingOps:  s.PendingOps,
		PendingMsgs: s.PendingMsgs,
	}
}

// List handles GET /api/v1/lines: a dump of every line currently
// resident in this node's table. Unbounded by design; this endpoint is
// an operability tool, not a paginated listing API.
func (h *LineHandler) List(w http.ResponseWriter, r *http.Request) {
	var out []lineSnapshotResponse
	h.table.ForEach(func(l *coherence.Line) {
		out = append(out, toLineSnapshotResponse(l.Snapshot()))
	})
	httputil.WriteJSONOK(w, out)
}

// Get handles GET /api/v1/lines/{id}: a single line's record.
func (h *LineHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseLineID(w, r)
	if !ok {
		return
	}
	line, found := h.table.Lookup(id)
	if !found {
		httputil.NotFound(w, "line not resident in this node's table")
		return
	}
	httputil.WriteJSONOK(w, toLineSnapshotResponse(line.Snapshot()))
}

// Evict handles POST /api/v1/lines/{id}/evict: forces a local
// OpDel on the line. There is no separate "demote" primitive in the
// coherence engine; forcing eviction drops ownership/sharer status
// immediately and lets the protocol re-acquire whatever state the next
// local Get/GetX actually needs.
func (h *LineHandler) Evict(w http.ResponseWriter, r *http.Request) {
	id, ok := parseLineID(w, r)
	if !ok {
		return
	}
	if _, err := h.node.DoOp(r.Context(), &coherence.Op{Kind: coherence.OpDel, LineID: id}); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseLineID(w http.ResponseWriter, r *http.Request) (coherence.LineID, bool) {
	raw := chi.URLParam(r, "id")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httputil.BadRequest(w, "line id must be an integer")
		return 0, false
	}
	return coherence.LineID(n), true
}
