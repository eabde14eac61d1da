package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/galaxycache/internal/coherence"
)

type fakeCluster struct{ id coherence.NodeID }

func (c fakeCluster) MyNodeID() coherence.NodeID     { return c.id }
func (c fakeCluster) IsMaster() bool                 { return true }
func (c fakeCluster) Master(coherence.NodeID) coherence.NodeID { return c.id }

func testNode(t *testing.T) *coherence.Node {
	t.Helper()
	cfg := coherence.DefaultConfig()
	cfg.Timeout = 200 * time.Millisecond
	n, err := coherence.NewNode(cfg, coherence.NodeDeps{
		Comm:    &coherence.Comm{},
		Cluster: fakeCluster{id: 1},
	})
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}
	return n
}

func TestStatusHandler_ReportsTableCounters(t *testing.T) {
	node := testNode(t)
	table := node.Table()
	if _, err := node.DoOp(context.Background(), &coherence.Op{Kind: coherence.OpSet, LineID: 1, Data: []byte("x")}); err != nil {
		t.Fatalf("SET: %v", err)
	}

	h := NewStatusHandler(table, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rr := httptest.NewRecorder()
	h.Status(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestLineHandler_GetReturnsNotFoundForMissingLine(t *testing.T) {
	node := testNode(t)
	h := NewLineHandler(node.Table(), node)

	r := chi.NewRouter()
	r.Get("/lines/{id}", h.Get)

	req := httptest.NewRequest(http.MethodGet, "/lines/999", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestLineHandler_GetReturnsLineSnapshot(t *testing.T) {
	node := testNode(t)
	ctx := context.Background()
	if _, err := node.DoOp(ctx, &coherence.Op{Kind: coherence.OpSet, LineID: 7, Data: []byte("hi")}); err != nil {
		t.Fatalf("SET: %v", err)
	}

	h := NewLineHandler(node.Table(), node)
	r := chi.NewRouter()
	r.Get("/lines/{id}", h.Get)

	req := httptest.NewRequest(http.MethodGet, "/lines/7", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestLineHandler_EvictRejectsNonIntegerID(t *testing.T) {
	node := testNode(t)
	h := NewLineHandler(node.Table(), node)

	r := chi.NewRouter()
	r.Post("/lines/{id}/evict", h.Evict)

	req := httptest.NewRequest(http.MethodPost, "/lines/not-a-number/evict", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestLineHandler_EvictSucceedsForResidentLine(t *testing.T) {
	node := testNode(t)
	ctx := context.Background()
	if _, err := node.DoOp(ctx, &coherence.Op{Kind: coherence.OpSet, LineID: 3, Data: []byte("x")}); err != nil {
		t.Fatalf("SET: %v", err)
	}

	h := NewLineHandler(node.Table(), node)
	r := chi.NewRouter()
	r.Post("/lines/{id}/evict", h.Evict)

	req := httptest.NewRequest(http.MethodPost, "/lines/3/evict", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
}
