package adminapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marmos91/galaxycache/internal/adminapi/auth"
	"github.com/marmos91/galaxycache/internal/coherence"
)

type fakeCluster struct{ id coherence.NodeID }

func (c fakeCluster) MyNodeID() coherence.NodeID               { return c.id }
func (c fakeCluster) IsMaster() bool                           { return true }
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

func testJWTService(t *testing.T) *auth.JWTService {
	t.Helper()
	svc, err := auth.NewJWTService(auth.JWTConfig{
		Secret: "test-secret-key-that-is-at-least-32-characters-long",
	})
	if err != nil {
		t.Fatalf("NewJWTService: %v", err)
	}
	return svc
}

func TestRouter_HealthIsUnauthenticated(t *testing.T) {
	node := testNode(t)
	jwtService := testJWTService(t)
	router := NewRouter(node.Table(), node, nil, jwtService)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRouter_StatusRequiresAuth(t *testing.T) {
	node := testNode(t)
	jwtService := testJWTService(t)
	router := NewRouter(node.Table(), node, nil, jwtService)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRouter_StatusAllowsViewerToken(t *testing.T) {
	node := testNode(t)
	jwtService := testJWTService(t)
	router := NewRouter(node.Table(), node, nil, jwtService)

	token, _, err := jwtService.IssueToken("operator", auth.RoleViewer)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRouter_EvictRejectsViewerToken(t *testing.T) {
	node := testNode(t)
	jwtService := testJWTService(t)
	router := NewRouter(node.Table(), node, nil, jwtService)

	token, _, err := jwtService.IssueToken("operator", auth.RoleViewer)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/lines/1/evict", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestRouter_EvictAllowsAdminToken(t *testing.T) {
	node := testNode(t)
	if _, err := node.DoOp(context.Background(), &coherence.Op{Kind: coherence.OpSet, LineID: 1, Data: []byte("x")}); err != nil {
		t.Fatalf("SET: %v", err)
	}
	jwtService := testJWTService(t)
	router := NewRouter(node.Table(), node, nil, jwtService)

	token, _, err := jwtService.IssueToken("admin", auth.RoleAdmin)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/lines/1/evict", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
}
