//go:build integration

package cluster

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marmos91/galaxycache/internal/coherence"
	"github.com/marmos91/galaxycache/pkg/config"
)

type fakePeerRegistry struct {
	mu      sync.Mutex
	updated map[coherence.NodeID]string
	removed map[coherence.NodeID]bool
}

func newFakePeerRegistry() *fakePeerRegistry {
	return &fakePeerRegistry{updated: make(map[coherence.NodeID]string), removed: make(map[coherence.NodeID]bool)}
}

func (f *fakePeerRegistry) UpdatePeer(id coherence.NodeID, addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[id] = addr
}

func (f *fakePeerRegistry) RemovePeer(id coherence.NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[id] = true
}

type fakeEventSink struct {
	mu       sync.Mutex
	removed  []coherence.NodeID
	switched []coherence.NodeID
}

func (f *fakeEventSink) NodeRemoved(_ context.Context, node coherence.NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, node)
}

func (f *fakeEventSink) NodeSwitched(_ context.Context, node coherence.NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switched = append(f.switched, node)
}

func newTestDSN(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("galaxycache_test"),
		postgres.WithUsername("galaxycache_test"),
		postgres.WithPassword("galaxycache_test"),
		testcontainers.WithWaitStrategyAndDeadline(2*time.Minute,
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	return fmt.Sprintf("postgres://galaxycache_test:galaxycache_test@%s:%s/galaxycache_test?sslmode=disable",
		host, port.Port())
}

func TestCluster_FirstNodeBecomesMaster(t *testing.T) {
	dsn := newTestDSN(t)
	ctx := context.Background()

	c, err := New(ctx, config.PostgresConfig{DSN: dsn}, config.NodeConfig{ListenAddr: "127.0.0.1:9001"},
		newFakePeerRegistry(), &fakeEventSink{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	if !c.IsMaster() {
		t.Error("first node registered should become master")
	}
	if got := c.Master(c.MyNodeID()); got != c.MyNodeID() {
		t.Errorf("Master(self) = %v, want %v", got, c.MyNodeID())
	}
}

func TestCluster_SecondNodePairsAsSlave(t *testing.T) {
	dsn := newTestDSN(t)
	ctx := context.Background()

	first, err := New(ctx, config.PostgresConfig{DSN: dsn}, config.NodeConfig{ListenAddr: "127.0.0.1:9001"},
		newFakePeerRegistry(), &fakeEventSink{}, nil)
	if err != nil {
		t.Fatalf("New() first error = %v", err)
	}
	defer first.Close()

	second, err := New(ctx, config.PostgresConfig{DSN: dsn}, config.NodeConfig{ListenAddr: "127.0.0.1:9002"},
		newFakePeerRegistry(), &fakeEventSink{}, nil)
	if err != nil {
		t.Fatalf("New() second error = %v", err)
	}
	defer second.Close()

	if second.IsMaster() {
		t.Error("second node registered should pair as slave, not become master")
	}
	if got := second.Master(second.MyNodeID()); got != first.MyNodeID() {
		t.Errorf("second.Master(self) = %v, want first node id %v", got, first.MyNodeID())
	}
}

func TestCluster_PollMembershipDiscoversPeer(t *testing.T) {
	dsn := newTestDSN(t)
	ctx := context.Background()

	peersA := newFakePeerRegistry()
	a, err := New(ctx, config.PostgresConfig{DSN: dsn}, config.NodeConfig{ListenAddr: "127.0.0.1:9001"},
		peersA, &fakeEventSink{}, nil)
	if err != nil {
		t.Fatalf("New() a error = %v", err)
	}
	defer a.Close()

	b, err := New(ctx, config.PostgresConfig{DSN: dsn}, config.NodeConfig{ListenAddr: "127.0.0.1:9002"},
		newFakePeerRegistry(), &fakeEventSink{}, nil)
	if err != nil {
		t.Fatalf("New() b error = %v", err)
	}
	defer b.Close()

	if err := a.pollMembership(ctx); err != nil {
		t.Fatalf("pollMembership() error = %v", err)
	}

	peersA.mu.Lock()
	addr, ok := peersA.updated[b.MyNodeID()]
	peersA.mu.Unlock()
	if !ok {
		t.Fatalf("a never learned about peer b (node %v)", b.MyNodeID())
	}
	if addr != "127.0.0.1:9002" {
		t.Errorf("a's record of b's address = %q, want 127.0.0.1:9002", addr)
	}
}
