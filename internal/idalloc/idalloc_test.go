//go:build integration

package idalloc

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marmos91/galaxycache/pkg/config"
)

func newTestAllocator(t *testing.T) *Allocator {
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

	dsn := fmt.Sprintf("postgres://galaxycache_test:galaxycache_test@%s:%s/galaxycache_test?sslmode=disable",
		host, port.Port())

	a, err := New(ctx, config.PostgresConfig{DSN: dsn}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestAllocator_AllocateIdsReturnsDistinctRanges(t *testing.T) {
	a := newTestAllocator(t)
	ctx := context.Background()

	first1, ready1, err := a.AllocateIds(ctx, 10)
	if err != nil {
		t.Fatalf("first AllocateIds() error = %v", err)
	}
	if ready1 != nil {
		t.Fatal("first AllocateIds() returned a ready channel, want immediate success")
	}

	first2, ready2, err := a.AllocateIds(ctx, 10)
	if err != nil {
		t.Fatalf("second AllocateIds() error = %v", err)
	}
	if ready2 != nil {
		t.Fatal("second AllocateIds() returned a ready channel, want immediate success")
	}

	if int64(first2) < int64(first1)+10 {
		t.Errorf("second range %d overlaps first range starting at %d", first2, first1)
	}
}

func TestAllocator_AllocateIdsSeedsAboveReservedRange(t *testing.T) {
	a := newTestAllocator(t)

	first, _, err := a.AllocateIds(context.Background(), 1)
	if err != nil {
		t.Fatalf("AllocateIds() error = %v", err)
	}
	if first <= 0xFFFFFFFF {
		t.Errorf("first allocated id %d falls within the reserved range", first)
	}
}
