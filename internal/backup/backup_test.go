//go:build !windows

package backup

import (
	"context"
	"testing"

	"github.com/marmos91/galaxycache/internal/coherence"
	"github.com/marmos91/galaxycache/pkg/config"
)

func newTestStore(t *testing.T, fetch DataFetcher) *Store {
	t.Helper()
	cfg := config.BackupConfig{Path: t.TempDir()}
	s, err := New(context.Background(), cfg, fetch, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_BackupOutsideBatchFlushesImmediately(t *testing.T) {
	data := map[uint64][]byte{1: []byte("hello")}
	s := newTestStore(t, func(id uint64) ([]byte, bool) {
		d, ok := data[id]
		return d, ok
	})

	if err := s.Backup(context.Background(), coherence.LineID(1), 1); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	recovered, err := s.Recover()
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	rl, ok := recovered[1]
	if !ok {
		t.Fatal("Recover() missing line 1 after immediate flush")
	}
	if rl.Version != 1 || string(rl.Data) != "hello" {
		t.Errorf("recovered = %+v, want version 1 data hello", rl)
	}
}

func TestStore_BatchDefersUntilEndBackup(t *testing.T) {
	calls := 0
	s := newTestStore(t, func(id uint64) ([]byte, bool) {
		calls++
		return []byte("x"), true
	})

	s.StartBackup()
	if err := s.Backup(context.Background(), coherence.LineID(1), 1); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if err := s.Backup(context.Background(), coherence.LineID(2), 1); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if calls != 0 {
		t.Fatalf("fetch called %d times before EndBackup, want 0", calls)
	}

	s.EndBackup()
	if calls != 2 {
		t.Errorf("fetch called %d times after EndBackup, want 2", calls)
	}
}

func TestStore_FetchMissSkipsWithoutError(t *testing.T) {
	s := newTestStore(t, func(id uint64) ([]byte, bool) { return nil, false })

	if err := s.Backup(context.Background(), coherence.LineID(1), 1); err != nil {
		t.Fatalf("Backup() with fetch miss error = %v", err)
	}

	recovered, err := s.Recover()
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if _, ok := recovered[1]; ok {
		t.Error("Recover() should not surface a line whose fetch missed")
	}
}

func TestStore_InvReturnsTrue(t *testing.T) {
	s := newTestStore(t, nil)

	ok, err := s.Inv(context.Background(), coherence.LineID(1), coherence.NodeID(2))
	if err != nil {
		t.Fatalf("Inv() error = %v", err)
	}
	if !ok {
		t.Error("Inv() = false, want true (no sharer views ever cached here)")
	}
}

func TestStore_InvalidateRemovesFromRecover(t *testing.T) {
	s := newTestStore(t, func(id uint64) ([]byte, bool) { return []byte("v"), true })

	if err := s.Backup(context.Background(), coherence.LineID(1), 1); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if err := s.Invalidate(1); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	recovered, err := s.Recover()
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if _, ok := recovered[1]; ok {
		t.Error("Recover() should not surface an invalidated line")
	}
}
