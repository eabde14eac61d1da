package badger

import "testing"

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(t.TempDir(), DefaultTiers())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorage_AllocateWithEmptyFreeListMintsFresh(t *testing.T) {
	s := newTestStorage(t)

	buf, err := s.AllocateStorage(100)
	if err != nil {
		t.Fatalf("AllocateStorage() error = %v", err)
	}
	if len(buf) != 100 {
		t.Errorf("len(buf) = %d, want 100", len(buf))
	}
}

func TestStorage_DeallocateThenAllocateReusesFreeListEntry(t *testing.T) {
	s := newTestStorage(t)

	buf, err := s.AllocateStorage(10)
	if err != nil {
		t.Fatalf("AllocateStorage() error = %v", err)
	}
	for i := range buf {
		buf[i] = byte(i)
	}
	s.DeallocateStorage(1, buf)

	buf2, err := s.AllocateStorage(10)
	if err != nil {
		t.Fatalf("AllocateStorage() second call error = %v", err)
	}
	if len(buf2) != 10 {
		t.Fatalf("len(buf2) = %d, want 10", len(buf2))
	}
	if cap(buf2) != s.small {
		t.Errorf("cap(buf2) = %d, want tier size %d", cap(buf2), s.small)
	}
}

func TestStorage_OversizedAllocationBypassesFreeList(t *testing.T) {
	s := newTestStorage(t)

	buf, err := s.AllocateStorage(4 << 20)
	if err != nil {
		t.Fatalf("AllocateStorage() error = %v", err)
	}
	if len(buf) != 4<<20 {
		t.Errorf("len(buf) = %d, want %d", len(buf), 4<<20)
	}
}

func TestStorage_DeallocateNilIsNoop(t *testing.T) {
	s := newTestStorage(t)
	s.DeallocateStorage(1, nil)
}
