package memory

import "testing"

func TestStorage_AllocateReturnsRequestedLength(t *testing.T) {
	s := New(nil)

	buf, err := s.AllocateStorage(100)
	if err != nil {
		t.Fatalf("AllocateStorage() error = %v", err)
	}
	if len(buf) != 100 {
		t.Errorf("len(buf) = %d, want 100", len(buf))
	}
}

func TestStorage_DeallocateThenReallocateReusesCapacity(t *testing.T) {
	s := New(nil)

	buf, err := s.AllocateStorage(10)
	if err != nil {
		t.Fatalf("AllocateStorage() error = %v", err)
	}
	capBefore := cap(buf)
	s.DeallocateStorage(1, buf)

	buf2, err := s.AllocateStorage(10)
	if err != nil {
		t.Fatalf("AllocateStorage() second call error = %v", err)
	}
	if cap(buf2) != capBefore {
		t.Errorf("cap(buf2) = %d, want %d (pooled tier capacity)", cap(buf2), capBefore)
	}
}

func TestStorage_DeallocateNilIsNoop(t *testing.T) {
	s := New(nil)
	s.DeallocateStorage(1, nil)
}

func TestStorage_OversizedAllocationBypassesPool(t *testing.T) {
	s := New(nil)

	buf, err := s.AllocateStorage(4 << 20)
	if err != nil {
		t.Fatalf("AllocateStorage() error = %v", err)
	}
	if len(buf) != 4<<20 {
		t.Errorf("len(buf) = %d, want %d", len(buf), 4<<20)
	}
}
