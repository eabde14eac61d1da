// Package badger implements coherence.CacheStorage backed by a
// github.com/dgraph-io/badger/v4 database acting as a durable free
// list: deallocated buffers are written back to badger's value log
// instead of being dropped for the GC, so a node that restarts with a
// warm badger directory can reuse already-disk-backed buffers for its
// biggest lines instead of re-growing the Go heap from nothing. This
// trades a disk round trip on the (rare) free-list hit for avoiding
// repeated large-buffer churn across restarts; it is not a content
// store (recovering a line's actual data after a crash is
// internal/backup's job, not this package's).
package badger

import (
	"bytes"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/galaxycache/internal/coherence"
)

const freeListPrefix = "free/"

// Storage is a badger-backed coherence.CacheStorage.
type Storage struct {
	db       *badgerdb.DB
	small    int
	medium   int
	large    int
	sequence *badgerdb.Sequence
}

var _ coherence.CacheStorage = (*Storage)(nil)

// Tiers mirrors pkg/bufpool's size classes so the free list buckets
// buffers the same way the in-memory pool does.
type Tiers struct {
	Small  int
	Medium int
	Large  int
}

// DefaultTiers matches pkg/bufpool's defaults.
func DefaultTiers() Tiers {
	return Tiers{Small: 4 << 10, Medium: 64 << 10, Large: 1 << 20}
}

// New opens (or creates) the badger database at dir.
func New(dir string, tiers Tiers) (*Storage, error) {
	opts := badgerdb.DefaultOptions(dir)
	opts.Logger = nil // the engine has its own structured logger; badger's default is noisy stdlib log

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger storage: open %s: %w", dir, err)
	}

	seq, err := db.GetSequence([]byte("galaxycache-storage-seq"), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badger storage: get sequence: %w", err)
	}

	if tiers.Small == 0 && tiers.Medium == 0 && tiers.Large == 0 {
		tiers = DefaultTiers()
	}

	return &Storage{db: db, small: tiers.Small, medium: tiers.Medium, large: tiers.Large, sequence: seq}, nil
}

// classSize returns the tier size that fits length, or 0 if length
// exceeds every tier (bypassing the free list entirely, same as
// pkg/bufpool's oversized-allocation path).
func (s *Storage) classSize(length int) int {
	switch {
	case length <= s.small:
		return s.small
	case length <= s.medium:
		return s.medium
	case length <= s.large:
		return s.large
	default:
		return 0
	}
}

func freeListKey(classSize int, seq uint64) []byte {
	return fmt.Appendf(nil, "%s%d/%020d", freeListPrefix, classSize, seq)
}

// AllocateStorage returns a free-listed buffer of the matching size
// class if badger is holding one, otherwise a freshly made slice.
func (s *Storage) AllocateStorage(length int) ([]byte, error) {
	class := s.classSize(length)
	if class == 0 {
		return make([]byte, length), nil
	}

	var buf []byte
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		prefix := fmt.Appendf(nil, "%s%d/", freeListPrefix, class)
		it := txn.NewIterator(badgerdb.IteratorOptions{Prefix: prefix})
		defer it.Close()

		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			buf = make([]byte, class)
			return nil
		}

		item := it.Item()
		key := bytes.Clone(item.Key())
		val, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read free-list entry: %w", err)
		}
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("delete free-list entry: %w", err)
		}
		buf = val
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger storage: allocate %d: %w", length, err)
	}

	return buf[:length], nil
}

// DeallocateStorage writes buf back into the free list under its size
// class. id is recorded nowhere: the free list is anonymous, same as
// pkg/bufpool's capacity-keyed sync.Pool.
func (s *Storage) DeallocateStorage(_ coherence.LineID, buf []byte) {
	if buf == nil {
		return
	}
	class := s.classSize(cap(buf))
	if class == 0 || cap(buf) != class {
		return // oversized or undersized for any tier: let the GC reclaim it
	}

	seq, err := s.sequence.Next()
	if err != nil {
		return
	}

	full := buf[:cap(buf)]
	_ = s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(freeListKey(class, seq), full)
	})
}

// Close releases the sequence lease and the underlying database.
func (s *Storage) Close() error {
	_ = s.sequence.Release()
	return s.db.Close()
}
