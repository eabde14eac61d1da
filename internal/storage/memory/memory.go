// Package memory implements coherence.CacheStorage on top of
// pkg/bufpool's tiered sync.Pool allocator — this is the default
// allocator: data never outlives the process, allocation and
// deallocation never leave user space.
package memory

import (
	"github.com/marmos91/galaxycache/internal/coherence"
	"github.com/marmos91/galaxycache/pkg/bufpool"
)

// Storage is a process-local, non-persistent coherence.CacheStorage.
type Storage struct {
	pool *bufpool.Pool
}

var _ coherence.CacheStorage = (*Storage)(nil)

// New builds a Storage with the default small/medium/large tier sizes.
// Pass a non-nil cfg to tune tier boundaries (e.g. around
// Config.MaxItemSize).
func New(cfg *bufpool.Config) *Storage {
	return &Storage{pool: bufpool.NewPool(cfg)}
}

// AllocateStorage returns a byte slice of at least length bytes, drawn
// from the tiered pool where possible.
func (s *Storage) AllocateStorage(length int) ([]byte, error) {
	return s.pool.Get(length), nil
}

// DeallocateStorage returns buf to the pool. id is unused: pkg/bufpool
// pools purely by capacity tier, with no notion of which line a buffer
// last belonged to.
func (s *Storage) DeallocateStorage(_ coherence.LineID, buf []byte) {
	s.pool.Put(buf)
}
