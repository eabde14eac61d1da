package coherence

import "context"

// Comm is the external wire transport (spec section 6). Implementations
// must deliver messages from a single sender in send order and report
// NodeNotFoundException synchronously from Send when the destination
// has departed; the engine then synthesizes a local auto-response and
// continues (it never surfaces NodeNotFound to a caller).
type Comm struct {
	// Send transmits msg to dst. It returns ErrNodeGone (wrapping the
	// transport's own NodeNotFoundException-equivalent) if dst has left
	// the cluster, or any other transport error.
	Send func(ctx context.Context, dst NodeID, msg Message) error

	// Broadcast transmits msg to every known peer (used for the
	// "no nodeHint, else broadcast" GET/GETX fallback).
	Broadcast func(ctx context.Context, msg Message) error

	// IsSendToServerInsteadOfMulticast controls whether broadcasts are
	// routed through SERVER instead of fanned out, which also selects
	// the GETX wait-set special case in spec 4.1.
	IsSendToServerInsteadOfMulticast bool
}

// ErrNodeGone is returned by a Comm.Send implementation when the
// destination node has left the cluster (spec's NodeNotFoundException).
var ErrNodeGone = newError(ErrNodeNotFound, NoLine, "destination node not found")

// Backup is the external slave-side backup replicator (spec section 6).
type Backup interface {
	// StartBackup/EndBackup bracket a batch of Backup calls (transaction
	// commit flushes a batch in one round trip).
	StartBackup()
	EndBackup()

	// Backup schedules a BACKUP of the given line's current (version,
	// data) to the slave. Actual transmission may be deferred to Flush.
	Backup(ctx context.Context, id LineID, version uint64) error

	// Flush forces any buffered Backup calls out to the slave.
	Flush(ctx context.Context) error

	// Inv asks the slave to invalidate its view of id on behalf of
	// sharer, returning true iff the slave is now guaranteed to hold no
	// stale view (spec 4.1's GETX/INV handling consults this before
	// clearing the SLAVE flag).
	Inv(ctx context.Context, id LineID, sharer NodeID) (bool, error)
}

// CacheStorage is the external byte-buffer allocator (spec section 6).
type CacheStorage interface {
	AllocateStorage(length int) ([]byte, error)
	DeallocateStorage(id LineID, buf []byte)
}

// IdAllocator is the external reference-id allocator (spec section 6).
// AllocateIds returns (first, nil, nil) when an id range is available
// immediately. When none is available yet it returns (0, ready, nil)
// with a non-nil ready channel that closes once a retry is worth
// attempting; the caller re-calls AllocateIds at that point rather than
// busy-polling.
type IdAllocator interface {
	AllocateIds(ctx context.Context, n int) (first LineID, ready <-chan struct{}, err error)
}

// ClusterListener is the external cluster membership service (spec
// section 6). The engine's node-event processor (C7) is driven by its
// callbacks; MyNodeID/IsMaster/Master are consulted by the state
// machine and dispatch loop.
type ClusterListener interface {
	MyNodeID() NodeID
	IsMaster() bool
	Master(node NodeID) NodeID
}

// CacheListener is the outbound per-line / process-wide listener (spec
// section 6). Exceptions from listener methods are caught by the engine
// and logged, never propagated (ErrListener).
type CacheListener interface {
	Invalidated(id LineID)
	Received(id LineID, version uint64, data []byte)
	Evicted(id LineID)
}

// NoopCacheListener is injected wherever no listener was supplied, so
// the dispatch and eviction paths never need a nil check.
type NoopCacheListener struct{}

func (NoopCacheListener) Invalidated(LineID)               {}
func (NoopCacheListener) Received(LineID, uint64, []byte)  {}
func (NoopCacheListener) Evicted(LineID)                    {}

var _ CacheListener = NoopCacheListener{}
