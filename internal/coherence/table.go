package coherence

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// Table is the node's line directory (spec's C1): an unbounded map of
// owned/E-or-O lines plus a capacity-bounded, weighted-LRU map of
// shared (S-state) lines. Eviction only ever targets the shared set,
// since owned lines are authoritative and cannot be silently dropped.
//
// The weighted-LRU eviction strategy (snapshot candidates, sort by
// last access, evict oldest until under budget) mirrors the teacher's
// pkg/cache/eviction.go rather than a linked-list LRU, since Go's
// runtime-managed maps make an intrusive list awkward and the
// snapshot+sort approach is cheap at the node's expected shared-set
// size.
type Table struct {
	mu sync.RWMutex

	owned  map[LineID]*Line
	shared map[LineID]*Line

	sharedWeight int
	maxCapacity  int // 0 means unbounded

	tick atomic.Int64

	listener CacheListener // process-wide default, used when a line has none of its own
	comm     *Comm
	storage  CacheStorage

	reuseLines      bool
	reuseSharerSets bool
	freeLines       []*Line

	selfNode NodeID

	metrics tableMetrics
}

// tableMetrics are plain counters; internal/metrics adapts these into
// Prometheus gauges/counters (see internal/metrics/coherence.go).
type tableMetrics struct {
	Owned, Shared, Evictions, Allocations int64
}

func NewTable(maxCapacity int, listener CacheListener, comm *Comm, storage CacheStorage, reuseLines, reuseSharerSets bool) *Table {
	if listener == nil {
		listener = NoopCacheListener{}
	}
	return &Table{
		owned:           make(map[LineID]*Line),
		shared:          make(map[LineID]*Line),
		maxCapacity:     maxCapacity,
		listener:        listener,
		comm:            comm,
		storage:         storage,
		reuseLines:      reuseLines,
		reuseSharerSets: reuseSharerSets,
		selfNode:        UnknownNode,
	}
}

// SetSelfNode records this node's own id, used to stamp the Sender
// field on the INVACK an eviction sends to a line's believed owner.
func (t *Table) SetSelfNode(id NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selfNode = id
}

// GetOrCreate returns the line for id, allocating and registering a
// fresh one (state I) if it is not yet tracked anywhere. The returned
// line is NOT locked; callers must lock it themselves before touching
// mutable fields (the line is its own monitor, the table's mutex only
// protects the two maps).
func (t *Table) GetOrCreate(id LineID) *Line {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.owned[id]; ok {
		return l
	}
	if l, ok := t.shared[id]; ok {
		l.lastAccess = t.tick.Add(1)
		return l
	}
	l := t.allocateLineLocked(id)
	t.owned[id] = l
	t.metrics.Owned++
	return l
}

// Lookup returns the line for id without creating it.
func (t *Table) Lookup(id LineID) (*Line, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if l, ok := t.owned[id]; ok {
		return l, true
	}
	if l, ok := t.shared[id]; ok {
		return l, true
	}
	return nil, false
}

func (t *Table) allocateLineLocked(id LineID) *Line {
	if t.reuseLines && len(t.freeLines) > 0 {
		l := t.freeLines[len(t.freeLines)-1]
		t.freeLines = t.freeLines[:len(t.freeLines)-1]
		l.reset(id, t.reuseSharerSets)
		l.setListener(nil, t.listener)
		return l
	}
	l := newLine(id)
	l.listener = t.listener
	return l
}

// MarkOwned moves id from the shared set into the owned set (a local
// op or GETX transition has made this node authoritative). No-op if
// already owned.
func (t *Table) MarkOwned(id LineID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.shared[id]; ok {
		delete(t.shared, id)
		t.sharedWeight -= l.weight
		t.owned[id] = l
		t.metrics.Owned++
		t.metrics.Shared--
	}
}

// MarkShared moves id from the owned set into the shared set (this
// node has relinquished ownership but retains a read-only replica) and
// triggers eviction if the shared set now exceeds capacity.
func (t *Table) MarkShared(ctx context.Context, id LineID) {
	t.mu.Lock()
	if l, ok := t.owned[id]; ok {
		delete(t.owned, id)
		l.lastAccess = t.tick.Add(1)
		t.shared[id] = l
		t.sharedWeight += l.weight
		t.metrics.Owned--
		t.metrics.Shared++
	}
	t.mu.Unlock()
	t.evictIfNeeded(ctx)
}

// Touch refreshes id's LRU position; called whenever a shared line is
// read.
func (t *Table) Touch(id LineID) {
	t.mu.RLock()
	l, ok := t.shared[id]
	t.mu.RUnlock()
	if ok {
		l.lastAccess = t.tick.Add(1)
	}
}

// RemoveDeleted drops id from whichever set holds it, without the
// eviction protocol (used once DEL has fully drained and the line has
// no more reason to exist below MaxReservedLineID exemption rules).
func (t *Table) RemoveDeleted(id LineID) {
	if id.Reserved() {
		// Reserved ids survive DEL as empty lines (spec 3: "reserved
		// ids are never fully removed from the table").
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.owned[id]; ok {
		delete(t.owned, id)
		t.releaseLineLocked(l)
		t.metrics.Owned--
		return
	}
	if l, ok := t.shared[id]; ok {
		delete(t.shared, id)
		t.sharedWeight -= l.weight
		t.releaseLineLocked(l)
		t.metrics.Shared--
	}
}

func (t *Table) releaseLineLocked(l *Line) {
	if t.storage != nil && l.data != nil {
		t.storage.DeallocateStorage(l.id, l.data)
	}
	if t.reuseLines {
		t.freeLines = append(t.freeLines, l)
	}
}

// evictIfNeeded runs the weighted-LRU sweep over the shared set until
// sharedWeight is back under maxCapacity. Each evicted line sends an
// INVACK to its believed owner (so the owner's sharer set stays
// accurate) and fires the evicted listener callback, per spec 4.4.
func (t *Table) evictIfNeeded(ctx context.Context) {
	if t.maxCapacity <= 0 {
		return
	}
	for {
		t.mu.Lock()
		if t.sharedWeight <= t.maxCapacity || len(t.shared) == 0 {
			t.mu.Unlock()
			return
		}
		victim := t.pickVictimLocked()
		if victim == nil {
			t.mu.Unlock()
			return
		}
		delete(t.shared, victim.id)
		t.sharedWeight -= victim.weight
		t.metrics.Shared--
		t.metrics.Evictions++
		t.mu.Unlock()

		t.evictLine(ctx, victim)
	}
}

func (t *Table) pickVictimLocked() *Line {
	if len(t.shared) == 0 {
		return nil
	}
	type cand struct {
		l          *Line
		lastAccess int64
	}
	cands := make([]cand, 0, len(t.shared))
	for _, l := range t.shared {
		cands = append(cands, cand{l, l.lastAccess})
	}
	if len(cands) == 0 {
		return nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].lastAccess < cands[j].lastAccess })
	return cands[0].l
}

func (t *Table) evictLine(ctx context.Context, l *Line) {
	l.mu.Lock()
	owner := l.owner
	id := l.id
	l.applyState(StateI)
	l.flags &^= FlagModified | FlagSlave
	l.data = nil
	l.clearSharers()
	listener := l.listener
	l.mu.Unlock()

	if t.comm != nil && t.comm.Send != nil && owner != UnknownNode {
		_ = t.comm.Send(ctx, owner, Message{Kind: MsgInvAck, Sender: t.selfNode, LineID: id})
	}
	listener.Evicted(id)
	if t.reuseLines {
		t.mu.Lock()
		t.freeLines = append(t.freeLines, l)
		t.mu.Unlock()
	}
}

// ForEach invokes fn for every line currently tracked (owned and
// shared), snapshotting the line pointers under the table lock first
// so fn can itself lock individual lines without risking the table
// lock and a line lock being taken in reverse order elsewhere. Used by
// the node-event sweep (C7) and by admin diagnostics dumps.
func (t *Table) ForEach(fn func(*Line)) {
	t.mu.RLock()
	lines := make([]*Line, 0, len(t.owned)+len(t.shared))
	for _, l := range t.owned {
		lines = append(lines, l)
	}
	for _, l := range t.shared {
		lines = append(lines, l)
	}
	t.mu.RUnlock()

	for _, l := range lines {
		fn(l)
	}
}

// Metrics returns a snapshot of the table's counters.
func (t *Table) Metrics() tableMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.metrics
}
