package coherence

import (
	"sync"
	"time"
)

// Line is a single cached object's coherence record (spec's C2). The
// line's own mutex is its monitor: every local op and inbound message
// handler for this id holds line.mu for the duration of its state
// inspection/transition, per spec section 9 ("the line record is the
// monitor; there is no separate per-node global lock on the hot path").
type Line struct {
	mu sync.Mutex

	id LineID

	state State

	// nextState/hasNextState record a transition that has been decided
	// but not yet fully applied (e.g. waiting on the last INVACK before
	// actually flipping state to E). See statemachine.go.
	nextState    State
	hasNextState bool

	owner   NodeID
	sharers map[NodeID]struct{}

	// pendingGetXRequester records the node whose GETX triggered the
	// current wait-set (see handleGetX/handleInvAck); UnknownNode when
	// no ownership handoff is awaiting its last INVACK.
	pendingGetXRequester NodeID

	version    uint64
	ownerClock uint64 // bumped on every local ownership change; used to detect stale CHNGD_OWNR

	data  []byte
	flags Flags

	// lockedBy is set while a Transaction holds this line's exclusive
	// lock (FlagLocked mirrors this for external observers/diagnostics,
	// lockedBy is what the state machine actually checks).
	lockedBy *Transaction

	listener CacheListener

	ops  pendingOps
	msgs pendingMessages

	// weight is the table's eviction weight (1 + len(data)), kept in
	// sync by table.go whenever data is replaced.
	weight int

	// lastAccess is a table-assigned logical tick, bumped on every
	// lookup of a shared-state line; table.go snapshots and sorts on
	// this to pick eviction victims (weighted LRU, spec 4.4).
	lastAccess int64

	// recallGuardFrom/recallGuardUntil damp GETX/INV/GETX ownership
	// storms between two hot contenders (supplemental feature, modeled
	// on delegation/oplock recall-storm damping): set whenever this
	// node takes ownership via PUTX, recording who it took it from and
	// until when a GETX from that same node is held off rather than
	// honored immediately.
	recallGuardFrom  NodeID
	recallGuardUntil time.Time
}

func newLine(id LineID) *Line {
	return &Line{
		id:                   id,
		state:                StateI,
		owner:                UnknownNode,
		sharers:              make(map[NodeID]struct{}),
		listener:             NoopCacheListener{},
		nextState:            noNextState,
		pendingGetXRequester: UnknownNode,
		recallGuardFrom:      UnknownNode,
		weight:               1,
	}
}

// reset restores a Line to its freshly-allocated shape, for reuse from
// a free list when Config.ReuseLines is enabled (spec 4.4).
func (l *Line) reset(id LineID, reuseSharerSets bool) {
	l.id = id
	l.state = StateI
	l.nextState = noNextState
	l.hasNextState = false
	l.owner = UnknownNode
	l.pendingGetXRequester = UnknownNode
	if reuseSharerSets && l.sharers != nil {
		for k := range l.sharers {
			delete(l.sharers, k)
		}
	} else {
		l.sharers = make(map[NodeID]struct{})
	}
	l.version = 0
	l.ownerClock = 0
	l.data = nil
	l.flags = 0
	l.lockedBy = nil
	l.listener = NoopCacheListener{}
	l.ops.reset()
	l.msgs.reset()
	l.weight = 1
	l.lastAccess = 0
	l.recallGuardFrom = UnknownNode
	l.recallGuardUntil = time.Time{}
}

// recentlyRecalledFrom reports whether src just handed this node
// ownership within the recall-guard window, per the supplemental
// recall-storm damping feature.
func (l *Line) recentlyRecalledFrom(src NodeID) bool {
	return l.recallGuardFrom == src && time.Now().Before(l.recallGuardUntil)
}

func (l *Line) addSharer(n NodeID) {
	if l.sharers == nil {
		l.sharers = make(map[NodeID]struct{})
	}
	l.sharers[n] = struct{}{}
}

func (l *Line) removeSharer(n NodeID) {
	delete(l.sharers, n)
}

func (l *Line) hasSharer(n NodeID) bool {
	_, ok := l.sharers[n]
	return ok
}

func (l *Line) sharerList() []NodeID {
	out := make([]NodeID, 0, len(l.sharers))
	for n := range l.sharers {
		out = append(out, n)
	}
	return out
}

func (l *Line) clearSharers() {
	for k := range l.sharers {
		delete(l.sharers, k)
	}
}

// setData replaces the line's payload and keeps the table eviction
// weight formula (1 + len(data)) consistent; callers must hold mu and
// then report the delta to the owning table.
func (l *Line) setData(data []byte) (oldWeight, newWeight int) {
	oldWeight = l.weight
	l.data = data
	l.weight = 1 + len(data)
	return oldWeight, l.weight
}

// setListener installs a per-line listener, falling back to the
// process-wide default the table was constructed with when listener is
// nil.
func (l *Line) setListener(listener, fallback CacheListener) {
	if listener != nil {
		l.listener = listener
	} else if fallback != nil {
		l.listener = fallback
	} else {
		l.listener = NoopCacheListener{}
	}
}

func (l *Line) notifyInvalidated() { l.listener.Invalidated(l.id) }
func (l *Line) notifyReceived()    { l.listener.Received(l.id, l.version, l.data) }
func (l *Line) notifyEvicted()     { l.listener.Evicted(l.id) }

// ID returns the line's reference id, for callers (internal/metrics'
// table sampler, admin diagnostics) that only hold a *Line from
// Table.ForEach.
func (l *Line) ID() LineID { return l.id }

// Data returns the line's current payload, under its own lock. Used by
// internal/backup's DataFetcher to resolve bytes for a line id at
// flush time, since coherence.Backup.Backup is only handed (id,
// version).
func (l *Line) Data() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data
}

// PendingDepth returns the current length of this line's pending-op
// and pending-message queues (spec's C4), for gauge sampling.
func (l *Line) PendingDepth() (ops, msgs int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ops.len(), l.msgs.len()
}

// LineSnapshot is a read-only, point-in-time copy of a line's record,
// for admin diagnostics dumps and metrics sampling; it is never
// mutated by the engine itself.
type LineSnapshot struct {
	ID                      LineID
	State                   State
	NextState               State
	Owner                   NodeID
	Sharers                 []NodeID
	Version                 uint64
	Flags                   Flags
	PendingOps, PendingMsgs int
}

// Snapshot copies this line's record under its own lock.
func (l *Line) Snapshot() LineSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LineSnapshot{
		ID:          l.id,
		State:       l.state,
		NextState:   l.nextState,
		Owner:       l.owner,
		Sharers:     l.sharerList(),
		Version:     l.version,
		Flags:       l.flags,
		PendingOps:  l.ops.len(),
		PendingMsgs: l.msgs.len(),
	}
}

// applyState transitions the line to s immediately, clearing any
// pending nextState. Callers must hold mu. It does not drain the
// pending queues itself; callers follow a state change with
// Node.onLineChanged for that.
func (l *Line) applyState(s State) {
	l.state = s
	l.nextState = noNextState
	l.hasNextState = false
}

// deferState records a decided-but-not-yet-applied transition (the
// GETX wait-set rule holds the line at its current state until the
// final INVACK arrives, then applies nextState).
func (l *Line) deferState(s State) {
	l.nextState = s
	l.hasNextState = true
}

func (l *Line) applyDeferredState() {
	if l.hasNextState {
		l.applyState(l.nextState)
	}
}
