package coherence

import "sync"

// ownerClock is the dirty-reads bookkeeping kept per remote owner
// (spec's C6). lastPut is the version number of the last PUT this node
// has observed from that owner; invCounter counts invalidations the
// owner has issued since then. A locally cached S-state read is "dirty
// safe" only while invCounter is zero relative to the read's own
// version — once the owner invalidates, any S-state line still showing
// that owner is a candidate for a possible inconsistency and should be
// re-fetched rather than trusted.
//
// lastPut goes negative (-1) for the duration of a node-switch window:
// when nodeSwitched fires for an owner (its process identity changed
// but its NodeID was reassigned to a successor), there is a window
// where this node cannot yet tell whether a previously-cached version
// survived the switch. The first PUT observed from the new identity
// flips lastPut back positive and clears the window.
type ownerClock struct {
	lastPut    int64
	invCounter int64
}

const nodeSwitchWindow int64 = -1

// dirtyReadTracker is the process-wide table of ownerClocks, one per
// NodeID this node has ever seen data from.
type dirtyReadTracker struct {
	mu     sync.Mutex
	clocks map[NodeID]*ownerClock
}

func newDirtyReadTracker() *dirtyReadTracker {
	return &dirtyReadTracker{clocks: make(map[NodeID]*ownerClock)}
}

func (t *dirtyReadTracker) clockFor(owner NodeID) *ownerClock {
	c, ok := t.clocks[owner]
	if !ok {
		c = &ownerClock{lastPut: 0}
		t.clocks[owner] = c
	}
	return c
}

// ObservePut records that owner has issued a PUT/PUTX at version. This
// clears any node-switch window and zeroes the invalidation counter,
// since a fresh PUT is by definition consistent with itself.
func (t *dirtyReadTracker) ObservePut(owner NodeID, version uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.clockFor(owner)
	c.lastPut = int64(version)
	if c.lastPut < 0 {
		c.lastPut = 0
	}
	c.invCounter = 0
}

// ObserveInvalidation records that owner issued an INV for some line
// this node was sharing; bumps the owner's invalidation counter so
// future dirty reads against that owner are flagged as possibly stale.
func (t *dirtyReadTracker) ObserveInvalidation(owner NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clockFor(owner).invCounter++
}

// OnNodeSwitched opens the node-switch window for owner: a successor
// process has taken over this NodeID and this node cannot yet vouch
// for any cached data attributed to it.
func (t *dirtyReadTracker) OnNodeSwitched(owner NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clockFor(owner).lastPut = nodeSwitchWindow
}

// OnNodeRemoved drops all bookkeeping for a departed node; any cached
// line attributing ownership to it will be resolved through the
// NodeNotFound auto-response path instead, so dirty-read accounting no
// longer applies.
func (t *dirtyReadTracker) OnNodeRemoved(owner NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clocks, owner)
}

// LastPut returns the last-observed PUT/PUTX version from owner and
// whether this node has ever recorded one. tryGet's I-state stale-serve
// check (spec 4.6) uses this directly: line.ownerClock > owner.lastPut
// && owner.lastPut >= 0.
func (t *dirtyReadTracker) LastPut(owner NodeID) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clocks[owner]
	if !ok {
		return 0, false
	}
	return c.lastPut, true
}

// IsPossibleInconsistency reports whether a cached S-state read
// attributed to owner should be treated as possibly stale: either the
// owner is mid node-switch window, or it has issued at least one
// invalidation since this node last observed a PUT from it.
func (t *dirtyReadTracker) IsPossibleInconsistency(owner NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clocks[owner]
	if !ok {
		return false
	}
	return c.lastPut == nodeSwitchWindow || c.invCounter > 0
}
