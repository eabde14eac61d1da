package coherence

import (
	"context"
	"log/slog"
)

// nodeEventCtxKey is the context key for the "in node-event sweep"
// suppression flag. The state machine consults this (via inNodeEvent)
// to avoid a sweep's own line updates re-triggering logic that expects
// to run only for ordinary client-driven transitions (spec section 9:
// "carried as context rather than true globals where the host language
// allows", since Go has no thread-locals).
type nodeEventCtxKey struct{}

func withInNodeEvent(ctx context.Context) context.Context {
	return context.WithValue(ctx, nodeEventCtxKey{}, true)
}

func inNodeEvent(ctx context.Context) bool {
	v, _ := ctx.Value(nodeEventCtxKey{}).(bool)
	return v
}

// nodeEvents is the process-wide node-event processor (C7). It reacts
// to cluster membership changes by sweeping every tracked line and
// reconciling any reference to the affected node.
type nodeEvents struct {
	table   *Table
	dirty   *dirtyReadTracker
	comm    *Comm
	cluster ClusterListener
	log     *slog.Logger

	// redeliver hands a message drained off a reconciled line back to
	// the dispatch loop's ordinary inbound-message path. Set by
	// dispatch.go when it constructs nodeEvents, since only the full
	// Node has the state machine's handleMessage.
	redeliver func(ctx context.Context, l *Line, m Message)

	// retryOps re-attempts a reconciled line's pending ops in place,
	// under the line's lock. Set by dispatch.go to Node.requeueOps, since
	// a departed/switched node can unblock a GET or GETX that would
	// otherwise only recover via cfg.Timeout (spec 4.7: "re-drain
	// pending ops").
	retryOps func(ctx context.Context, l *Line)
}

func newNodeEvents(table *Table, dirty *dirtyReadTracker, comm *Comm, cluster ClusterListener, log *slog.Logger) *nodeEvents {
	if log == nil {
		log = slog.Default()
	}
	return &nodeEvents{table: table, dirty: dirty, comm: comm, cluster: cluster, log: log}
}

// NodeRemoved is invoked by the ClusterListener callback when a peer
// has left the cluster. Every line that names it as owner or sharer is
// reconciled per spec 4.7: an owner loss on a line still below O
// degrades it to I with owner reset to SERVER (if a directory is
// configured) or -1; a sharer loss on an O-state line drops the
// bookkeeping entry and, if that empties the sharer set, completes the
// O->E transition the departed sharer's INVACK would otherwise have
// blocked forever.
func (ne *nodeEvents) NodeRemoved(ctx context.Context, node NodeID) {
	ctx = withInNodeEvent(ctx)
	ne.dirty.OnNodeRemoved(node)

	newOwner := UnknownNode
	if ne.comm != nil && ne.comm.IsSendToServerInsteadOfMulticast {
		newOwner = ServerNode
	}

	ne.table.ForEach(func(l *Line) {
		lctx, _ := withSelfQueue(ctx)
		l.mu.Lock()
		changed := false
		if l.state < StateO && l.owner == node {
			l.applyState(StateI)
			l.owner = newOwner
			l.ownerClock = 0
			l.flags &^= FlagModified | FlagSlave
			changed = true
		}
		if l.state == StateO && l.hasSharer(node) {
			l.removeSharer(node)
			if len(l.sharers) == 0 {
				l.applyState(StateE)
			}
			changed = true
		}
		var toDrain []Message
		if changed {
			if ne.retryOps != nil {
				ne.retryOps(lctx, l)
			}
			toDrain = drainMessagesLocked(l)
		}
		q := selfQueueFrom(lctx)
		var selfSent []Message
		if q != nil {
			selfSent = *q
		}
		l.mu.Unlock()

		if changed {
			ne.log.Debug("node removed: line reconciled", "node", node, "line", l.id)
			for _, m := range selfSent {
				if ne.redeliver != nil {
					ne.redeliver(ctx, l, m)
				}
			}
			if ne.redeliver != nil {
				for _, m := range toDrain {
					ne.redeliver(ctx, l, m)
				}
			}
		}
	})
}

// NodeSwitched is invoked when a peer's underlying process identity
// changed but the cluster reassigned it the same NodeID (a restart,
// not a departure). Every line naming it as owner enters the
// dirty-reads node-switch window; sharer sets are left untouched since
// the successor may still legitimately be a sharer.
func (ne *nodeEvents) NodeSwitched(ctx context.Context, node NodeID) {
	ne.dirty.OnNodeSwitched(node)
	ne.log.Debug("node switched: dirty-read window opened", "node", node)
}

// drainMessagesLocked pops every currently-pending message off l so
// the caller can attempt to redeliver them after releasing l.mu (the
// node-event sweep must not hold a line lock while calling back into
// dispatch, to avoid lock-ordering cycles with ordinary message
// handling). Caller must hold l.mu.
func drainMessagesLocked(l *Line) []Message {
	var out []Message
	for !l.msgs.empty() {
		m, ok := l.msgs.front()
		if !ok {
			break
		}
		l.msgs.popFront()
		out = append(out, m)
	}
	return out
}
