package coherence

import (
	"context"
	"time"
)

// This file is the coherence state machine (spec's C3): the local-op
// preconditions/actions table and the inbound-message transition
// rules. Every entry point takes the line's lock already held by the
// caller (dispatch.go's withLine) and returns without blocking —
// "cannot proceed yet" is signalled by outcomePending, never by
// waiting in place, so the line's monitor is never held across a
// network round trip.

// tryResolveOp attempts op against the already-locked line l. It
// either resolves immediately (outcomeDone, with value/err) or decides
// the op must wait (outcomePending) until a future onLineChanged call
// retries it.
func (n *Node) tryResolveOp(ctx context.Context, l *Line, op *Op) (opOutcome, any, error) {
	if l.flags.Has(FlagDeleted) && op.Kind != OpAlloc && op.Kind != OpLstn {
		return outcomeDone, nil, errRefNotFound(op.LineID)
	}
	if l.lockedBy != nil && l.lockedBy != op.Txn && op.Kind != OpAlloc && op.Kind != OpLstn {
		// Another transaction holds this line exclusively; everyone
		// else waits behind it (spec 4.3: transaction-held lines are
		// opaque to ordinary ops until commit/abort releases them).
		return outcomePending, nil, nil
	}

	switch op.Kind {
	case OpLstn:
		l.setListener(op.Listener, n.listener)
		return outcomeDone, nil, nil

	case OpGet, OpGetS:
		return n.tryGet(ctx, l, op)

	case OpGetX:
		return n.tryGetX(ctx, l, op)

	case OpSet:
		return n.trySet(ctx, l, op)

	case OpDel:
		return n.tryDel(ctx, l, op)

	case OpPush:
		return n.tryPush(ctx, l, op)

	case OpPushX:
		return n.tryPushX(ctx, l, op)

	case OpSend:
		return n.trySend(ctx, l, op)

	case OpPut:
		return n.tryLocalPut(ctx, l, op)

	case OpAlloc:
		return n.tryAlloc(ctx, l, op)

	default:
		return outcomeDone, nil, newError(ErrUnimplemented, op.LineID, op.Kind.String())
	}
}

// tryGet resolves a read. A line already in S, O, or E can be answered
// immediately. An I-state line may still be servable from its last
// cached data when the dirty-reads formula (spec's C6, §4.6) says
// nothing has invalidated it since: line.ownerClock > owner.lastPut
// and owner.lastPut ≥ 0. Otherwise it issues a GET toward its
// best-known owner hint or broadcasts, then waits.
func (n *Node) tryGet(ctx context.Context, l *Line, op *Op) (opOutcome, any, error) {
	switch l.state {
	case StateS:
		n.table.Touch(l.id)
		return outcomeDone, l.data, nil
	case StateO, StateE:
		return outcomeDone, l.data, nil
	case StateI:
		if l.owner != UnknownNode && l.data != nil {
			if lastPut, ok := n.dirty.LastPut(l.owner); ok && lastPut >= 0 && l.ownerClock > uint64(lastPut) {
				return outcomeDone, l.data, nil
			}
		}
	}

	if l.ops.len() > 0 {
		// A GET is already outstanding for this line; let it ride.
		return outcomePending, nil, nil
	}

	if l.owner == UnknownNode && !n.hasReachablePeers() {
		return outcomeDone, nil, errRefNotFound(op.LineID)
	}

	target := l.owner
	msg := Message{Kind: MsgGet, Sender: n.self(), MsgID: n.nextMsgID(), LineID: l.id}
	if target != UnknownNode {
		_ = n.send(ctx, target, msg)
	} else if n.comm != nil && n.comm.IsSendToServerInsteadOfMulticast {
		_ = n.send(ctx, ServerNode, msg)
	} else if n.comm != nil && n.comm.Broadcast != nil {
		_ = n.comm.Broadcast(ctx, msg)
	}
	return outcomePending, nil, nil
}

// tryGetX resolves a write-intent fetch, i.e. "become E". An E line is
// already done. An O line must invalidate its remaining sharers first
// (the wait-set rule: defer the O->E transition until every sharer's
// INVACK is in). An S or I line must request ownership from the
// current owner (or the server, in ServerDirected mode) and wait for
// PUT/PUTX or CHNGD_OWNR to arrive.
func (n *Node) tryGetX(ctx context.Context, l *Line, op *Op) (opOutcome, any, error) {
	switch l.state {
	case StateE:
		return outcomeDone, l.data, nil

	case StateO:
		if len(l.sharers) == 0 {
			l.applyState(StateE)
			return outcomeDone, l.data, nil
		}
		if !l.hasNextState {
			n.invalidateSharers(ctx, l)
			l.deferState(StateE)
		}
		return outcomePending, nil, nil

	default: // StateS, StateI
		if l.ops.len() > 0 {
			return outcomePending, nil, nil
		}
		if l.owner == UnknownNode && !n.hasReachablePeers() {
			// Nobody this node could even ask claims the line and no
			// transport is wired to discover otherwise (standalone
			// node, or a brand-new id nobody has touched yet): take
			// exclusive ownership directly rather than wait forever on
			// a round trip that has no one to answer it.
			l.applyState(StateE)
			n.dirty.ObservePut(n.self(), l.version)
			return outcomeDone, l.data, nil
		}
		target := l.owner
		msg := Message{Kind: MsgGetX, Sender: n.self(), MsgID: n.nextMsgID(), LineID: l.id}
		if target != UnknownNode {
			_ = n.send(ctx, target, msg)
		} else if n.comm != nil && n.comm.IsSendToServerInsteadOfMulticast {
			_ = n.send(ctx, ServerNode, msg)
		} else if n.comm != nil && n.comm.Broadcast != nil {
			_ = n.comm.Broadcast(ctx, msg)
		}
		return outcomePending, nil, nil
	}
}

// invalidateSharers sends INV to every current sharer of an O-state
// line that is upgrading to E. Acks are collected asynchronously via
// the INVACK message handler, which applies l.nextState once the
// sharer set empties (see handleInvAck).
func (n *Node) invalidateSharers(ctx context.Context, l *Line) {
	for sharer := range l.sharers {
		_ = n.send(ctx, sharer, Message{
			Kind: MsgInv, Sender: n.self(), MsgID: n.nextMsgID(),
			LineID: l.id, PreviousOwner: l.owner,
		})
	}
}

// trySet applies a local write. The line must be E (exclusive); if it
// is anything else, a GETX is issued first and the SET rides behind it
// as a pending op (tryResolveOp will be re-invoked once the GETX
// completes and flips the state to E).
func (n *Node) trySet(ctx context.Context, l *Line, op *Op) (opOutcome, any, error) {
	if len(op.Data) > n.cfg.MaxItemSize {
		return outcomeDone, nil, errSizeExceeded(op.LineID, len(op.Data), n.cfg.MaxItemSize)
	}
	if l.state != StateE {
		if outcome, _, err := n.tryGetX(ctx, l, op); outcome == outcomeDone && err != nil {
			return outcomeDone, nil, err
		}
		if l.state != StateE {
			return outcomePending, nil, nil
		}
	}
	if n.cfg.CompareBeforeWrite && bytesEqual(l.data, op.Data) {
		return outcomeDone, nil, nil
	}
	l.setData(op.Data)
	l.version++
	l.flags |= FlagModified
	l.owner = n.self()
	n.table.MarkOwned(l.id)
	l.notifyReceived()
	return outcomeDone, nil, nil
}

// tryDel removes a line's content. Requires exclusive ownership for
// the same reason SET does; once applied the line is marked Deleted
// and any sharers are sent an INV so their replicas drop out of S.
func (n *Node) tryDel(ctx context.Context, l *Line, op *Op) (opOutcome, any, error) {
	if l.state != StateE {
		if outcome, _, err := n.tryGetX(ctx, l, op); outcome == outcomeDone && err != nil {
			return outcomeDone, nil, err
		}
		if l.state != StateE {
			return outcomePending, nil, nil
		}
	}
	n.invalidateSharers(ctx, l)
	l.data = nil
	l.flags |= FlagDeleted
	l.flags &^= FlagModified
	l.applyState(StateI)
	l.owner = UnknownNode
	if !l.id.Reserved() {
		n.table.RemoveDeleted(l.id)
	}
	l.notifyInvalidated()
	return outcomeDone, nil, nil
}

// tryPush explicitly replicates the line's current data to op.Nodes as
// sharers, without relinquishing ownership (PUT sent directly, no
// state change here).
func (n *Node) tryPush(ctx context.Context, l *Line, op *Op) (opOutcome, any, error) {
	if !l.state.Owned() {
		return outcomeDone, nil, newError(ErrIrrelevantState, op.LineID, "PUSH requires ownership")
	}
	if l.flags.Has(FlagModified) {
		return outcomeDone, nil, newError(ErrIrrelevantState, op.LineID, "PUSH requires a non-MODIFIED line")
	}
	for _, dst := range op.Nodes {
		_ = n.send(ctx, dst, Message{
			Kind: MsgPut, Sender: n.self(), MsgID: n.nextMsgID(),
			LineID: l.id, Version: l.version, Data: l.data,
		})
		l.addSharer(dst)
	}
	if l.state == StateE && len(l.sharers) > 0 {
		l.applyState(StateO)
	}
	return outcomeDone, nil, nil
}

// tryPushX explicitly transfers ownership to op.Node (PUTX), handing
// over the current sharer set along with the data.
func (n *Node) tryPushX(ctx context.Context, l *Line, op *Op) (opOutcome, any, error) {
	if l.state != StateE {
		return outcomeDone, nil, newError(ErrIrrelevantState, op.LineID, "PUSHX requires exclusive ownership")
	}
	if l.flags.Has(FlagModified) {
		return outcomeDone, nil, newError(ErrIrrelevantState, op.LineID, "PUSHX requires a non-MODIFIED line")
	}
	newOwner := op.Node
	if newOwner == UnknownNode {
		return outcomeDone, nil, newError(ErrIrrelevantState, op.LineID, "PUSHX requires an explicit target node")
	}
	sharers := l.sharerList()
	_ = n.send(ctx, newOwner, Message{
		Kind: MsgPutX, Sender: n.self(), MsgID: n.nextMsgID(),
		LineID: l.id, Version: l.version, Data: l.data, Sharers: sharers,
	})
	l.ownerClock++
	l.owner = newOwner
	l.clearSharers()
	l.flags &^= FlagModified
	l.applyState(StateI)
	n.table.MarkShared(ctx, l.id)
	return outcomeDone, nil, nil
}

// trySend delivers an application-level MSG to the line's current
// owner (or op.Node override), and completes once the MSGACK arrives;
// the msgID correlates the two (see handleMsgAck).
func (n *Node) trySend(ctx context.Context, l *Line, op *Op) (opOutcome, any, error) {
	dst := op.Node
	if dst == UnknownNode {
		dst = l.owner
	}
	if dst == UnknownNode {
		return outcomeDone, nil, errRefNotFound(op.LineID)
	}
	id := n.nextMsgID()
	op.msgID = id
	_ = n.send(ctx, dst, Message{
		Kind: MsgMsg, Sender: n.self(), MsgID: id, LineID: l.id,
		Data: op.Data, TargetNode: dst,
	})
	return outcomePending, nil, nil
}

// tryLocalPut is used by Transaction.Set to write into a line the
// transaction already holds (the line is already known E under the
// txn's lock, so this never blocks).
func (n *Node) tryLocalPut(ctx context.Context, l *Line, op *Op) (opOutcome, any, error) {
	l.setData(op.Data)
	l.version++
	l.flags |= FlagModified
	return outcomeDone, nil, nil
}

// tryAlloc requests Count fresh reserved-range ids from the external
// IdAllocator, completing once a range is available.
func (n *Node) tryAlloc(ctx context.Context, l *Line, op *Op) (opOutcome, any, error) {
	if n.idAlloc == nil {
		return outcomeDone, nil, newError(ErrUnimplemented, op.LineID, "no id allocator configured")
	}
	first, ready, err := n.idAlloc.AllocateIds(ctx, op.Count)
	if err != nil {
		return outcomeDone, nil, err
	}
	if ready == nil {
		return outcomeDone, first, nil
	}
	return outcomePending, nil, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// tryHandleMessage attempts to process an inbound message against the
// already-locked line. It returns false when the line's current state
// makes the message irrelevant for now (it is then queued on
// l.msgs and retried on the next onLineChanged).
func (n *Node) tryHandleMessage(ctx context.Context, l *Line, msg Message) bool {
	switch msg.Kind {
	case MsgGet:
		return n.handleGet(ctx, l, msg)
	case MsgGetX:
		return n.handleGetX(ctx, l, msg)
	case MsgPut:
		return n.handlePut(ctx, l, msg)
	case MsgPutX:
		return n.handlePutX(ctx, l, msg)
	case MsgInv:
		return n.handleInv(ctx, l, msg)
	case MsgInvAck:
		return n.handleInvAck(ctx, l, msg)
	case MsgNotFound:
		return n.handleNotFound(ctx, l, msg)
	case MsgChngdOwnr:
		return n.handleChngdOwnr(ctx, l, msg)
	case MsgMsg:
		return n.handleMsg(ctx, l, msg)
	case MsgMsgAck:
		return n.handleMsgAck(ctx, l, msg)
	case MsgBackup:
		return n.handleBackup(ctx, l, msg)
	case MsgBackupAck:
		return n.handleBackupAck(ctx, l, msg)
	case MsgTimeout:
		return n.handleTimeout(ctx, l, msg)
	default:
		return true // unknown kinds are dropped, not requeued forever
	}
}

// handleGet answers a peer's GET. Only meaningful when this node
// actually holds the line (O or E); otherwise a NOT_FOUND bounces the
// requester toward whoever it should ask next, or toward the server.
func (n *Node) handleGet(ctx context.Context, l *Line, msg Message) bool {
	if !l.state.Owned() {
		_ = n.send(ctx, msg.Sender, Message{Kind: MsgNotFound, Sender: n.self(), LineID: l.id})
		return true
	}
	l.addSharer(msg.Sender)
	if l.state == StateE {
		l.applyState(StateO)
	}
	_ = n.send(ctx, msg.Sender, Message{
		Kind: MsgPut, Sender: n.self(), LineID: l.id,
		Version: l.version, Data: l.data,
	})
	n.onLineChanged(ctx, l)
	return true
}

// handleGetX answers a peer's request to become the exclusive owner.
// If this node is not the owner, bounce with NOT_FOUND. If it is,
// invalidate all current sharers (if any) then hand ownership over
// once the wait-set empties; the immediate case (no sharers) transfers
// right away via PUTX.
func (n *Node) handleGetX(ctx context.Context, l *Line, msg Message) bool {
	if !l.state.Owned() {
		_ = n.send(ctx, msg.Sender, Message{Kind: MsgNotFound, Sender: n.self(), LineID: l.id})
		return true
	}
	if n.cfg.RecallGuardWindow > 0 && l.recentlyRecalledFrom(msg.Sender) {
		// msg.Sender held this line moments ago and just gave it up;
		// don't immediately hand it back and risk a GETX/INV/GETX storm
		// between two hot contenders. Leave the message queued — it is
		// retried the next time something else touches this line.
		return false
	}

	if l.flags.Has(FlagSlave) && n.backup != nil {
		if ok, err := n.backup.Inv(ctx, l.id, msg.Sender); err == nil && ok {
			l.flags &^= FlagSlave
		}
	}

	if len(l.sharers) == 0 || (len(l.sharers) == 1 && l.hasSharer(msg.Sender)) {
		n.transferOwnership(ctx, l, msg.Sender)
		return true
	}
	// Wait-set rule: invalidate every sharer except the requester, then
	// transfer once the last INVACK lands. See handleInvAck for the
	// completion side; pendingGetXRequester on the line records the requester.
	if !l.hasNextState {
		for sharer := range l.sharers {
			if sharer == msg.Sender {
				continue
			}
			_ = n.send(ctx, sharer, Message{
				Kind: MsgInv, Sender: n.self(), MsgID: n.nextMsgID(),
				LineID: l.id, PreviousOwner: l.owner,
			})
		}
		l.pendingGetXRequester = msg.Sender
		l.deferState(StateI) // I locally: we are giving up ownership
	}
	return true
}

// transferOwnership hands the line's current (version, data, sharer
// set minus newOwner) to newOwner via PUTX, and demotes this node to I
// (or S if CompareBeforeWrite-style retention were desired; the spec
// has the old owner drop to I, matching a plain ownership handoff).
func (n *Node) transferOwnership(ctx context.Context, l *Line, newOwner NodeID) {
	sharers := make([]NodeID, 0, len(l.sharers))
	for s := range l.sharers {
		if s != newOwner {
			sharers = append(sharers, s)
		}
	}
	if l.flags.Has(FlagModified) && n.backup != nil {
		_ = n.backup.Backup(ctx, l.id, l.version)
	}
	l.flags &^= FlagModified
	_ = n.send(ctx, newOwner, Message{
		Kind: MsgPutX, Sender: n.self(), LineID: l.id,
		Version: l.version, Data: l.data, Sharers: sharers,
	})
	l.ownerClock++
	l.owner = newOwner
	l.clearSharers()
	l.applyState(StateI)
	n.dirty.ObservePut(n.self(), l.version)
	n.onLineChanged(ctx, l)
}

// handlePut accepts a read-only replica (response to our own GET, or
// an unsolicited refresh push). Moves the line to S.
func (n *Node) handlePut(ctx context.Context, l *Line, msg Message) bool {
	if msg.Version <= l.version {
		return true
	}
	l.setData(msg.Data)
	l.version = msg.Version
	l.owner = msg.Sender
	l.ownerClock++
	l.applyState(StateS)
	n.dirty.ObservePut(msg.Sender, msg.Version)
	l.notifyReceived()
	n.onLineChanged(ctx, l)
	return true
}

// handlePutX accepts an ownership transfer (response to our GETX, or
// a PUSHX). Moves the line to E with the given sharer set restored as
// O's bookkeeping (any outstanding non-transfer sharers we must now
// track, since we are the new owner).
func (n *Node) handlePutX(ctx context.Context, l *Line, msg Message) bool {
	if msg.Version <= l.version {
		return true
	}
	l.setData(msg.Data)
	l.version = msg.Version
	l.clearSharers()
	for _, s := range msg.Sharers {
		l.addSharer(s)
	}
	l.ownerClock++
	if n.cfg.RecallGuardWindow > 0 {
		l.recallGuardFrom = msg.Sender
		l.recallGuardUntil = time.Now().Add(n.cfg.RecallGuardWindow)
	}
	if len(l.sharers) > 0 {
		l.owner = msg.Sender
		n.table.MarkShared(ctx, l.id)
		l.applyState(StateO)
	} else {
		l.owner = n.self()
		n.table.MarkOwned(l.id)
		l.applyState(StateE)
	}
	n.dirty.ObservePut(msg.Sender, msg.Version)
	l.notifyReceived()
	n.onLineChanged(ctx, l)
	return true
}

// handleInv processes an owner-issued invalidation of our S-state
// replica. Always actionable immediately: drop to I, ack back.
func (n *Node) handleInv(ctx context.Context, l *Line, msg Message) bool {
	wasState := l.state
	l.applyState(StateI)
	l.owner = msg.PreviousOwner
	if wasState == StateS {
		n.dirty.ObserveInvalidation(msg.Sender)
	}
	l.notifyInvalidated()
	_ = n.send(ctx, msg.Sender, Message{Kind: MsgInvAck, Sender: n.self(), LineID: l.id})
	n.onLineChanged(ctx, l)
	return true
}

// handleInvAck processes a sharer's acknowledgement of our INV. Once
// every outstanding sharer has acked, the deferred O->E transition (or
// the handleGetX ownership handoff) completes.
//
// Open question (spec section 9): whether receiving an INVACK should
// signal "line changed" to drainOps/drainMsgs even when removing this
// one sharer does not yet complete the wait-set. Decision recorded in
// DESIGN.md: yes — every INVACK drains, since a shrinking sharer set
// can itself unblock a GET that was waiting only on dirty-reads
// consistency for that particular sharer, not on the full transition.
func (n *Node) handleInvAck(ctx context.Context, l *Line, msg Message) bool {
	if msg.Sender == n.self() {
		return n.handleSelfInvAck(ctx, l, msg)
	}
	if l.state != StateO {
		return false
	}
	l.removeSharer(msg.Sender)

	if l.hasNextState && len(l.sharers) == 0 {
		if l.pendingGetXRequester != UnknownNode {
			requester := l.pendingGetXRequester
			l.pendingGetXRequester = UnknownNode
			l.applyDeferredState()
			n.transferOwnership(ctx, l, requester)
			return true
		}
		l.applyDeferredState()
	}
	n.onLineChanged(ctx, l)
	return true
}

// handleSelfInvAck is the self-addressed branch of INVACK: it fires
// when our own SLAVE-side Backup.Inv handshake (see handleGetX) has
// invalidated our locally held backup view of a line the real master
// still owns. It only ever touches our own {I,S} view, never the
// owner-side wait-set handled above.
func (n *Node) handleSelfInvAck(ctx context.Context, l *Line, msg Message) bool {
	if l.state != StateI && l.state != StateS {
		return true
	}
	if l.lockedBy != nil {
		return false
	}
	l.flags &^= FlagSlave
	if l.state == StateS {
		l.applyState(StateI)
		if l.owner != UnknownNode {
			_ = n.send(ctx, l.owner, Message{Kind: MsgInvAck, Sender: n.self(), LineID: l.id})
		}
	}
	n.onLineChanged(ctx, l)
	return true
}

// handleNotFound means the peer we asked isn't the owner (its hint was
// stale). Fall back to a broadcast/server request.
func (n *Node) handleNotFound(ctx context.Context, l *Line, msg Message) bool {
	l.owner = UnknownNode
	kind := MsgGet
	if op := l.ops.front(); op != nil && op.Kind == OpGetX {
		kind = MsgGetX
	}
	request := Message{Kind: kind, Sender: n.self(), MsgID: n.nextMsgID(), LineID: l.id}
	if n.comm != nil && n.comm.IsSendToServerInsteadOfMulticast {
		_ = n.send(ctx, ServerNode, request)
	} else if n.comm != nil && n.comm.Broadcast != nil {
		_ = n.comm.Broadcast(ctx, request)
	}
	return true
}

// handleChngdOwnr redirects a stale-owner guess. If Certain, the new
// owner is authoritative and we re-issue our pending request directly
// at it; otherwise we fall back to broadcast exactly like NOT_FOUND.
func (n *Node) handleChngdOwnr(ctx context.Context, l *Line, msg Message) bool {
	if !msg.Certain || msg.NewOwner == UnknownNode {
		return n.handleNotFound(ctx, l, msg)
	}
	l.owner = msg.NewOwner
	kind := MsgGet
	if op := l.ops.front(); op != nil && op.Kind == OpGetX {
		kind = MsgGetX
	}
	_ = n.send(ctx, msg.NewOwner, Message{Kind: kind, Sender: n.self(), MsgID: n.nextMsgID(), LineID: l.id})
	return true
}

// handleMsg delivers an application-level MSG to the listener and acks
// it (spec's SEND/receive pairing).
func (n *Node) handleMsg(ctx context.Context, l *Line, msg Message) bool {
	l.listener.Received(l.id, msg.Version, msg.Data)
	_ = n.send(ctx, msg.Sender, Message{Kind: MsgMsgAck, Sender: n.self(), MsgID: msg.MsgID, LineID: l.id})
	return true
}

// handleMsgAck completes the pending SEND op whose msgID matches.
func (n *Node) handleMsgAck(ctx context.Context, l *Line, msg Message) bool {
	front := l.ops.front()
	if front != nil && front.Kind == OpSend && front.msgID == msg.MsgID {
		l.ops.popFront()
		front.future.complete(nil, nil)
	}
	return true
}

// handleBackup is the slave-role side of the Backup collaborator:
// accepting a BACKUP push and storing it locally, acking back.
func (n *Node) handleBackup(ctx context.Context, l *Line, msg Message) bool {
	if msg.Version <= l.version {
		return true
	}
	l.setData(msg.Data)
	l.version = msg.Version
	l.owner = msg.Sender
	l.applyState(StateE)
	_ = n.send(ctx, msg.Sender, Message{Kind: MsgBackupAck, Sender: n.self(), LineID: l.id, Version: msg.Version})
	n.onLineChanged(ctx, l)
	return true
}

// handleBackupAck clears the MODIFIED flag once the backup target's
// version matches the line's current MODIFIED version.
func (n *Node) handleBackupAck(ctx context.Context, l *Line, msg Message) bool {
	if l.flags.Has(FlagModified) && msg.Version == l.version {
		l.flags &^= FlagModified
	}
	n.onLineChanged(ctx, l)
	return true
}

// handleTimeout is delivered internally when a transport-level
// acknowledgement never arrived; it gives up on the outstanding wait
// and fails the front pending op so callers don't block forever beyond
// cfg.Timeout.
func (n *Node) handleTimeout(ctx context.Context, l *Line, msg Message) bool {
	op := l.ops.front()
	if op != nil {
		l.ops.popFront()
		op.future.complete(nil, errTimeout(l.id))
	}
	return true
}
