package coherence

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// selfQueueCtxKey carries the current call chain's deferred
// self-addressed message queue. A line's own mutex is held while a
// local op or inbound message is being processed; if that processing
// decides to "send" a message to this very node (e.g. a broadcast GET
// that includes the sender, or an owner replying to its own request),
// delivering it synchronously would re-enter the same line's lock.
// Instead it is queued here and flushed once the lock is released
// (spec section 9: reentrancy/short-circuit handling, carried as
// context rather than a true thread-local since Go has none).
type selfQueueCtxKey struct{}

func withSelfQueue(ctx context.Context) (context.Context, *[]Message) {
	q := new([]Message)
	return context.WithValue(ctx, selfQueueCtxKey{}, q), q
}

func selfQueueFrom(ctx context.Context) *[]Message {
	q, _ := ctx.Value(selfQueueCtxKey{}).(*[]Message)
	return q
}

// Node is the per-process coherence engine (spec's C8): the line
// table, every external collaborator, and the dispatch entry points
// client code and the transport call into.
type Node struct {
	cfg Config

	table   *Table
	comm    *Comm
	backup  Backup
	storage CacheStorage
	idAlloc IdAllocator
	cluster ClusterListener
	dirty   *dirtyReadTracker
	events  *nodeEvents

	listener CacheListener
	recorder OpRecorder
	log      *slog.Logger

	msgSeq atomic.Uint64
}

// NodeDeps bundles the external collaborators a Node is constructed
// with (spec section 6).
type NodeDeps struct {
	Comm     *Comm
	Backup   Backup
	Storage  CacheStorage
	IdAlloc  IdAllocator
	Cluster  ClusterListener
	Listener CacheListener
	Recorder OpRecorder
	Log      *slog.Logger
}

// NewNode validates cfg and wires up a Node ready to serve DoOp/Receive.
func NewNode(cfg Config, deps NodeDeps) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	listener := deps.Listener
	if listener == nil {
		listener = NoopCacheListener{}
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = NoopOpRecorder{}
	}

	table := NewTable(cfg.MaxCapacity, listener, deps.Comm, deps.Storage, cfg.ReuseLines, cfg.ReuseSharerSets)
	if deps.Cluster != nil {
		table.SetSelfNode(deps.Cluster.MyNodeID())
	}
	dirty := newDirtyReadTracker()
	events := newNodeEvents(table, dirty, deps.Comm, deps.Cluster, log)

	n := &Node{
		cfg:      cfg,
		table:    table,
		comm:     deps.Comm,
		backup:   deps.Backup,
		storage:  deps.Storage,
		idAlloc:  deps.IdAlloc,
		cluster:  deps.Cluster,
		dirty:    dirty,
		events:   events,
		listener: listener,
		recorder: recorder,
		log:      log,
	}
	events.redeliver = n.redeliverMessage
	events.retryOps = n.requeueOps
	return n, nil
}

// Table returns the node's line table, for callers outside the engine
// that only need read access (internal/metrics' sampler, internal/adminapi's
// diagnostics dump).
func (n *Node) Table() *Table { return n.table }

func (n *Node) self() NodeID {
	if n.cluster == nil {
		return UnknownNode
	}
	return n.cluster.MyNodeID()
}

func (n *Node) nextMsgID() uint64 { return n.msgSeq.Add(1) }

// hasReachablePeers reports whether this node's transport is even
// capable of asking another node about a line (a broadcast fan-out or
// a server-directed topology). A node with neither configured is
// standalone: any line with an unknown owner is, by construction,
// something no other process could be holding.
func (n *Node) hasReachablePeers() bool {
	return n.comm != nil && (n.comm.Broadcast != nil || n.comm.IsSendToServerInsteadOfMulticast)
}

// NodeRemoved/NodeSwitched forward cluster membership callbacks to C7.
func (n *Node) NodeRemoved(ctx context.Context, node NodeID) { n.events.NodeRemoved(ctx, node) }
func (n *Node) NodeSwitched(ctx context.Context, node NodeID) { n.events.NodeSwitched(ctx, node) }

// send delivers msg to dst, short-circuiting to a direct in-process
// handoff when dst is this very node instead of round-tripping through
// Comm. If a self-queue is active on ctx (we are inside a locked
// critical section for some line), the message is deferred into it
// rather than handled immediately, to avoid re-entering a held lock.
func (n *Node) send(ctx context.Context, dst NodeID, msg Message) error {
	if dst == n.self() {
		if q := selfQueueFrom(ctx); q != nil {
			*q = append(*q, msg)
			return nil
		}
		return n.handleMessage(ctx, msg)
	}
	if n.comm == nil || n.comm.Send == nil {
		return nil
	}
	if err := n.comm.Send(ctx, dst, msg); err != nil {
		if coherenceErr, ok := err.(*Error); ok && coherenceErr.Code == ErrNodeNotFound {
			return n.autoRespondNodeGone(ctx, dst, msg)
		}
		return err
	}
	return nil
}

// autoRespondNodeGone synthesizes the local reaction to a destination
// having departed mid-send, instead of surfacing ErrNodeNotFound to
// the caller (spec section 7: NodeNotFound never escapes to a client).
func (n *Node) autoRespondNodeGone(ctx context.Context, dst NodeID, msg Message) error {
	switch msg.Kind {
	case MsgInv:
		// The node we tried to invalidate is already gone; treat as if
		// it acked immediately.
		return n.handleMessage(ctx, Message{Kind: MsgInvAck, Sender: dst, LineID: msg.LineID})
	case MsgGet, MsgGetX:
		return n.handleMessage(ctx, Message{Kind: MsgChngdOwnr, Sender: dst, LineID: msg.LineID, NewOwner: UnknownNode, Certain: false})
	default:
		return nil
	}
}

// withLine locks the line for id (creating it if needed), runs fn
// under the lock with a fresh self-queue on ctx, unlocks, then flushes
// any self-addressed messages fn produced.
func (n *Node) withLine(ctx context.Context, id LineID, fn func(ctx context.Context, l *Line)) {
	n.withLockedLine(ctx, n.table.GetOrCreate(id), fn)
}

// withLockedLine is withLine's core: given an already-resolved line
// pointer, it locks it, runs fn with a fresh self-queue, unlocks, then
// flushes any self-addressed messages fn queued. Used directly by
// transaction.go, whose lines are already known (no GetOrCreate
// needed) but which must observe the same reentrancy discipline as any
// other line-locked critical section.
func (n *Node) withLockedLine(ctx context.Context, l *Line, fn func(ctx context.Context, l *Line)) {
	lctx, _ := withSelfQueue(ctx)

	l.mu.Lock()
	fn(lctx, l)
	q := selfQueueFrom(lctx)
	var pending []Message
	if q != nil {
		pending = *q
	}
	l.mu.Unlock()

	for _, m := range pending {
		_ = n.handleMessage(ctx, m)
	}
}

// redeliverMessage is the seam nodeEvents.redeliver is wired to: it
// re-runs ordinary inbound message handling for a message that was
// sitting in a line's pending set when a node-event sweep reconciled
// that line out from under it.
func (n *Node) redeliverMessage(ctx context.Context, l *Line, m Message) {
	_ = n.handleMessage(ctx, m)
}

// DoOp is the blocking entry point for a local operation (spec section
// 5). Fast-track ops resolve before returning; slow-track ops enqueue
// onto the line's pendingOps and block on a future up to cfg.Timeout.
func (n *Node) DoOp(ctx context.Context, op *Op) (any, error) {
	start := time.Now()
	var (
		value any
		err   error
	)
	if op.Txn != nil {
		value, err = n.doTxnOp(ctx, op)
	} else {
		value, err = n.doOp(ctx, op)
	}
	n.recorder.ObserveOp(op.Kind.String(), op.LineID, time.Since(start), err)
	return value, err
}

func (n *Node) doOp(ctx context.Context, op *Op) (any, error) {
	var (
		outcome opOutcome
		value   any
		err     error
	)
	n.withLine(ctx, op.LineID, func(ctx context.Context, l *Line) {
		outcome, value, err = n.tryResolveOp(ctx, l, op)
		if outcome == outcomePending {
			op.future = newOpFuture()
			l.ops.push(op)
		}
	})
	if outcome == outcomeDone {
		return value, err
	}
	return op.future.wait(ctx, n.cfg.Timeout)
}

// drainOps re-attempts every pending op on l, in FIFO order, stopping
// at the first one that still cannot proceed. Called whenever a line's
// state or flags change. Caller must hold l.mu and be inside a
// withLine-established ctx (so any self-sends drainOps triggers are
// queued, not delivered reentrantly).
func (n *Node) drainOps(ctx context.Context, l *Line) {
	for {
		op := l.ops.front()
		if op == nil {
			return
		}
		outcome, value, err := n.tryResolveOp(ctx, l, op)
		if outcome == outcomePending {
			return
		}
		l.ops.popFront()
		op.future.complete(value, err)
	}
}

// requeueOps re-attempts every op currently queued on l as if freshly
// issued: each is popped off before its own retry, so tryGet/tryGetX's
// "something is already outstanding" checks see the queue state a
// brand-new op would see, rather than tripping on their own still-queued
// presence the way a plain drainOps retry would. Used by the node-event
// sweep (spec 4.7: "re-drain pending ops") so a GET/GETX blocked on a
// departed or switched node's reply retries immediately against its
// reconciled owner instead of only recovering via cfg.Timeout.
func (n *Node) requeueOps(ctx context.Context, l *Line) {
	var ops []*Op
	for {
		op := l.ops.front()
		if op == nil {
			break
		}
		l.ops.popFront()
		ops = append(ops, op)
	}
	for _, op := range ops {
		outcome, value, err := n.tryResolveOp(ctx, l, op)
		if outcome == outcomePending {
			l.ops.push(op)
			continue
		}
		op.future.complete(value, err)
	}
}

// drainMsgs re-attempts every pending inbound message on l, in arrival
// order, stopping at the first one that still cannot be processed.
// Caller must hold l.mu.
func (n *Node) drainMsgs(ctx context.Context, l *Line) {
	for {
		m, ok := l.msgs.front()
		if !ok {
			return
		}
		handled := n.tryHandleMessage(ctx, l, m)
		if !handled {
			return
		}
		l.msgs.popFront()
	}
}

// onLineChanged is the single hook called after any state, flag, or
// ownership change so pending ops/messages get a chance to proceed,
// per spec 4.2. Caller must hold l.mu.
func (n *Node) onLineChanged(ctx context.Context, l *Line) {
	n.drainOps(ctx, l)
	n.drainMsgs(ctx, l)
}

// Receive is the transport's entry point for an inbound wire message.
func (n *Node) Receive(ctx context.Context, msg Message) error {
	return n.handleMessage(ctx, msg)
}

// handleMessage locks msg's line and either processes it immediately
// or, if the line's state makes that impossible right now, enqueues it
// onto the pending message set to be retried on the next onLineChanged.
func (n *Node) handleMessage(ctx context.Context, msg Message) error {
	var err error
	n.withLine(ctx, msg.LineID, func(ctx context.Context, l *Line) {
		if !n.tryHandleMessage(ctx, l, msg) {
			l.msgs.push(msg)
		}
	})
	return err
}
