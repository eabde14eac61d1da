package coherence

import (
	"context"
	"sync"
)

// txnLineState is the rollback journal entry captured the instant a
// line is locked into a Transaction (spec's C5). Only populated when
// Config.RollbackSupported is set, since snapshotting the payload on
// every lock has a real cost a caller may choose to forgo.
type txnLineState struct {
	line        *Line
	prevData    []byte
	prevVersion uint64
	prevFlags   Flags
	prevState   State
}

// Transaction provides multi-line locking with optional rollback, per
// spec section 4.3. Lines are locked E-exclusive (GETS semantics) as
// they are first touched and held until Commit or Abort; Commit
// releases each line's lock and queues every modified line on the
// configured Backup, then flushes them as one batch.
type Transaction struct {
	mu   sync.Mutex
	node *Node

	order   []LineID
	journal map[LineID]*txnLineState

	firstErr error
	done     bool
}

// NewTransaction begins a transaction against n. Lines are added to it
// lazily via Get/Set/Del, each of which transparently issues the GETS
// (lock-acquiring) op the first time a given line is touched.
func (n *Node) NewTransaction() *Transaction {
	return &Transaction{node: n, journal: make(map[LineID]*txnLineState)}
}

// lock acquires the line for id under t, recording a rollback snapshot
// if the node is configured for it. Safe to call repeatedly for the
// same id within one transaction (idempotent).
func (t *Transaction) lock(ctx context.Context, id LineID) (*Line, error) {
	t.mu.Lock()
	if st, ok := t.journal[id]; ok {
		t.mu.Unlock()
		return st.line, nil
	}
	t.mu.Unlock()

	op := &Op{Kind: OpGetS, LineID: id, Txn: t}
	if _, err := t.node.DoOp(ctx, op); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.node.table.GetOrCreate(id)
	st := &txnLineState{line: l}
	if t.node.cfg.RollbackSupported {
		l.mu.Lock()
		st.prevData = append([]byte(nil), l.data...)
		st.prevVersion = l.version
		st.prevFlags = l.flags
		st.prevState = l.state
		l.mu.Unlock()
	}
	t.journal[id] = st
	t.order = append(t.order, id)
	return l, nil
}

// Get reads id's current value within the transaction, locking it on
// first touch.
func (t *Transaction) Get(ctx context.Context, id LineID) ([]byte, error) {
	l, err := t.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data, nil
}

// Set writes data to id within the transaction, locking it on first
// touch. The write is visible to the transaction immediately but is
// only durable (flushed to Backup) on Commit.
func (t *Transaction) Set(ctx context.Context, id LineID, data []byte) error {
	if _, err := t.lock(ctx, id); err != nil {
		return err
	}
	_, err := t.node.DoOp(ctx, &Op{Kind: OpPut, LineID: id, Data: data, Txn: t})
	return err
}

// Del removes id's content within the transaction, locking it on first
// touch.
func (t *Transaction) Del(ctx context.Context, id LineID) error {
	if _, err := t.lock(ctx, id); err != nil {
		return err
	}
	_, err := t.node.DoOp(ctx, &Op{Kind: OpDel, LineID: id, Txn: t})
	return err
}

// doTxnOp is Node.DoOp's entry for any op carrying a non-nil Txn: it
// takes the line's lock (as an ordinary GETS would) and, once
// acquired, marks the line lockedBy this transaction so every other
// op/transaction on it blocks until Commit/Abort.
func (n *Node) doTxnOp(ctx context.Context, op *Op) (any, error) {
	var (
		outcome opOutcome
		value   any
		err     error
	)
	n.withLine(ctx, op.LineID, func(ctx context.Context, l *Line) {
		if op.Kind == OpGetS {
			if l.lockedBy == op.Txn {
				outcome, value, err = outcomeDone, l.data, nil
				return
			}
			if l.lockedBy != nil {
				outcome = outcomePending
				op.future = newOpFuture()
				l.ops.push(op)
				return
			}
			outcome, value, err = n.tryGetX(ctx, l, op)
			if outcome == outcomeDone && err == nil {
				l.lockedBy = op.Txn
				l.flags |= FlagLocked
				value = l.data
			} else if outcome == outcomePending {
				op.future = newOpFuture()
				l.ops.push(op)
			}
			return
		}

		// SET/DEL/PUT within an already-locked line: the precondition
		// "state == E" always holds since GETS already got us there.
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

// Commit releases every line's lock in the reverse order they were
// acquired, handing each modified line to the configured Backup as it
// goes, and then flushes the Backup batch once (spec 4.3: "commit-time
// backup flush"). The locks are already released when the flush runs.
// The first error encountered (from any Get/Set/Del call, or
// from the backup flush itself) is what Commit returns, after cleanup
// has still run for every line.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	order := append([]LineID(nil), t.order...)
	journal := t.journal
	t.mu.Unlock()

	if t.node.backup != nil {
		t.node.backup.StartBackup()
	}

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		st := journal[id]
		l := st.line
		var modified bool
		var version uint64
		t.node.withLockedLine(ctx, l, func(ctx context.Context, l *Line) {
			modified = l.flags.Has(FlagModified)
			version = l.version
			if modified {
				l.flags |= FlagSlave
			}
			l.lockedBy = nil
			l.flags &^= FlagLocked
			t.node.onLineChanged(ctx, l)
		})

		if modified && t.node.backup != nil {
			if err := t.node.backup.Backup(ctx, id, version); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	if t.node.backup != nil {
		if err := t.node.backup.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		t.node.backup.EndBackup()
	}
	return firstErr
}

// Abort releases every lock the transaction holds. If
// Config.RollbackSupported is set, each line's data/version/flags/
// state are restored from the journal snapshot taken at lock time;
// otherwise only the lock itself is released and any writes already
// applied stand (callers are responsible for their own compensation).
func (t *Transaction) Abort(ctx context.Context) error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	order := append([]LineID(nil), t.order...)
	journal := t.journal
	rollback := t.node.cfg.RollbackSupported
	t.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		st := journal[id]
		l := st.line
		t.node.withLockedLine(ctx, l, func(ctx context.Context, l *Line) {
			if rollback {
				l.data = st.prevData
				l.version = st.prevVersion
				l.flags = st.prevFlags
				l.applyState(st.prevState)
			}
			l.lockedBy = nil
			l.flags &^= FlagLocked
			t.node.onLineChanged(ctx, l)
		})
	}
	return nil
}

// Release early-releases a single line from the transaction without
// affecting the others (spec 4.3's single-line Release variant); the
// line keeps whatever writes it has, it simply stops being exclusive
// to this transaction.
func (t *Transaction) Release(ctx context.Context, id LineID) error {
	t.mu.Lock()
	st, ok := t.journal[id]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	delete(t.journal, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.mu.Unlock()

	l := st.line
	t.node.withLockedLine(ctx, l, func(ctx context.Context, l *Line) {
		l.lockedBy = nil
		l.flags &^= FlagLocked
		t.node.onLineChanged(ctx, l)
	})
	return nil
}
