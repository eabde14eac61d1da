// Package xdrcomm implements the coherence engine's Comm (spec section
// 6): one long-lived TCP connection per peer, XDR-encoded length-prefixed
// framing, and a single reader goroutine per connection so messages from
// any one sender are delivered in send order.
package xdrcomm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/marmos91/galaxycache/internal/coherence"
)

// dialTimeout bounds how long Send waits to establish a fresh outbound
// connection before giving up and reporting the peer as gone, mirroring
// the teacher's fixed-budget NLM callback dial (CallbackTimeout).
const dialTimeout = 5 * time.Second

// ReceiveFunc is invoked once per decoded inbound message, from the
// connection's single reader goroutine; it must not block for long or
// it will stall every later message from the same sender.
type ReceiveFunc func(ctx context.Context, msg coherence.Message)

// Transport owns the listener and the set of dialed outbound
// connections. Peers are addressed by NodeID; addresses are supplied at
// construction and can be updated as cluster membership changes.
type Transport struct {
	log    *slog.Logger
	onRecv ReceiveFunc

	listener net.Listener

	mu     sync.Mutex
	peers  map[coherence.NodeID]string
	conns  map[coherence.NodeID]*peerConn
	closed bool

	wg sync.WaitGroup
}

type peerConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// New starts listening on listenAddr and returns a Transport ready to
// have peers registered and Comm() wired into a coherence.Node.
func New(ctx context.Context, listenAddr string, onRecv ReceiveFunc, log *slog.Logger) (*Transport, error) {
	if log == nil {
		log = slog.Default()
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("xdrcomm: listen %s: %w", listenAddr, err)
	}

	t := &Transport{
		log:      log,
		onRecv:   onRecv,
		listener: ln,
		peers:    make(map[coherence.NodeID]string),
		conns:    make(map[coherence.NodeID]*peerConn),
	}

	t.wg.Add(1)
	go t.acceptLoop()

	return t, nil
}

// UpdatePeer records (or changes) the dial address for a node. A
// subsequent Send to this node uses the new address; an existing open
// connection is left alone until it errors out.
func (t *Transport) UpdatePeer(id coherence.NodeID, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[id] = addr
}

// RemovePeer drops the dial address and closes any open connection, for
// use when the cluster listener reports a node departed.
func (t *Transport) RemovePeer(id coherence.NodeID) {
	t.mu.Lock()
	delete(t.peers, id)
	pc := t.conns[id]
	delete(t.conns, id)
	t.mu.Unlock()

	if pc != nil {
		pc.mu.Lock()
		_ = pc.conn.Close()
		pc.mu.Unlock()
	}
}

// SetServerAddr records ServerNode's dial address for ServerDirected
// deployments.
func (t *Transport) SetServerAddr(addr string) {
	t.UpdatePeer(coherence.ServerNode, addr)
}

// Comm builds the coherence.Comm function set wired to this transport.
func (t *Transport) Comm(serverDirected bool) coherence.Comm {
	return coherence.Comm{
		Send:                             t.Send,
		Broadcast:                        t.Broadcast,
		IsSendToServerInsteadOfMulticast: serverDirected,
	}
}

// Send delivers msg to dst over its dedicated connection, dialing one
// if none is open yet. A dial or write failure is reported as
// coherence.ErrNodeNotFound so the dispatch loop's send() synthesizes
// the usual auto-response instead of surfacing a transport error.
func (t *Transport) Send(ctx context.Context, dst coherence.NodeID, msg coherence.Message) error {
	pc, addr, err := t.getConn(ctx, dst)
	if err != nil {
		return &coherence.Error{Code: coherence.ErrNodeNotFound, LineID: coherence.NoLine,
			Msg: fmt.Sprintf("dial %s (%s): %v", dst, addr, err)}
	}

	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = pc.conn.SetWriteDeadline(deadline)
	}
	if err := writeFrame(pc.conn, payload); err != nil {
		t.dropConn(dst, pc)
		return &coherence.Error{Code: coherence.ErrNodeNotFound, LineID: coherence.NoLine,
			Msg: fmt.Sprintf("write to %s: %v", dst, err)}
	}
	return nil
}

// Broadcast sends msg to every currently known peer. Individual
// failures are logged, not returned: a broadcast GET/GETX that reaches
// no one times out at the op level rather than failing synchronously
// here (spec 4.1's "broadcast when no nodeHint" has no single
// destination whose departure should abort the whole op).
func (t *Transport) Broadcast(ctx context.Context, msg coherence.Message) error {
	t.mu.Lock()
	dests := make([]coherence.NodeID, 0, len(t.peers))
	for id := range t.peers {
		dests = append(dests, id)
	}
	t.mu.Unlock()

	var wg sync.WaitGroup
	for _, dst := range dests {
		wg.Add(1)
		go func(dst coherence.NodeID) {
			defer wg.Done()
			if err := t.Send(ctx, dst, msg); err != nil {
				t.log.Debug("xdrcomm: broadcast to peer failed", "peer", dst, "error", err)
			}
		}(dst)
	}
	wg.Wait()
	return nil
}

func (t *Transport) getConn(ctx context.Context, dst coherence.NodeID) (*peerConn, string, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, "", fmt.Errorf("transport closed")
	}
	addr, ok := t.peers[dst]
	if !ok {
		t.mu.Unlock()
		return nil, "", fmt.Errorf("unknown peer")
	}
	if pc, ok := t.conns[dst]; ok {
		t.mu.Unlock()
		return pc, addr, nil
	}
	t.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, addr, err
	}

	pc := &peerConn{conn: conn}

	t.mu.Lock()
	if existing, ok := t.conns[dst]; ok {
		t.mu.Unlock()
		_ = conn.Close()
		return existing, addr, nil
	}
	t.conns[dst] = pc
	t.mu.Unlock()

	return pc, addr, nil
}

func (t *Transport) dropConn(dst coherence.NodeID, pc *peerConn) {
	t.mu.Lock()
	if t.conns[dst] == pc {
		delete(t.conns, dst)
	}
	t.mu.Unlock()
	_ = pc.conn.Close()
}

// acceptLoop accepts inbound connections and spawns one reader goroutine
// per connection. Inbound sockets are never registered as the outbound
// path to a peer; a node always sends on the connection it dialed
// itself, keyed by the destination NodeID, not by whoever happened to
// connect to it.
func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.readLoop(conn)
	}
}

func (t *Transport) readLoop(conn net.Conn) {
	defer t.wg.Done()
	defer func() { _ = conn.Close() }()

	for {
		payload, err := readFrame(conn)
		if err != nil {
			return
		}
		msg, err := decodeMessage(payload)
		if err != nil {
			t.log.Warn("xdrcomm: dropping undecodable frame", "error", err)
			continue
		}
		if t.onRecv != nil {
			t.onRecv(context.Background(), msg)
		}
	}
}

// Close stops accepting new connections and closes every open peer
// connection and the listener, then waits for all reader goroutines to
// exit.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := t.conns
	t.conns = make(map[coherence.NodeID]*peerConn)
	t.mu.Unlock()

	err := t.listener.Close()
	for _, pc := range conns {
		pc.mu.Lock()
		_ = pc.conn.Close()
		pc.mu.Unlock()
	}
	t.wg.Wait()
	return err
}
