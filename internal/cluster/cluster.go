// Package cluster implements coherence.ClusterListener on top of a
// PostgreSQL membership table: nodes register themselves, renew a
// heartbeat row on a ticker, and a background poller diffs the table
// into the nodeAdded/nodeRemoved/nodeSwitched events the engine's
// node-event processor (C7) expects. Master/slave pairing (spec
// section "Master / Slave") is assigned once at registration time;
// reconfiguration beyond that is out of scope here, matching the
// engine's own stance on fault-tolerant reconfiguration.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marmos91/galaxycache/internal/coherence"
	"github.com/marmos91/galaxycache/pkg/config"
)

// DefaultHeartbeatInterval and DefaultHeartbeatTimeout are used when the
// corresponding config fields are zero.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 20 * time.Second
)

// PeerRegistry is the subset of internal/xdrcomm.Transport that cluster
// needs to keep dialable addresses in sync with membership.
type PeerRegistry interface {
	UpdatePeer(id coherence.NodeID, addr string)
	RemovePeer(id coherence.NodeID)
}

// NodeEventSink is the subset of coherence.Node that reacts to
// membership changes; see dispatch.go's NodeRemoved/NodeSwitched.
type NodeEventSink interface {
	NodeRemoved(ctx context.Context, node coherence.NodeID)
	NodeSwitched(ctx context.Context, node coherence.NodeID)
}

// member is this package's in-memory view of one cluster_nodes row.
type member struct {
	epoch      int64
	addr       string
	isMaster   bool
	pairedWith coherence.NodeID
	live       bool
}

// Cluster is a PostgreSQL-backed coherence.ClusterListener.
type Cluster struct {
	pool *pgxpool.Pool
	log  *slog.Logger

	peers  PeerRegistry
	events NodeEventSink

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	mu      sync.RWMutex
	self    coherence.NodeID
	members map[coherence.NodeID]*member

	stopCh  chan struct{}
	stopped chan struct{}
}

var _ coherence.ClusterListener = (*Cluster)(nil)

// New runs the cluster_nodes migration, opens a pgxpool against
// cfg.DSN, registers this node (assigning an id if node.ID is 0 and
// pairing it with an unpaired master, or making it one), and returns a
// Cluster ready for Start.
func New(ctx context.Context, cfg config.PostgresConfig, node config.NodeConfig, peers PeerRegistry, events NodeEventSink, log *slog.Logger) (*Cluster, error) {
	if log == nil {
		log = slog.Default()
	}

	if err := runMigrations(ctx, cfg.DSN, log); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("cluster: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("cluster: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cluster: ping: %w", err)
	}

	heartbeatInterval := cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	heartbeatTimeout := cfg.HeartbeatTimeout
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}

	c := &Cluster{
		pool:              pool,
		log:               log,
		peers:             peers,
		events:            events,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		members:           make(map[coherence.NodeID]*member),
		stopCh:            make(chan struct{}),
		stopped:           make(chan struct{}),
	}

	addr := node.AdvertiseAddr
	if addr == "" {
		addr = node.ListenAddr
	}
	if err := c.register(ctx, node.ID, addr); err != nil {
		pool.Close()
		return nil, err
	}

	// Seed the membership snapshot so the first poll tick doesn't
	// misreport every existing peer as newly added.
	if err := c.pollMembership(ctx); err != nil {
		log.Warn("cluster: initial membership poll failed", "error", err)
	}

	return c, nil
}

// register inserts or updates this node's row and assigns a
// master/slave pairing if it does not already have one. If id is 0, a
// fresh id is minted by the bigserial primary key.
func (c *Cluster) register(ctx context.Context, id int64, addr string) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cluster: begin registration: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var selfID int64
	if id != 0 {
		tag, err := tx.Exec(ctx,
			`UPDATE cluster_nodes SET epoch = epoch + 1, listen_addr = $2, advertise_addr = $2, last_heartbeat = now()
			 WHERE id = $1`,
			id, addr,
		)
		if err != nil {
			return fmt.Errorf("cluster: update registration: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if err := tx.QueryRow(ctx,
				`INSERT INTO cluster_nodes (id, listen_addr, advertise_addr) VALUES ($1, $2, $2) RETURNING id`,
				id, addr,
			).Scan(&selfID); err != nil {
				return fmt.Errorf("cluster: insert registration: %w", err)
			}
		} else {
			selfID = id
		}
	} else {
		if err := tx.QueryRow(ctx,
			`INSERT INTO cluster_nodes (listen_addr, advertise_addr) VALUES ($1, $1) RETURNING id`,
			addr,
		).Scan(&selfID); err != nil {
			return fmt.Errorf("cluster: insert registration: %w", err)
		}
	}

	var isMaster bool
	var pairedWith *int64
	if err := tx.QueryRow(ctx,
		`SELECT is_master, paired_with FROM cluster_nodes WHERE id = $1`, selfID,
	).Scan(&isMaster, &pairedWith); err != nil {
		return fmt.Errorf("cluster: read registration: %w", err)
	}

	if pairedWith == nil {
		var candidateID int64
		err := tx.QueryRow(ctx,
			`SELECT id FROM cluster_nodes
			 WHERE id <> $1 AND paired_with IS NULL AND is_master AND now() - last_heartbeat < $2
			 ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED`,
			selfID, c.heartbeatTimeout,
		).Scan(&candidateID)
		switch {
		case err == nil:
			if _, err := tx.Exec(ctx, `UPDATE cluster_nodes SET paired_with = $1 WHERE id = $2`, candidateID, selfID); err != nil {
				return fmt.Errorf("cluster: pair as slave: %w", err)
			}
			if _, err := tx.Exec(ctx, `UPDATE cluster_nodes SET paired_with = $1 WHERE id = $2`, selfID, candidateID); err != nil {
				return fmt.Errorf("cluster: pair master: %w", err)
			}
			isMaster = false
		case errors.Is(err, pgx.ErrNoRows):
			if _, err := tx.Exec(ctx, `UPDATE cluster_nodes SET is_master = true WHERE id = $1`, selfID); err != nil {
				return fmt.Errorf("cluster: become master: %w", err)
			}
			isMaster = true
		default:
			return fmt.Errorf("cluster: find pairing candidate: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cluster: commit registration: %w", err)
	}

	c.mu.Lock()
	c.self = coherence.NodeID(selfID)
	c.mu.Unlock()

	role := "slave"
	if isMaster {
		role = "master"
	}
	c.log.Info("cluster: registered", "node_id", selfID, "role", role)
	return nil
}

// Start begins the background heartbeat-renewal and membership-poll
// goroutine. It runs until Stop is called or ctx is cancelled.
func (c *Cluster) Start(ctx context.Context) {
	go func() {
		defer close(c.stopped)

		ticker := time.NewTicker(c.heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.tick(ctx)
			}
		}
	}()
}

// Stop signals the background goroutine to stop and waits for it to exit.
func (c *Cluster) Stop() {
	select {
	case <-c.stopCh:
		return
	default:
		close(c.stopCh)
	}
	<-c.stopped
}

// Close stops the background goroutine and releases the connection pool.
func (c *Cluster) Close() {
	c.Stop()
	c.pool.Close()
}

func (c *Cluster) tick(ctx context.Context) {
	if err := c.renewHeartbeat(ctx); err != nil {
		c.log.Warn("cluster: heartbeat renewal failed", "error", err)
	}
	if err := c.pollMembership(ctx); err != nil {
		c.log.Warn("cluster: membership poll failed", "error", err)
	}
}

func (c *Cluster) renewHeartbeat(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, `UPDATE cluster_nodes SET last_heartbeat = now() WHERE id = $1`, int64(c.MyNodeID()))
	return err
}

// pollMembership reads the full cluster_nodes table, diffs it against
// the last known snapshot, and fires nodeAdded/nodeRemoved/nodeSwitched
// as appropriate. nodeAdded and address changes update the peer
// registry directly; nodeRemoved/nodeSwitched are forwarded to the
// engine via events.
func (c *Cluster) pollMembership(ctx context.Context) error {
	rows, err := c.pool.Query(ctx,
		`SELECT id, epoch, listen_addr, advertise_addr, is_master, paired_with, last_heartbeat FROM cluster_nodes`)
	if err != nil {
		return fmt.Errorf("cluster: query membership: %w", err)
	}
	defer rows.Close()

	self := c.MyNodeID()
	next := make(map[coherence.NodeID]*member)

	for rows.Next() {
		var (
			id            int64
			epoch         int64
			listenAddr    string
			advertiseAddr string
			isMaster      bool
			pairedWith    *int64
			lastHeartbeat time.Time
		)
		if err := rows.Scan(&id, &epoch, &listenAddr, &advertiseAddr, &isMaster, &pairedWith, &lastHeartbeat); err != nil {
			return fmt.Errorf("cluster: scan membership row: %w", err)
		}

		addr := advertiseAddr
		if addr == "" {
			addr = listenAddr
		}

		nodeID := coherence.NodeID(id)
		paired := coherence.UnknownNode
		if pairedWith != nil {
			paired = coherence.NodeID(*pairedWith)
		}

		live := nodeID == self || time.Since(lastHeartbeat) < c.heartbeatTimeout
		next[nodeID] = &member{epoch: epoch, addr: addr, isMaster: isMaster, pairedWith: paired, live: live}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("cluster: iterate membership: %w", err)
	}

	c.mu.Lock()
	prev := c.members
	c.members = next
	c.mu.Unlock()

	for id, m := range next {
		if id == self {
			continue
		}
		old, existed := prev[id]
		switch {
		case !existed && m.live:
			c.log.Info("cluster: node added", "node_id", id, "addr", m.addr)
			c.peers.UpdatePeer(id, m.addr)
		case existed && old.live && !m.live:
			c.log.Info("cluster: node removed", "node_id", id)
			c.peers.RemovePeer(id)
			c.events.NodeRemoved(ctx, id)
		case existed && m.live && m.epoch > old.epoch:
			c.log.Info("cluster: node switched", "node_id", id, "old_epoch", old.epoch, "new_epoch", m.epoch)
			c.peers.UpdatePeer(id, m.addr)
			c.events.NodeSwitched(ctx, id)
		case existed && m.live && m.addr != old.addr:
			c.peers.UpdatePeer(id, m.addr)
		}
	}
	for id, old := range prev {
		if id == self {
			continue
		}
		if _, stillPresent := next[id]; !stillPresent && old.live {
			c.log.Info("cluster: node removed (row deleted)", "node_id", id)
			c.peers.RemovePeer(id)
			c.events.NodeRemoved(ctx, id)
		}
	}

	return nil
}

// MyNodeID returns this node's cluster identity.
func (c *Cluster) MyNodeID() coherence.NodeID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// IsMaster reports whether this node currently holds the master role
// in its master/slave pair.
func (c *Cluster) IsMaster() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[c.self]
	return ok && m.isMaster
}

// Master returns the master node for the given node: itself if node is
// a master, its paired master if node is a slave, or UnknownNode if
// node is not currently known.
func (c *Cluster) Master(node coherence.NodeID) coherence.NodeID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.members[node]
	if !ok {
		return coherence.UnknownNode
	}
	if m.isMaster {
		return node
	}
	return m.pairedWith
}
