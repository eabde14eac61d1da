// Package backup implements the slave-side Backup replicator: an
// append-only mmap write-ahead log for low-latency local durability of
// every MODIFIED line, with an optional S3-compatible cold-archive tier
// for long-lived snapshots.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/marmos91/galaxycache/internal/coherence"
	"github.com/marmos91/galaxycache/pkg/config"
)

// DataFetcher resolves the current bytes for a line id at flush time.
// coherence.Backup.Backup is only handed (id, version); the data itself
// is pulled back from the table through this callback rather than
// carried on every call, since most Backup calls during a hot ownership
// handoff never need to leave the process (they're coalesced by the
// next StartBackup/EndBackup bracket before Flush actually runs).
type DataFetcher func(id uint64) (data []byte, ok bool)

// pendingEntry is one line awaiting durable append.
type pendingEntry struct {
	lineID  uint64
	version uint64
}

// Store implements coherence.Backup on top of the mmap WAL.
type Store struct {
	log    *slog.Logger
	wal    *walFile
	fetch  DataFetcher
	arc    *archiver
	mu     sync.Mutex
	batch  bool
	buffer []pendingEntry
	closed bool
}

var _ coherence.Backup = (*Store)(nil)

// New opens (or creates) the backup log at cfg.Path and wires the
// optional archive tier. fetch resolves line bytes at flush time; nil
// disables payload capture and the WAL records version markers only.
func New(ctx context.Context, cfg config.BackupConfig, fetch DataFetcher, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	wal, err := openWAL(cfg.Path, uint64(cfg.Size))
	if err != nil {
		return nil, fmt.Errorf("backup: open wal: %w", err)
	}

	arc, err := newArchiver(ctx, cfg.Archive)
	if err != nil {
		wal.close()
		return nil, err
	}

	return &Store{log: log, wal: wal, fetch: fetch, arc: arc}, nil
}

// StartBackup opens a batch: subsequent Backup calls are buffered until
// EndBackup or Flush, so a transaction commit touching several lines
// reaches the WAL as one fsync instead of one per line.
func (s *Store) StartBackup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = true
}

// EndBackup closes the current batch and flushes it.
func (s *Store) EndBackup() {
	s.mu.Lock()
	s.batch = false
	s.mu.Unlock()
	if err := s.Flush(context.Background()); err != nil {
		s.log.Error("backup: flush on EndBackup failed", "error", err)
	}
}

// Backup records that line id reached version and should be made
// durable. Outside a StartBackup/EndBackup bracket it flushes
// immediately.
func (s *Store) Backup(ctx context.Context, id coherence.LineID, version uint64) error {
	s.mu.Lock()
	s.buffer = append(s.buffer, pendingEntry{lineID: uint64(id), version: version})
	inBatch := s.batch
	s.mu.Unlock()

	if inBatch {
		return nil
	}
	return s.Flush(ctx)
}

// Flush appends every buffered entry to the WAL and, when the archive
// tier is enabled, mirrors each to S3. A fetch miss (the table already
// evicted or overwrote the line before Flush ran) is not an error: the
// WAL simply has nothing durable to say about that version and a later
// Backup call for the line's next version will supersede it.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.buffer
	s.buffer = nil
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return ErrWALClosed
	}
	if len(pending) == 0 {
		return nil
	}

	var firstErr error
	for _, p := range pending {
		var data []byte
		if s.fetch != nil {
			if d, ok := s.fetch(p.lineID); ok {
				data = d
			} else {
				continue
			}
		}

		if err := s.wal.appendPut(p.lineID, p.version, data); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("backup: append %d@%d: %w", p.lineID, p.version, err)
			}
			continue
		}

		if s.arc != nil && data != nil {
			if err := s.arc.put(ctx, p.lineID, p.version, data); err != nil {
				s.log.Warn("backup: archive upload failed", "line_id", p.lineID, "version", p.version, "error", err)
			}
		}
	}

	if err := s.wal.sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("backup: sync: %w", err)
	}

	return firstErr
}

// Inv asks the backup link to forget any view of id it may be holding
// on behalf of sharer. The WAL only ever stores the owner's committed
// snapshots (never a sharer's read-only copy), so there is never a
// stale sharer view to clear here; it always reports true.
func (s *Store) Inv(_ context.Context, _ coherence.LineID, _ coherence.NodeID) (bool, error) {
	return true, nil
}

// Recover replays the WAL, returning the last live (version, data) per
// line id for warming the table back up after a restart.
func (s *Store) Recover() (map[uint64]RecoveredLine, error) {
	raw, err := s.wal.recover()
	if err != nil {
		return nil, fmt.Errorf("backup: recover: %w", err)
	}

	out := make(map[uint64]RecoveredLine, len(raw))
	for id, e := range raw {
		out[id] = RecoveredLine{Version: e.Version, Data: e.Data}
	}
	return out, nil
}

// RecoveredLine is one entry surfaced by Recover.
type RecoveredLine struct {
	Version uint64
	Data    []byte
}

// Invalidate writes a tombstone for id, so Recover no longer surfaces
// it even if an older put is still in the log.
func (s *Store) Invalidate(id uint64) error {
	return s.wal.appendInvalidate(id)
}

// Close flushes and releases the WAL's mmap region.
func (s *Store) Close() error {
	if err := s.Flush(context.Background()); err != nil {
		s.log.Error("backup: flush on close failed", "error", err)
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	return s.wal.close()
}
