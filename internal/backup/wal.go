// wal.go provides memory-mapped file backing for the backup write-ahead
// log (spec's slave-side Backup replicator).
//
// The log is append-only, same shape as the teacher's cache WAL, but its
// entries carry coherence line state (id, version, data) instead of
// filesystem slice records.
//
// File format:
//
//	Header (64 bytes):
//	  - Magic: "GCBK" (4 bytes)
//	  - Version: uint16 (2 bytes)
//	  - Entry count: uint32 (4 bytes)
//	  - Next write offset: uint64 (8 bytes)
//	  - Total data size: uint64 (8 bytes)
//	  - Reserved: 38 bytes
//
//	Entries (variable):
//	  - Entry type: uint8 (1 byte) - 0=put, 1=invalidate
//	  - Line ID: uint64 (8 bytes)
//	  - Version: uint64 (8 bytes) - put entries only
//	  - Data length: uint32 (4 bytes) - put entries only
//	  - Data: variable - put entries only
//
//	An invalidate entry is just the type byte and the line id.
//
// Recovery replays the log and returns the last put entry seen per line
// id that was not later invalidated.
package backup

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	walMagic        = "GCBK" // GalaxyCache Backup
	walVersion      = uint16(1)
	walHeaderSize   = 64
	walInitialSize  = 16 * 1024 * 1024 // 16MB initial file size
	walGrowthFactor = 2
)

const (
	entryTypePut   uint8 = 0
	entryTypeInval uint8 = 1
)

const (
	headerOffsetMagic         = 0
	headerOffsetVersion       = 4
	headerOffsetEntryCount    = 6
	headerOffsetNextOffset    = 10
	headerOffsetTotalDataSize = 18
)

type walHeader struct {
	Magic         [4]byte
	Version       uint16
	EntryCount    uint32
	NextOffset    uint64
	TotalDataSize uint64
}

// entry is a single recovered WAL record: either a put (Data non-nil) or
// an invalidation (Data nil).
type entry struct {
	LineID  uint64
	Version uint64
	Data    []byte
}

// walFile is the mmap-backed append-only log itself. It knows nothing
// about the coherence.Backup interface; Store wraps it with batching and
// the optional archive tier.
type walFile struct {
	mu     sync.Mutex
	file   *os.File
	data   []byte
	size   uint64
	header *walHeader
	dirty  bool
	closed bool
}

// openWAL opens or creates the backup log at dir/backup.wal.
func openWAL(dir string, initialSize uint64) (*walFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create wal directory: %w", err)
	}
	if initialSize == 0 {
		initialSize = walInitialSize
	}

	w := &walFile{}
	path := filepath.Join(dir, "backup.wal")

	if _, err := os.Stat(path); err == nil {
		if err := w.openExisting(path); err != nil {
			return nil, fmt.Errorf("open existing wal: %w", err)
		}
		return w, nil
	}

	if err := w.createNew(path, initialSize); err != nil {
		return nil, fmt.Errorf("create wal: %w", err)
	}
	return w, nil
}

func (w *walFile) createNew(path string, initialSize uint64) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if err := f.Truncate(int64(initialSize)); err != nil {
		f.Close()
		return fmt.Errorf("truncate file: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(initialSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap: %w", err)
	}

	w.file = f
	w.data = data
	w.size = initialSize
	w.header = &walHeader{
		Version:    walVersion,
		NextOffset: walHeaderSize,
	}
	copy(w.header.Magic[:], walMagic)
	w.writeHeader()

	return nil
}

func (w *walFile) openExisting(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat file: %w", err)
	}

	size := uint64(info.Size())
	if size < walHeaderSize {
		f.Close()
		return ErrCorrupted
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap: %w", err)
	}

	w.file = f
	w.data = data
	w.size = size

	header := &walHeader{}
	copy(header.Magic[:], data[headerOffsetMagic:headerOffsetVersion])
	header.Version = binary.LittleEndian.Uint16(data[headerOffsetVersion:headerOffsetEntryCount])
	header.EntryCount = binary.LittleEndian.Uint32(data[headerOffsetEntryCount:headerOffsetNextOffset])
	header.NextOffset = binary.LittleEndian.Uint64(data[headerOffsetNextOffset:headerOffsetTotalDataSize])
	header.TotalDataSize = binary.LittleEndian.Uint64(data[headerOffsetTotalDataSize:])

	if string(header.Magic[:]) != walMagic {
		w.closeLocked()
		return ErrCorrupted
	}
	if header.Version != walVersion {
		w.closeLocked()
		return ErrVersionMismatch
	}

	w.header = header
	return nil
}

// appendPut appends a durable (lineID, version, data) record.
func (w *walFile) appendPut(lineID, version uint64, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}

	entrySize := uint64(1 + 8 + 8 + 4 + len(data))
	if err := w.ensureSpace(entrySize); err != nil {
		return err
	}

	offset := w.header.NextOffset
	w.data[offset] = entryTypePut
	offset++
	binary.LittleEndian.PutUint64(w.data[offset:], lineID)
	offset += 8
	binary.LittleEndian.PutUint64(w.data[offset:], version)
	offset += 8
	binary.LittleEndian.PutUint32(w.data[offset:], uint32(len(data)))
	offset += 4
	copy(w.data[offset:], data)
	offset += uint64(len(data))

	w.header.NextOffset = offset
	w.header.EntryCount++
	w.header.TotalDataSize += uint64(len(data))
	w.writeHeader()
	w.dirty = true

	return nil
}

// appendInvalidate appends a tombstone for lineID; recovery treats any
// earlier put for this id as gone.
func (w *walFile) appendInvalidate(lineID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}

	entrySize := uint64(1 + 8)
	if err := w.ensureSpace(entrySize); err != nil {
		return err
	}

	offset := w.header.NextOffset
	w.data[offset] = entryTypeInval
	offset++
	binary.LittleEndian.PutUint64(w.data[offset:], lineID)
	offset += 8

	w.header.NextOffset = offset
	w.header.EntryCount++
	w.writeHeader()
	w.dirty = true

	return nil
}

func (w *walFile) sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if !w.dirty {
		return nil
	}

	w.writeHeader()
	if err := unix.Msync(w.data, unix.MS_ASYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}
	w.dirty = false
	return nil
}

// recover replays the log, returning the last live entry per line id.
// A put followed later by an invalidate for the same id is dropped; a
// put followed by a newer put is replaced (last write wins, matching the
// append-only single-writer assumption of the backup link).
func (w *walFile) recover() (map[uint64]entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrWALClosed
	}

	live := make(map[uint64]entry)
	offset := uint64(walHeaderSize)
	end := w.header.NextOffset

	for offset < end {
		if offset >= w.size {
			return nil, ErrCorrupted
		}

		typ := w.data[offset]
		offset++

		switch typ {
		case entryTypePut:
			if offset+20 > w.size {
				return nil, ErrCorrupted
			}
			lineID := binary.LittleEndian.Uint64(w.data[offset:])
			offset += 8
			version := binary.LittleEndian.Uint64(w.data[offset:])
			offset += 8
			dataLen := binary.LittleEndian.Uint32(w.data[offset:])
			offset += 4
			if offset+uint64(dataLen) > w.size {
				return nil, ErrCorrupted
			}
			data := make([]byte, dataLen)
			copy(data, w.data[offset:offset+uint64(dataLen)])
			offset += uint64(dataLen)

			live[lineID] = entry{LineID: lineID, Version: version, Data: data}

		case entryTypeInval:
			if offset+8 > w.size {
				return nil, ErrCorrupted
			}
			lineID := binary.LittleEndian.Uint64(w.data[offset:])
			offset += 8
			delete(live, lineID)

		default:
			return nil, fmt.Errorf("backup: unknown wal entry type %d", typ)
		}
	}

	return live, nil
}

func (w *walFile) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *walFile) closeLocked() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.data != nil {
		if w.dirty {
			w.writeHeader()
		}
		_ = unix.Msync(w.data, unix.MS_SYNC)
		if err := unix.Munmap(w.data); err != nil {
			return fmt.Errorf("munmap: %w", err)
		}
		w.data = nil
	}

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("close file: %w", err)
		}
		w.file = nil
	}

	return nil
}

func (w *walFile) writeHeader() {
	copy(w.data[headerOffsetMagic:], w.header.Magic[:])
	binary.LittleEndian.PutUint16(w.data[headerOffsetVersion:], w.header.Version)
	binary.LittleEndian.PutUint32(w.data[headerOffsetEntryCount:], w.header.EntryCount)
	binary.LittleEndian.PutUint64(w.data[headerOffsetNextOffset:], w.header.NextOffset)
	binary.LittleEndian.PutUint64(w.data[headerOffsetTotalDataSize:], w.header.TotalDataSize)
}

func (w *walFile) ensureSpace(needed uint64) error {
	if w.header.NextOffset+needed <= w.size {
		return nil
	}

	newSize := w.size * walGrowthFactor
	for w.header.NextOffset+needed > newSize {
		newSize *= walGrowthFactor
	}

	if err := unix.Munmap(w.data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	if err := w.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}

	data, err := unix.Mmap(int(w.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}

	w.data = data
	w.size = newSize
	return nil
}
