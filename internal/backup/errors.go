package backup

import "errors"

var (
	// ErrWALClosed is returned when operations are attempted on a closed log.
	ErrWALClosed = errors.New("backup: wal is closed")

	// ErrCorrupted is returned when the WAL file is corrupted.
	ErrCorrupted = errors.New("backup: wal file corrupted")

	// ErrVersionMismatch is returned when the WAL file version doesn't match.
	ErrVersionMismatch = errors.New("backup: wal file version mismatch")
)
