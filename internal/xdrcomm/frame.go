package xdrcomm

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize bounds a single message's encoded size, guarding against
// a corrupt or hostile length prefix driving an unbounded allocation.
const maxFrameSize = 64 * 1024 * 1024

// writeFrame writes a 4-byte big-endian length prefix followed by
// payload, mirroring the teacher's RPC record-marking convention
// (internal/protocol/nlm/callback.addRecordMark) minus the fragment/last
// flag bit, since every frame here is already a complete message.
func writeFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("xdrcomm: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("xdrcomm: write frame payload: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("xdrcomm: frame of %d bytes exceeds max %d", length, maxFrameSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("xdrcomm: read frame payload: %w", err)
	}
	return payload, nil
}
