package xdrcomm

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/galaxycache/internal/coherence"
)

// wireMessage mirrors coherence.Message field for field. coherence.Message
// itself is not reused directly: xdr2 reflects over exported fields by
// position, and keeping the wire shape in its own type means a future
// field added to Message for purely in-process bookkeeping doesn't
// silently change the wire format.
type wireMessage struct {
	Kind          int32
	Sender        int64
	MsgID         uint64
	LineID        int64
	Version       uint64
	Data          []byte
	Sharers       []int64
	PreviousOwner int64
	NewOwner      int64
	Certain       bool
	TargetNode    int64
}

func toWire(msg coherence.Message) wireMessage {
	sharers := make([]int64, len(msg.Sharers))
	for i, s := range msg.Sharers {
		sharers[i] = int64(s)
	}
	return wireMessage{
		Kind:          int32(msg.Kind),
		Sender:        int64(msg.Sender),
		MsgID:         msg.MsgID,
		LineID:        int64(msg.LineID),
		Version:       msg.Version,
		Data:          msg.Data,
		Sharers:       sharers,
		PreviousOwner: int64(msg.PreviousOwner),
		NewOwner:      int64(msg.NewOwner),
		Certain:       msg.Certain,
		TargetNode:    int64(msg.TargetNode),
	}
}

func (w wireMessage) toMessage() coherence.Message {
	sharers := make([]coherence.NodeID, len(w.Sharers))
	for i, s := range w.Sharers {
		sharers[i] = coherence.NodeID(s)
	}
	return coherence.Message{
		Kind:          coherence.MessageKind(w.Kind),
		Sender:        coherence.NodeID(w.Sender),
		MsgID:         w.MsgID,
		LineID:        coherence.LineID(w.LineID),
		Version:       w.Version,
		Data:          w.Data,
		Sharers:       sharers,
		PreviousOwner: coherence.NodeID(w.PreviousOwner),
		NewOwner:      coherence.NodeID(w.NewOwner),
		Certain:       w.Certain,
		TargetNode:    coherence.NodeID(w.TargetNode),
	}
}

// encodeMessage XDR-encodes msg to a byte slice ready to be sent behind
// a length-prefixed frame.
func encodeMessage(msg coherence.Message) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, toWire(msg)); err != nil {
		return nil, fmt.Errorf("xdrcomm: marshal message: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeMessage reverses encodeMessage.
func decodeMessage(data []byte) (coherence.Message, error) {
	var w wireMessage
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &w); err != nil {
		return coherence.Message{}, fmt.Errorf("xdrcomm: unmarshal message: %w", err)
	}
	return w.toMessage(), nil
}
