package coherence

import "fmt"

// MessageKind is the closed set of wire message kinds exchanged between
// nodes (spec section 6, "Message kinds (wire)").
type MessageKind int

const (
	MsgGet MessageKind = iota
	MsgGetX
	MsgPut
	MsgPutX
	MsgInv
	MsgInvAck
	MsgNotFound
	MsgChngdOwnr
	MsgMsg
	MsgMsgAck
	MsgBackup
	MsgBackupAck
	MsgTimeout
	MsgAck
)

func (k MessageKind) String() string {
	switch k {
	case MsgGet:
		return "GET"
	case MsgGetX:
		return "GETX"
	case MsgPut:
		return "PUT"
	case MsgPutX:
		return "PUTX"
	case MsgInv:
		return "INV"
	case MsgInvAck:
		return "INVACK"
	case MsgNotFound:
		return "NOT_FOUND"
	case MsgChngdOwnr:
		return "CHNGD_OWNR"
	case MsgMsg:
		return "MSG"
	case MsgMsgAck:
		return "MSGACK"
	case MsgBackup:
		return "BACKUP"
	case MsgBackupAck:
		return "BACKUPACK"
	case MsgTimeout:
		return "TIMEOUT"
	case MsgAck:
		return "ACK"
	default:
		return "UNKNOWN"
	}
}

// Message is the single, tagged-union wire message. Not every field is
// meaningful for every Kind; see the per-kind comments. This mirrors the
// teacher's XDR discriminated-union convention (internal/protocol/xdr):
// one struct, a discriminant field, and explicit per-kind accessors
// instead of per-kind Go types, since the set of kinds is closed and
// small.
type Message struct {
	Kind   MessageKind
	Sender NodeID
	MsgID  uint64
	LineID LineID // NoLine for node-level messages (none are defined yet, but kept for symmetry with spec)

	// GET/GETX carry no extra payload beyond LineID.

	// PUT/PUTX/BACKUP
	Version uint64
	Data    []byte

	// PUTX
	Sharers []NodeID

	// INV
	PreviousOwner NodeID

	// INVACK carries no extra payload.

	// CHNGD_OWNR
	NewOwner NodeID
	Certain  bool

	// MSG (SEND op delivery)
	TargetNode NodeID // the node the SEND op addressed (== owner at send time)

	// BACKUPACK echoes Version so the master can match it against its
	// own MODIFIED version before clearing the flag.
}

func (m Message) String() string {
	return fmt.Sprintf("%s(line=%d sender=%s msgid=%d)", m.Kind, m.LineID, m.Sender, m.MsgID)
}

// key returns a value usable to dedupe equal messages in the per-line
// pending-message set (spec section 4.2: "insertion-ordered set keyed
// by messages, deduplicating equal messages").
func (m Message) key() messageKey {
	return messageKey{
		kind:    m.Kind,
		sender:  m.Sender,
		lineID:  m.LineID,
		version: m.Version,
	}
}

type messageKey struct {
	kind    MessageKind
	sender  NodeID
	lineID  LineID
	version uint64
}
