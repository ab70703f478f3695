package wsock

import "github.com/arfx/wsock/internal/wsframe"

// MessageType distinguishes the two RFC 6455 Section 5.6 data frame
// opcodes an application ever sees.
type MessageType byte

const (
	TextMessage   MessageType = wsframe.OpText
	BinaryMessage MessageType = wsframe.OpBinary
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is one complete application message, already reassembled from
// whatever Continuation frames it was split across on the wire.
type Message struct {
	Type MessageType
	Data []byte
}
