package wsproto

import (
	"bytes"
	"errors"

	"github.com/arfx/wsock/internal/wsframe"
	"github.com/arfx/wsock/internal/wsutf8"
)

var (
	ErrUnexpectedContinuation = errors.New("wsproto: continuation frame with no message in progress")
	ErrExpectedContinuation   = errors.New("wsproto: data frame received mid-message, expected continuation")
	ErrMessageTooBig          = errors.New("wsproto: message exceeds configured maximum size")
	ErrInvalidUTF8            = errors.New("wsproto: text message is not valid UTF-8")
)

// Message is one fully reassembled application message: a Text or
// Binary payload joined from however many fragments it arrived in.
type Message struct {
	Opcode byte
	Data   []byte
}

// Assembler joins a stream of data frames (initial frame plus zero or
// more Continuation frames) into Messages, enforcing UTF-8 validity for
// text messages incrementally across fragment boundaries and a running
// size cap across the whole message regardless of how it is split.
//
// An Assembler is owned by a single connection's read goroutine and is
// not safe for concurrent use.
type Assembler struct {
	maxSize int64
	opcode  byte
	buf     bytes.Buffer
	val     wsutf8.Validator
	active  bool
}

// NewAssembler returns an Assembler that rejects any message whose
// total size exceeds maxSize. A maxSize of zero means unbounded.
func NewAssembler(maxSize int64) *Assembler {
	return &Assembler{maxSize: maxSize}
}

// Feed consumes one data or continuation frame. It returns a non-nil
// Message once fin completes the message; otherwise it returns (nil,
// nil) and the caller should keep reading frames. On error the
// in-progress message is discarded and the caller must treat the
// connection as protocol-errored.
func (a *Assembler) Feed(fin bool, opcode byte, payload []byte) (*Message, error) {
	if opcode == wsframe.OpContinuation {
		if !a.active {
			return nil, ErrUnexpectedContinuation
		}
	} else {
		if a.active {
			a.active = false
			return nil, ErrExpectedContinuation
		}
		a.active = true
		a.opcode = opcode
		a.buf.Reset()
		a.val.Reset()
	}

	if a.maxSize > 0 && int64(a.buf.Len()+len(payload)) > a.maxSize {
		a.active = false
		return nil, ErrMessageTooBig
	}

	if a.opcode == wsframe.OpText {
		if !a.val.Write(payload) {
			a.active = false
			return nil, ErrInvalidUTF8
		}
	}
	a.buf.Write(payload)

	if !fin {
		return nil, nil
	}
	if a.opcode == wsframe.OpText && !a.val.Done() {
		a.active = false
		return nil, ErrInvalidUTF8
	}

	data := make([]byte, a.buf.Len())
	copy(data, a.buf.Bytes())
	a.active = false
	return &Message{Opcode: a.opcode, Data: data}, nil
}

// InProgress reports whether a message is partially assembled, i.e. a
// Continuation frame is expected next.
func (a *Assembler) InProgress() bool {
	return a.active
}
