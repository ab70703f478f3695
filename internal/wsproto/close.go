package wsproto

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/arfx/wsock/internal/wsutf8"
)

var (
	ErrCloseFramePayloadTooShort = errors.New("wsproto: close frame payload must be 0 or at least 2 bytes")
	ErrInvalidCloseCode          = errors.New("wsproto: invalid close code")
	ErrCloseReasonNotUTF8        = errors.New("wsproto: close reason is not valid UTF-8")
)

// CloseError is returned once a connection has completed its closing
// handshake (or been aborted), reporting the close code and reason in
// effect. errors.As unwraps it from whatever operation observed the
// close.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("wsproto: connection closed: code=%d reason=%q", e.Code, e.Reason)
}

// Reason is the local cause of a close, independent of the numeric code
// on the wire — it is what a caller of this package decides happened;
// Code() maps it to the RFC 6455 Section 7.4.1 status code that gets
// sent.
type Reason int

const (
	ReasonNormal Reason = iota
	ReasonGoingAway
	ReasonProtocolError
	ReasonUnsupportedData
	ReasonInvalidPayload
	ReasonPolicyViolation
	ReasonMessageTooBig
	ReasonInternalError
	ReasonAbnormal
)

// Code returns the RFC 6455 status code for r. ReasonAbnormal maps to
// 1006, which Section 7.4.1 reserves and forbids sending on the wire —
// it exists so a Reason can describe a transport failure (EOF with no
// close frame) without needing a separate type.
func (r Reason) Code() int {
	switch r {
	case ReasonNormal:
		return 1000
	case ReasonGoingAway:
		return 1001
	case ReasonProtocolError:
		return 1002
	case ReasonUnsupportedData:
		return 1003
	case ReasonInvalidPayload:
		return 1007
	case ReasonPolicyViolation:
		return 1008
	case ReasonMessageTooBig:
		return 1009
	case ReasonInternalError:
		return 1011
	case ReasonAbnormal:
		return 1006
	default:
		return 1011
	}
}

// IsValidCloseCode reports whether code is legal to send or receive on
// the wire per RFC 6455 Section 7.4: the defined application codes, plus
// the registered (3000-3999) and private-use (4000-4999) ranges. 1005,
// 1006, and 1015 are reserved for local use only and must never appear
// in an actual close frame; 1004 and 1012-1014/1016-2999 are unassigned.
func IsValidCloseCode(code int) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1011:
		return true
	case code >= 3000 && code <= 4999:
		return true
	default:
		return false
	}
}

// ValidateCloseFrame parses and validates a Close frame payload per RFC
// 6455 Section 5.5.1. An empty payload is valid and carries no code or
// reason. A 1-byte payload is always a protocol error. A payload of two
// or more bytes carries a big-endian code, which must be in a legal
// range, followed by an optional UTF-8 reason.
func ValidateCloseFrame(payload []byte) (code int, reason string, err error) {
	switch {
	case len(payload) == 0:
		return 0, "", nil
	case len(payload) == 1:
		return 0, "", ErrCloseFramePayloadTooShort
	}

	code = int(binary.BigEndian.Uint16(payload[:2]))
	if !IsValidCloseCode(code) {
		return 0, "", fmt.Errorf("%w: %d", ErrInvalidCloseCode, code)
	}

	reason = string(payload[2:])
	if !wsutf8.Valid(reason) {
		return 0, "", ErrCloseReasonNotUTF8
	}
	return code, reason, nil
}

// EncodeCloseFrame builds a Close frame payload for the given code and
// reason, ready to pass to wsframe.WriteFrame.
func EncodeCloseFrame(code int, reason string) []byte {
	if code == 0 {
		return nil
	}
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	copy(payload[2:], reason)
	return payload
}
