package wsock

import (
	"errors"

	"github.com/arfx/wsock/internal/wsproto"
)

// CloseError reports the code and reason a connection closed with,
// whether the closing handshake completed cleanly or the transport
// broke. Use errors.As to recover it from Recv/Close/WaitClosed.
type CloseError = wsproto.CloseError

var (
	// ErrConnClosed is returned by Send/Ping once the connection has
	// already started closing or finished closing.
	ErrConnClosed = errors.New("wsock: connection is closed")

	// ErrRateLimited is the read loop's error when the inbound frame
	// rate limiter rejects a frame; the connection then closes with
	// 1008 Policy Violation.
	ErrRateLimited = errors.New("wsock: inbound frame rate exceeded")
)

func asCloseError(err error) (*CloseError, bool) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
