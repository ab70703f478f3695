package wsock

import (
	"context"
	"errors"
	"time"

	"github.com/arfx/wsock/internal/wsproto"
)

var errPongTimeout = errors.New("wsock: peer did not reply to keepalive ping in time")

// keepaliveLoop sends an unsolicited Ping on cfg.PingInterval and
// expects a matching Pong within cfg.PongTimeout, aborting the
// connection as abnormal if the peer goes silent. It only ever enqueues
// control frames through Ping, so it never touches the socket directly.
func (c *Conn) keepaliveLoop() error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.halt:
			// readLoop or writeLoop already ended the connection; our
			// own context won't cancel until this goroutine returns,
			// so halt is what actually lets that happen.
			return nil
		case <-c.ctx.Done():
			return c.ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.cfg.PongTimeout)
			err := c.Ping(pingCtx, nil)
			cancel()
			if err == nil {
				continue
			}
			select {
			case <-c.halt:
				return nil
			default:
			}
			if c.ctx.Err() != nil {
				return c.ctx.Err()
			}
			c.setCloseResult(&CloseError{Code: wsproto.ReasonAbnormal.Code(), Reason: errPongTimeout.Error()})
			// Closing the transport unblocks readLoop, which otherwise
			// waits on the silent peer indefinitely.
			c.nc.Close()
			return errPongTimeout
		}
	}
}
