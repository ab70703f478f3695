package wsock

import (
	"context"
	"fmt"

	"github.com/arfx/wsock/internal/wshandshake"
)

// Dial opens a client WebSocket connection to rawURL (scheme ws or
// wss), performs the RFC 6455 Section 4.1 opening handshake, and
// returns an open Conn ready for Send/Recv.
func Dial(ctx context.Context, rawURL string, cfg Config) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hctx := ctx
	if cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
	}

	result, err := wshandshake.Dial(hctx, rawURL, wshandshake.DialOptions{
		Subprotocols: cfg.Subprotocols,
		Dial:         cfg.DialFunc,
		TLSConfig:    cfg.TLSConfig,
	})
	if err != nil {
		if cfg.Metrics != nil {
			cfg.Metrics.HandshakeFailures.Inc()
		}
		return nil, fmt.Errorf("wsock: dial: %w", err)
	}

	c := newConn(ctx, result.Conn, result.Reader, false, result.Subprotocol, cfg)
	c.log = c.log.WithField("conn_id", c.id).WithField("role", "client")
	c.start()
	return c, nil
}
