package wsock

import (
	"bufio"
	"context"
	"fmt"
	"net/http"

	"github.com/arfx/wsock/internal/wshandshake"
)

// Upgrade performs the RFC 6455 Section 4.2 server-side opening
// handshake on r, hijacking its connection, and returns an open Conn
// for the caller to drive with Recv/Send. The caller's http.Handler
// must not write to w or read from r.Body after Upgrade succeeds.
func Upgrade(ctx context.Context, w http.ResponseWriter, r *http.Request, cfg Config) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	result, err := wshandshake.Upgrade(w, r, wshandshake.ServerOptions{
		Subprotocols: cfg.Subprotocols,
		CheckOrigin:  cfg.CheckOrigin,
	})
	if err != nil {
		if cfg.Metrics != nil {
			cfg.Metrics.HandshakeFailures.Inc()
		}
		return nil, fmt.Errorf("wsock: upgrade: %w", err)
	}

	var br *bufio.Reader
	if result.Bufrw != nil {
		br = result.Bufrw.Reader
	}
	c := newConn(ctx, result.Conn, br, true, result.Subprotocol, cfg)
	c.log = c.log.WithField("conn_id", c.id).WithField("role", "server")
	c.start()
	return c, nil
}

// Handler is the signature an application implements to consume a
// freshly upgraded connection; Serve calls it once per accepted
// connection and closes the connection once it returns.
type Handler func(ctx context.Context, conn *Conn)

// Serve returns an http.Handler that upgrades every incoming request to
// a WebSocket connection and hands it to handle. Any request that
// isn't a valid upgrade gets a 4xx response instead, per the
// handshake's own validation.
func Serve(cfg Config, handle Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		conn, err := Upgrade(r.Context(), w, r, cfg)
		if err != nil {
			// wshandshake.Upgrade already wrote the appropriate HTTP
			// error response (400/403/426/...); nothing left to write.
			return
		}
		handle(r.Context(), conn)
		_ = conn.Close(r.Context(), 1000, "")
	})
}
