package wsock

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arfx/wsock/internal/wshandshake"
)

// DialFunc overrides how a client connection dials its raw transport,
// letting a caller substitute proxying or test doubles ahead of the
// WebSocket handshake itself.
type DialFunc = wshandshake.DialFunc

// Config controls the behavior of a Conn created by Dial, Upgrade, or
// Serve. The zero value is not ready to use; call DefaultConfig and
// override fields, or call Validate before passing a hand-built Config
// in.
type Config struct {
	// MaxFrameSize caps the payload length of a single frame read off
	// the wire. Zero means unbounded, which is not recommended for
	// server-facing configs.
	MaxFrameSize int64

	// MaxMessageSize caps the total reassembled size of one message
	// across however many fragments it arrives in — independent of
	// MaxFrameSize, since a message can be split across many
	// individually-small frames. Zero means unbounded.
	MaxMessageSize int64

	// HandshakeTimeout bounds how long Dial's opening handshake (TCP
	// dial, TLS handshake, and the HTTP upgrade exchange) may take.
	// Upgrade does not apply it.
	HandshakeTimeout time.Duration

	// CloseTimeout bounds how long Close waits for the peer to echo
	// its own Close frame after we send ours. If it elapses first, the
	// connection is forced into StateClosed and the transport is torn
	// down, per RFC 6455 Section 7.1.1's allowance to not wait forever
	// for a misbehaving peer.
	CloseTimeout time.Duration

	// PingInterval is how often the connection sends an unsolicited
	// Ping to detect a dead peer. Zero disables keepalive pings.
	PingInterval time.Duration

	// PongTimeout is how long to wait for a Pong reply to a keepalive
	// Ping before treating the connection as dead. Ignored if
	// PingInterval is zero.
	PongTimeout time.Duration

	// RateLimitPerSecond and RateLimitBurst bound the rate of inbound
	// frames accepted from the peer, as a cheap defense against a
	// peer flooding tiny frames. Zero RateLimitPerSecond disables the
	// limiter.
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Subprotocols lists application subprotocols, in preference order,
	// this side is willing to negotiate.
	Subprotocols []string

	// CheckOrigin validates an incoming server-side Origin header. nil
	// accepts all origins.
	CheckOrigin func(r *http.Request) bool

	// TLSConfig is used by Dial when connecting to a wss:// target. nil
	// uses the Go default.
	TLSConfig *tls.Config

	// DialFunc overrides how Dial opens the raw transport connection
	// before the handshake runs. nil uses a plain net.Dialer.
	DialFunc DialFunc

	// Logger is the base of each Conn's log entry, which is tagged with
	// conn_id and role. nil uses logrus.StandardLogger(). The engine
	// itself emits no log lines through it.
	Logger *logrus.Logger

	// Metrics, if set, records connection and frame counters. nil
	// disables metrics.
	Metrics *Metrics
}

// DefaultConfig returns a Config with production-sane defaults: a 1 MiB
// per-frame cap, a 16 MiB per-message cap, a 10s handshake timeout, a
// 10s close-handshake timeout, keepalive pings disabled (with a 10s
// pong timeout for when PingInterval is set), and a 50 frame/s rate
// limit with a burst of 100.
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:       1 << 20,
		MaxMessageSize:     16 << 20,
		HandshakeTimeout:   10 * time.Second,
		CloseTimeout:       10 * time.Second,
		PingInterval:       0,
		PongTimeout:        10 * time.Second,
		RateLimitPerSecond: 50,
		RateLimitBurst:     100,
	}
}

// Validate reports whether c's fields are internally consistent.
func (c Config) Validate() error {
	if c.MaxFrameSize < 0 {
		return fmt.Errorf("wsock: MaxFrameSize must not be negative")
	}
	if c.MaxMessageSize < 0 {
		return fmt.Errorf("wsock: MaxMessageSize must not be negative")
	}
	if c.HandshakeTimeout < 0 {
		return fmt.Errorf("wsock: HandshakeTimeout must not be negative")
	}
	if c.CloseTimeout < 0 {
		return fmt.Errorf("wsock: CloseTimeout must not be negative")
	}
	if c.PingInterval > 0 && c.PongTimeout <= 0 {
		return fmt.Errorf("wsock: PongTimeout must be positive when PingInterval is set")
	}
	if c.RateLimitPerSecond < 0 {
		return fmt.Errorf("wsock: RateLimitPerSecond must not be negative")
	}
	if c.RateLimitBurst < 0 {
		return fmt.Errorf("wsock: RateLimitBurst must not be negative")
	}
	return nil
}

func (c Config) logger() *logrus.Entry {
	l := c.Logger
	if l == nil {
		l = logrus.StandardLogger()
	}
	return logrus.NewEntry(l)
}
