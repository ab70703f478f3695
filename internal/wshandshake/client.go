package wshandshake

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrUnsupportedScheme   = errors.New("wshandshake: URL scheme must be ws or wss")
	ErrUnexpectedStatus    = errors.New("wshandshake: server did not respond 101 Switching Protocols")
	ErrAcceptMismatch      = errors.New("wshandshake: Sec-WebSocket-Accept does not match request key")
	ErrSubprotocolMismatch = errors.New("wshandshake: server selected a subprotocol the client did not offer")
)

// DialFunc opens the raw transport connection used for a client
// handshake. Callers can override it to inject test doubles or custom
// proxying; the zero value of DialOptions uses net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// DialOptions configures the client side of the opening handshake.
type DialOptions struct {
	// Subprotocols offered to the server, in preference order.
	Subprotocols []string

	// Header carries additional request headers (e.g. auth, cookies).
	Header http.Header

	// Dial overrides how the raw transport connection is opened. nil
	// uses a plain net.Dialer.
	Dial DialFunc

	// TLSConfig is used for wss:// targets. nil uses the Go default.
	TLSConfig *tls.Config
}

// ClientResult is what a successful Dial hands back.
type ClientResult struct {
	Conn        net.Conn
	Reader      *bufio.Reader
	Subprotocol string
}

// Dial performs an RFC 6455 Section 4.1 client opening handshake against
// rawURL, which must have scheme ws or wss.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*ClientResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("wshandshake: parsing URL: %w", err)
	}

	var useTLS bool
	switch u.Scheme {
	case "ws":
		useTLS = false
	case "wss":
		useTLS = true
	default:
		return nil, fmt.Errorf("%w: got %q", ErrUnsupportedScheme, u.Scheme)
	}

	addr := u.Host
	if u.Port() == "" {
		if useTLS {
			addr = net.JoinHostPort(u.Hostname(), "443")
		} else {
			addr = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	dial := opts.Dial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("wshandshake: dialing %s: %w", addr, err)
	}

	if useTLS {
		tlsConn := tls.Client(conn, cloneTLSConfig(opts.TLSConfig, u.Hostname()))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("wshandshake: TLS handshake: %w", err)
		}
		conn = tlsConn
	}

	// The HTTP request/response exchange below does not observe ctx on
	// its own, so bound it with the context's deadline.
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	key, err := GenerateClientKey()
	if err != nil {
		conn.Close()
		return nil, err
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	req := &http.Request{
		Method:     http.MethodGet,
		URL:        &url.URL{Path: path, RawQuery: u.RawQuery},
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Host:       u.Host,
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", key)
	req.Header.Set("Sec-WebSocket-Version", "13")
	if len(opts.Subprotocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(opts.Subprotocols, ", "))
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("wshandshake: writing request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("wshandshake: reading response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		conn.Close()
		return nil, fmt.Errorf("%w: got %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if !headerContainsToken(resp.Header.Get("Upgrade"), "websocket") {
		conn.Close()
		return nil, ErrMissingUpgradeHeader
	}
	if !headerContainsToken(resp.Header.Get("Connection"), "upgrade") {
		conn.Close()
		return nil, ErrMissingConnectionHeader
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != AcceptKey(key) {
		conn.Close()
		return nil, ErrAcceptMismatch
	}

	subprotocol := resp.Header.Get("Sec-WebSocket-Protocol")
	if subprotocol != "" && !contains(opts.Subprotocols, subprotocol) {
		conn.Close()
		return nil, ErrSubprotocolMismatch
	}

	conn.SetDeadline(time.Time{})
	return &ClientResult{Conn: conn, Reader: br, Subprotocol: subprotocol}, nil
}

// GenerateClientKey returns a fresh base64-encoded 16-byte nonce for
// Sec-WebSocket-Key, per RFC 6455 Section 4.1.
func GenerateClientKey() (string, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("wshandshake: generating client key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(nonce[:]), nil
}

func cloneTLSConfig(cfg *tls.Config, serverName string) *tls.Config {
	var out *tls.Config
	if cfg == nil {
		out = &tls.Config{}
	} else {
		out = cfg.Clone()
	}
	if out.ServerName == "" {
		out.ServerName = serverName
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
