package wsock

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/arfx/wsock/internal/wsframe"
	"github.com/arfx/wsock/internal/wsproto"
)

// frameJob is what the write loop pulls off its two queues (control
// and outbound). Control frames (Ping/Pong/Close) always drain ahead of
// pending data frames, per the one-frame-at-a-time write discipline: a
// long fragmented message never blocks a timely Pong or Close reply.
type frameJob struct {
	opcode  byte
	payload []byte
}

// Conn is one open WebSocket connection. Reading happens on an internal
// goroutine that owns the socket's read half exclusively; writing is
// serialized onto another internal goroutine via channels, so Conn
// itself carries no lock around the socket — only the bookkeeping below
// (the atomic state machine, the ping waiters under pingMu, closeOnce,
// the atomic close result) is ever touched from outside those two
// goroutines.
type Conn struct {
	id          uuid.UUID
	nc          net.Conn
	br          *bufio.Reader
	bw          *bufio.Writer
	isServer    bool
	subprotocol string
	cfg         Config
	log         *logrus.Entry
	limiter     *rate.Limiter
	metrics     *Metrics

	machine *wsproto.Machine
	asm     *wsproto.Assembler

	incoming chan Message
	control  chan frameJob
	outbound chan frameJob

	pingMu      sync.Mutex
	pingWaiters map[string][]chan struct{} // keyed by ping payload

	ctx context.Context
	eg  *errgroup.Group

	haltOnce sync.Once
	halt     chan struct{}

	closeOnce       sync.Once
	closeResultOnce sync.Once
	closeResult     atomic.Value // stores *CloseError
	done            chan struct{}
}

func newConn(parent context.Context, nc net.Conn, br *bufio.Reader, isServer bool, subprotocol string, cfg Config) *Conn {
	eg, ctx := errgroup.WithContext(parent)

	if br == nil {
		br = bufio.NewReader(nc)
	}

	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}

	c := &Conn{
		id:          uuid.New(),
		nc:          nc,
		br:          br,
		bw:          bufio.NewWriter(nc),
		isServer:    isServer,
		subprotocol: subprotocol,
		cfg:         cfg,
		log:         cfg.logger(),
		limiter:     limiter,
		metrics:     cfg.Metrics,
		machine:     wsproto.NewMachine(),
		asm:         wsproto.NewAssembler(cfg.MaxMessageSize),
		incoming:    make(chan Message, 16),
		control:     make(chan frameJob, 8),
		outbound:    make(chan frameJob, 16),
		pingWaiters: make(map[string][]chan struct{}),
		ctx:         ctx,
		eg:          eg,
		halt:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	c.machine.Open()
	return c
}

// start launches the read and write loops and, once either exits,
// finalizes the connection's close state. It must be called exactly
// once per Conn.
func (c *Conn) start() {
	// readLoop/writeLoop finishing is what ends the connection; wrap
	// them so keepaliveLoop (which has no socket-level reason of its
	// own to stop) learns about it immediately instead of waiting on
	// c.ctx, which errgroup only cancels once every goroutine —
	// keepaliveLoop included — has already returned.
	c.eg.Go(func() error {
		defer c.triggerHalt()
		return c.readLoop()
	})
	c.eg.Go(func() error {
		defer c.triggerHalt()
		return c.writeLoop()
	})
	if c.cfg.PingInterval > 0 {
		c.eg.Go(c.keepaliveLoop)
	}
	go func() {
		err := c.eg.Wait()
		c.finish(err)
	}()

	if c.metrics != nil {
		c.metrics.ConnectionsOpened.Inc()
	}
}

// triggerHalt signals keepaliveLoop that the primary read/write loops
// have finished, since errgroup's own derived context can't cancel
// until every goroutine it manages — keepaliveLoop included — has
// already returned.
func (c *Conn) triggerHalt() {
	c.haltOnce.Do(func() { close(c.halt) })
}

func (c *Conn) finish(loopErr error) {
	c.closeOnce.Do(func() {
		ce := c.closeResultFromLoopErr(loopErr)
		c.closeResult.Store(ce)
		c.nc.Close()
		close(c.done)
		if c.metrics != nil {
			c.metrics.ConnectionsClosed.WithLabelValues(closeCodeLabel(ce.Code)).Inc()
		}
	})
}

// setCloseResult records the authoritative close code/reason the first
// time anyone determines it — whichever of a locally initiated Close, a
// validated peer Close frame, or a terminal read/write error gets there
// first wins.
func (c *Conn) setCloseResult(ce *CloseError) {
	c.closeResultOnce.Do(func() { c.closeResult.Store(ce) })
}

func (c *Conn) closeResultFromLoopErr(loopErr error) *CloseError {
	if existing, ok := c.closeResult.Load().(*CloseError); ok {
		return existing
	}
	if loopErr == nil {
		return &CloseError{Code: wsproto.ReasonNormal.Code()}
	}
	if ce, ok := asCloseError(loopErr); ok {
		return ce
	}
	return &CloseError{Code: wsproto.ReasonAbnormal.Code(), Reason: loopErr.Error()}
}

// ID returns this connection's unique, randomly generated identifier.
func (c *Conn) ID() uuid.UUID { return c.id }

// Subprotocol returns the subprotocol negotiated during the opening
// handshake, or "" if none was.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// RemoteAddr returns the underlying transport's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// CloseCode returns the RFC 6455 close code the connection closed with.
// It blocks until the connection has actually closed; callers that
// don't want to block should select on Done() first.
func (c *Conn) CloseCode() int {
	<-c.done
	ce, _ := c.closeResult.Load().(*CloseError)
	return ce.Code
}

// Done returns a channel closed once the connection has fully closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// WaitClosed blocks until the connection closes (or ctx is canceled)
// and returns the CloseError describing how.
func (c *Conn) WaitClosed(ctx context.Context) error {
	select {
	case <-c.done:
		ce, _ := c.closeResult.Load().(*CloseError)
		return ce
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the next complete application message, blocking until
// one arrives, the connection closes, or ctx is canceled.
func (c *Conn) Recv(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-c.incoming:
		if !ok {
			ce, _ := c.closeResult.Load().(*CloseError)
			if ce == nil {
				return Message{}, ErrConnClosed
			}
			return Message{}, ce
		}
		return msg, nil
	case <-c.done:
		ce, _ := c.closeResult.Load().(*CloseError)
		return Message{}, ce
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Send transmits one complete application message as a single
// unfragmented frame.
func (c *Conn) Send(ctx context.Context, typ MessageType, data []byte) error {
	if !c.machine.CanSendData() {
		return ErrConnClosed
	}
	select {
	case c.outbound <- frameJob{opcode: byte(typ), payload: data}:
		if c.metrics != nil {
			c.metrics.MessagesSent.WithLabelValues(typ.String()).Inc()
			c.metrics.BytesSent.Add(float64(len(data)))
		}
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping sends a Ping control frame carrying payload, which must be at
// most wsframe.MaxControlPayload bytes, and blocks until a Pong echoing
// the same payload arrives, the connection closes, or ctx is canceled.
func (c *Conn) Ping(ctx context.Context, payload []byte) error {
	wait := c.registerPingWaiter(payload)

	if err := c.sendControl(ctx, wsframe.OpPing, payload); err != nil {
		c.forgetPingWaiter(payload, wait)
		return err
	}

	select {
	case <-wait:
		return nil
	case <-c.done:
		c.forgetPingWaiter(payload, wait)
		return ErrConnClosed
	case <-ctx.Done():
		c.forgetPingWaiter(payload, wait)
		return ctx.Err()
	}
}

func (c *Conn) registerPingWaiter(payload []byte) chan struct{} {
	wait := make(chan struct{})
	key := string(payload)
	c.pingMu.Lock()
	c.pingWaiters[key] = append(c.pingWaiters[key], wait)
	c.pingMu.Unlock()
	return wait
}

func (c *Conn) forgetPingWaiter(payload []byte, wait chan struct{}) {
	key := string(payload)
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	waiters := c.pingWaiters[key]
	for i, w := range waiters {
		if w == wait {
			c.pingWaiters[key] = append(waiters[:i], waiters[i+1:]...)
			return
		}
	}
}

// resolvePong wakes every Ping call still waiting on a Pong whose
// payload matches. Called only from the read loop.
func (c *Conn) resolvePong(payload []byte) {
	key := string(payload)
	c.pingMu.Lock()
	waiters := c.pingWaiters[key]
	delete(c.pingWaiters, key)
	c.pingMu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

func (c *Conn) sendControl(ctx context.Context, opcode byte, payload []byte) error {
	select {
	case c.control <- frameJob{opcode: opcode, payload: payload}:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close starts (or, if the peer already sent its Close frame,
// completes) the RFC 6455 Section 7.1.2 closing handshake with the
// given code and reason, then waits for the connection to fully close
// or for ctx to expire.
func (c *Conn) Close(ctx context.Context, code int, reason string) error {
	if err := c.machine.StartLocalClose(); err != nil {
		return c.WaitClosed(ctx)
	}
	c.setCloseResult(&CloseError{Code: code, Reason: reason})
	payload := wsproto.EncodeCloseFrame(code, reason)
	if err := c.sendControl(ctx, wsframe.OpClose, payload); err != nil {
		return err
	}
	c.armCloseTimeout()
	return c.WaitClosed(ctx)
}

// armCloseTimeout forces the connection closed if the peer never echoes
// our Close frame within cfg.CloseTimeout, per RFC 6455 Section 7.1.1's
// allowance not to wait forever for a misbehaving peer. A zero
// CloseTimeout disables the deadline.
func (c *Conn) armCloseTimeout() {
	if c.cfg.CloseTimeout <= 0 {
		return
	}
	go func() {
		t := time.NewTimer(c.cfg.CloseTimeout)
		defer t.Stop()
		select {
		case <-c.done:
		case <-t.C:
			c.machine.Closed()
			c.nc.Close()
		}
	}()
}

func closeCodeLabel(code int) string {
	return strconv.Itoa(code)
}
