package wsock

import (
	"context"
	"errors"
	"io"

	"github.com/arfx/wsock/internal/wsframe"
	"github.com/arfx/wsock/internal/wsproto"
)

// readLoop owns the read half of the socket exclusively: it is the only
// goroutine that ever calls wsframe.ReadFrame on c.br. It decodes one
// frame at a time, dispatches control frames inline (Ping -> auto-Pong,
// Pong -> wake the keepalive loop, Close -> drive the state machine and
// echo if needed), and feeds data/continuation frames to the message
// assembler, publishing each completed Message on c.incoming.
func (c *Conn) readLoop() error {
	defer close(c.incoming)

	for {
		if c.limiter != nil && !c.limiter.Allow() {
			return c.abortRead(ErrRateLimited)
		}

		fr, err := wsframe.ReadFrame(c.br, c.isServer, c.cfg.MaxFrameSize)
		if err != nil {
			return c.abortRead(err)
		}

		if wsframe.IsControl(fr.Opcode) {
			if done, err := c.handleControlFrame(fr.Opcode, fr.Payload); done {
				return err
			}
			continue
		}

		msg, err := c.asm.Feed(fr.Fin, fr.Opcode, fr.Payload)
		if err != nil {
			return c.abortRead(err)
		}
		if msg == nil {
			continue
		}

		if c.metrics != nil {
			c.metrics.MessagesReceived.WithLabelValues(MessageType(msg.Opcode).String()).Inc()
			c.metrics.BytesReceived.Add(float64(len(msg.Data)))
		}

		select {
		case c.incoming <- Message{Type: MessageType(msg.Opcode), Data: msg.Data}:
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

// handleControlFrame processes one control frame inline. done is true
// once the connection's closing handshake has completed (cleanly or
// not) and readLoop should return.
func (c *Conn) handleControlFrame(opcode byte, payload []byte) (done bool, err error) {
	switch opcode {
	case wsframe.OpPing:
		pong := append([]byte(nil), payload...)
		_ = c.sendControl(c.ctx, wsframe.OpPong, pong)
		return false, nil

	case wsframe.OpPong:
		c.resolvePong(payload)
		return false, nil

	case wsframe.OpClose:
		return c.handleCloseFrame(payload)

	default:
		return false, nil
	}
}

func (c *Conn) handleCloseFrame(payload []byte) (bool, error) {
	code, reason, verr := wsproto.ValidateCloseFrame(payload)
	if verr != nil {
		c.setCloseResult(&CloseError{Code: wsproto.ReasonProtocolError.Code(), Reason: verr.Error()})
		_ = c.sendControl(c.ctx, wsframe.OpClose, wsproto.EncodeCloseFrame(wsproto.ReasonProtocolError.Code(), ""))
		return true, verr
	}
	echoCode := code
	if code == 0 {
		// An empty Close payload carries no status code: record 1005
		// locally and echo an empty Close, since 1005 never goes on the
		// wire.
		code = 1005
	}

	completedLocalClose, err := c.machine.StartRemoteClose()
	if err != nil {
		return true, err
	}

	if !completedLocalClose {
		// Peer-initiated: we haven't sent our own Close frame yet, so
		// this is the authoritative code/reason and we must echo it.
		c.setCloseResult(&CloseError{Code: code, Reason: reason})
		_ = c.sendControl(context.Background(), wsframe.OpClose, wsproto.EncodeCloseFrame(echoCode, reason))
	}
	return true, nil
}

// abortRead classifies a fatal read-side error into an RFC 6455 close
// reason, records it, and best-effort notifies the peer before
// returning the error that tears down the connection's goroutines.
func (c *Conn) abortRead(err error) error {
	reason := closeReasonForReadErr(err)

	ce := &CloseError{Code: reason.Code(), Reason: err.Error()}
	c.setCloseResult(ce)
	if reason != wsproto.ReasonAbnormal {
		_ = c.sendControl(context.Background(), wsframe.OpClose, wsproto.EncodeCloseFrame(reason.Code(), ""))
	}
	return err
}

func closeReasonForReadErr(err error) wsproto.Reason {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return wsproto.ReasonAbnormal
	case errors.Is(err, wsproto.ErrInvalidUTF8):
		return wsproto.ReasonInvalidPayload
	case errors.Is(err, wsproto.ErrMessageTooBig):
		return wsproto.ReasonMessageTooBig
	case errors.Is(err, wsframe.ErrFrameTooLarge):
		return wsproto.ReasonMessageTooBig
	case errors.Is(err, ErrRateLimited):
		return wsproto.ReasonPolicyViolation
	default:
		return wsproto.ReasonProtocolError
	}
}
