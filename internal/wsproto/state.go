package wsproto

import (
	"errors"
	"sync/atomic"
)

// State is a connection's position in the RFC 6455 Section 4/7 lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosingLocal  // we sent a Close frame, waiting for the peer's
	StateClosingRemote // peer sent a Close frame, waiting for ours
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosingLocal:
		return "closing_local"
	case StateClosingRemote:
		return "closing_remote"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var ErrAlreadyClosing = errors.New("wsproto: connection already closing or closed")

// Machine tracks a single connection's state transitions. Send/Close are
// called from whichever goroutine the embedding application calls them
// from, while the read loop drives StartRemoteClose concurrently, so the
// state is an atomic.Int32 with every transition expressed as a
// compare-and-swap rather than a plain read-modify-write.
type Machine struct {
	state atomic.Int32
}

// NewMachine returns a Machine starting in StateConnecting.
func NewMachine() *Machine {
	return &Machine{}
}

// State returns the current state.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Open transitions out of StateConnecting once the opening handshake
// completes.
func (m *Machine) Open() {
	m.state.Store(int32(StateOpen))
}

// StartLocalClose records that we have sent a Close frame. It fails if
// a close is already in progress or the connection isn't open yet.
func (m *Machine) StartLocalClose() error {
	if !m.state.CompareAndSwap(int32(StateOpen), int32(StateClosingLocal)) {
		return ErrAlreadyClosing
	}
	return nil
}

// StartRemoteClose records that the peer sent a Close frame. It reports
// completedLocalClose true if we had already sent our own Close frame,
// in which case this call atomically completes the handshake (moving
// straight to StateClosed) and the caller must not echo another Close
// frame; false means the peer initiated the close and the caller still
// owes it an echo.
func (m *Machine) StartRemoteClose() (completedLocalClose bool, err error) {
	for {
		cur := m.state.Load()
		switch State(cur) {
		case StateOpen:
			if m.state.CompareAndSwap(cur, int32(StateClosingRemote)) {
				return false, nil
			}
		case StateClosingLocal:
			if m.state.CompareAndSwap(cur, int32(StateClosed)) {
				return true, nil
			}
		default:
			return false, ErrAlreadyClosing
		}
	}
}

// Closed forces the connection into StateClosed, used both when our own
// Close frame completes the handshake (we were in StateClosingRemote),
// when the underlying transport breaks abnormally, and when the close
// handshake's deadline expires before the peer ever echoes.
func (m *Machine) Closed() {
	m.state.Store(int32(StateClosed))
}

// CanSendData reports whether application data frames may still be
// sent — false once either side has started closing.
func (m *Machine) CanSendData() bool {
	return State(m.state.Load()) == StateOpen
}
