// Package upstream tracks the lifecycle of a relay client's connection to
// the transcription provider.
package upstream

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of an upstream connection.
type State int

const (
	// StateConnecting - dial in progress, audio must be queued.
	StateConnecting State = iota
	// StateEstablished - provider session opened, no audio forwarded yet.
	StateEstablished
	// StateStreaming - at least one audio frame has been forwarded.
	StateStreaming
	// StateClosed - terminal.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsOpen returns true if audio may be forwarded in this state.
func (s State) IsOpen() bool {
	return s == StateEstablished || s == StateStreaming
}

// Errors for invalid state transitions.
var (
	ErrClosed         = errors.New("upstream connection is closed")
	ErrNotConnecting  = errors.New("upstream connection is not connecting")
	ErrNotEstablished = errors.New("upstream connection is not established")
)

// Lifecycle manages the state machine for one upstream connection.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	CONNECTING → ESTABLISHED → STREAMING
//	     │            │            │
//	     └────────────┴────────────┴── Close() ──→ CLOSED
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a lifecycle in CONNECTING state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateConnecting}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsOpen returns true if audio may be forwarded.
func (l *Lifecycle) IsOpen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsOpen()
}

// IsClosed returns true once Close has been called.
func (l *Lifecycle) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateClosed
}

// Establish records that the provider session opened.
func (l *Lifecycle) Establish() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateConnecting:
		l.state = StateEstablished
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotConnecting
	}
}

// Stream records that audio is flowing. Calling it while already streaming
// is allowed.
func (l *Lifecycle) Stream() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateEstablished, StateStreaming:
		l.state = StateStreaming
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotEstablished
	}
}

// Close transitions to CLOSED. Returns true only for the call that
// performed the transition.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return false
	}
	l.state = StateClosed
	return true
}
