// Package transfer implements the sender and receiver sides of the chunked
// transfer protocol. Each side is a state machine whose Handle method takes
// one event and returns the next state plus the effects the caller must
// carry out (messages to send, timers, directory calls). Runners in
// runner.go execute those effects against a live relay connection.
package transfer

import (
	"errors"
	"time"

	"github.com/ssd-technologies/takedat/internal/chunk"
	"github.com/ssd-technologies/takedat/internal/protocol"
)

// DefaultAckTimeout bounds the wait for a chunk_ack before the chunk is sent
// again.
const DefaultAckTimeout = 30 * time.Second

// State is a machine state. Sender and receiver share the vocabulary; each
// uses a subset.
type State string

const (
	StateIdle         State = "idle"
	StateCreating     State = "creating"
	StateValidating   State = "validating"
	StateReady        State = "ready"
	StateWaiting      State = "waiting"
	StateTransferring State = "transferring"
	StateComplete     State = "complete"
	StateError        State = "error"
)

// Terminal reports whether no further protocol events are processed.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// Input errors. They are returned by Handle and leave the state unchanged.
var (
	ErrBusy           = errors.New("a transfer is already in progress")
	ErrNoFile         = errors.New("no file selected")
	ErrIncompleteCode = errors.New("please enter a complete code")
	ErrNotReady       = errors.New("not connected to the session yet")
	ErrPeerAbsent     = errors.New("sender is not connected")
)

// Kind classifies a terminal failure.
type Kind int

const (
	KindSession Kind = iota + 1
	KindProtocol
	KindTransport
	KindLocal
)

func (k Kind) String() string {
	switch k {
	case KindSession:
		return "session"
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	case KindLocal:
		return "local"
	}
	return "unknown"
}

// Failure is the reason a machine entered StateError. Reason is shown to the
// user as is.
type Failure struct {
	Kind   Kind
	Reason string
}

func (f *Failure) Error() string {
	return f.Reason
}

// Step is the outcome of one transition.
type Step struct {
	State   State
	Effects []Effect
}

// Event is anything that drives a machine.
type Event interface{ event() }

// Share starts a send of Source.
type Share struct{ Source *chunk.Source }

// SessionCreated reports the directory allocated a session.
type SessionCreated struct {
	Code       string
	SessionID  string
	OwnerToken string
	ExpiresAt  time.Time
}

// SessionFailed reports the directory refused to create a session.
type SessionFailed struct{ Err error }

// EnterCode carries raw user input for the share code.
type EnterCode struct{ Raw string }

// SessionResolved carries the directory's view of an entered code.
type SessionResolved struct{ Info protocol.SessionInfo }

// LookupFailed reports the directory could not resolve a code.
type LookupFailed struct{ Err error }

// AttachFailed reports the relay connection could not be established.
type AttachFailed struct{ Err error }

// RequestFile is the receiver's explicit request to start the transfer.
type RequestFile struct{}

// Received wraps a message that arrived on the relay.
type Received struct{ Msg *protocol.Message }

// AckTimeout fires when no ack arrived for the given send attempt.
type AckTimeout struct{ Index, Attempt int }

// ChannelClosed reports the relay connection went away.
type ChannelClosed struct{ Err error }

// Cancel is an explicit user cancellation.
type Cancel struct{}

func (Share) event()           {}
func (SessionCreated) event()  {}
func (SessionFailed) event()   {}
func (EnterCode) event()       {}
func (SessionResolved) event() {}
func (LookupFailed) event()    {}
func (AttachFailed) event()    {}
func (RequestFile) event()     {}
func (Received) event()        {}
func (AckTimeout) event()      {}
func (ChannelClosed) event()   {}
func (Cancel) event()          {}

// Effect is work a machine asks its runner to perform.
type Effect interface{ effect() }

// CreateSession asks the directory for a new session.
type CreateSession struct{ Meta protocol.FileMeta }

// LookupSession asks the directory to resolve Code.
type LookupSession struct{ Code string }

// Attach opens the relay connection for Code under Role.
type Attach struct {
	Code string
	Role protocol.Role
}

// Send writes Msg to the relay.
type Send struct{ Msg *protocol.Message }

// ArmAckTimer (re)starts the ack timer for one send attempt.
type ArmAckTimer struct {
	Index   int
	Attempt int
	After   time.Duration
}

// DisarmAckTimer stops the ack timer.
type DisarmAckTimer struct{}

// Deliver hands the assembled file to storage.
type Deliver struct {
	Meta protocol.FileMeta
	Data []byte
}

// Detach closes the relay connection.
type Detach struct{}

// DeleteSession removes the session from the directory, best-effort.
type DeleteSession struct {
	Code       string
	OwnerToken string
}

func (CreateSession) effect()  {}
func (LookupSession) effect()  {}
func (Attach) effect()         {}
func (Send) effect()           {}
func (ArmAckTimer) effect()    {}
func (DisarmAckTimer) effect() {}
func (Deliver) effect()        {}
func (Detach) effect()         {}
func (DeleteSession) effect()  {}
