package transfer

import (
	"fmt"
	"time"

	"github.com/ssd-technologies/takedat/internal/chunk"
	"github.com/ssd-technologies/takedat/internal/protocol"
)

// Sender drives one outgoing transfer. At most one chunk is in flight: chunk
// i+1 is only read and sent after chunk_ack{index: i, success: true}.
type Sender struct {
	ackTimeout time.Duration
	now        func() time.Time

	state State
	fail  *Failure

	src        *chunk.Source
	code       string
	sessionID  string
	ownerToken string
	expiresAt  time.Time

	peerPresent bool
	inflight    int // -1 when nothing is outstanding
	attempt     int
	acked       int
	hasher      *chunk.Hasher
	started     time.Time
}

// NewSender returns an idle Sender. A non-positive ackTimeout selects
// DefaultAckTimeout.
func NewSender(ackTimeout time.Duration) *Sender {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Sender{
		ackTimeout: ackTimeout,
		now:        time.Now,
		state:      StateIdle,
		inflight:   -1,
	}
}

func (s *Sender) State() State { return s.state }
func (s *Sender) Failure() *Failure { return s.fail }
func (s *Sender) Code() string { return s.code }
func (s *Sender) SessionID() string { return s.sessionID }
func (s *Sender) ExpiresAt() time.Time { return s.expiresAt }
func (s *Sender) PeerPresent() bool { return s.peerPresent }
func (s *Sender) InFlight() (int, bool) { return s.inflight, s.inflight >= 0 }

// Progress returns acknowledged and total chunk counts.
func (s *Sender) Progress() (done, total int) {
	if s.src == nil {
		return 0, 0
	}
	return s.acked, s.src.TotalChunks()
}

// Handle applies ev and returns the resulting state and effects. A non-nil
// error is an input error; the state is unchanged.
func (s *Sender) Handle(ev Event) (Step, error) {
	var effects []Effect
	switch ev := ev.(type) {
	case Cancel:
		effects = s.cancel()

	case Share:
		if s.state != StateIdle {
			return s.step(nil), ErrBusy
		}
		if ev.Source == nil {
			return s.step(nil), ErrNoFile
		}
		s.src = ev.Source
		s.state = StateCreating
		effects = []Effect{CreateSession{Meta: s.src.Meta()}}

	case SessionCreated:
		if s.state != StateCreating || s.code != "" {
			break
		}
		s.code = ev.Code
		s.sessionID = ev.SessionID
		s.ownerToken = ev.OwnerToken
		s.expiresAt = ev.ExpiresAt
		effects = []Effect{Attach{Code: ev.Code, Role: protocol.RoleSender}}

	case SessionFailed:
		if s.state == StateCreating {
			effects = s.failWith(KindSession, errReason(ev.Err, "Failed to create session"))
		}

	case AttachFailed:
		if s.state == StateCreating {
			effects = s.failWith(KindTransport, errReason(ev.Err, "Connection failed"))
		}

	case ChannelClosed:
		if s.active() {
			effects = s.failWith(KindTransport, "Connection lost")
		}

	case AckTimeout:
		if s.state == StateTransferring && ev.Index == s.inflight && ev.Attempt == s.attempt {
			effects = s.retry()
		}

	case Received:
		effects = s.onMessage(ev.Msg)
	}
	return s.step(effects), nil
}

func (s *Sender) step(effects []Effect) Step {
	return Step{State: s.state, Effects: effects}
}

// active reports whether the sender is attached or attaching to the relay
// with a transfer not yet finished.
func (s *Sender) active() bool {
	return s.state == StateCreating || s.state == StateWaiting || s.state == StateTransferring
}

func (s *Sender) onMessage(msg *protocol.Message) []Effect {
	if msg == nil || !s.active() {
		return nil
	}
	switch msg.Type {
	case protocol.TypeRegisterAck:
		if s.state != StateCreating || s.code == "" {
			return nil
		}
		var ack protocol.RegisterAckPayload
		if err := msg.Decode(&ack); err != nil {
			return s.failWith(KindProtocol, err.Error())
		}
		if !ack.Success {
			return s.failWith(KindTransport, "Relay registration rejected")
		}
		s.peerPresent = ack.PeerConnected
		s.state = StateWaiting
		return nil

	case protocol.TypePeerJoined:
		if peerRole(msg) == protocol.RoleReceiver {
			s.peerPresent = true
		}
		return nil

	case protocol.TypePeerLeft:
		if peerRole(msg) != protocol.RoleReceiver {
			return nil
		}
		s.peerPresent = false
		return s.failWith(KindTransport, "Receiver disconnected")

	case protocol.TypeTransferRequest:
		if s.state != StateWaiting {
			return nil
		}
		return s.start()

	case protocol.TypeChunkAck:
		if s.state != StateTransferring {
			return nil
		}
		var ack protocol.ChunkAckPayload
		if err := msg.Decode(&ack); err != nil {
			return s.failWith(KindProtocol, err.Error())
		}
		return s.onAck(ack)

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if err := msg.Decode(&p); err != nil {
			return s.failWith(KindProtocol, err.Error())
		}
		if p.Fatal || s.state == StateTransferring {
			return s.failWith(KindTransport, p.Message)
		}
		return nil

	case protocol.TypePing, protocol.TypePong, protocol.TypeTransferAccept:
		return nil
	}

	if s.state == StateWaiting || s.state == StateTransferring {
		return s.failWith(KindProtocol, fmt.Sprintf("Unexpected %s message", msg.Type))
	}
	return nil
}

// start announces the file and sends chunk 0.
func (s *Sender) start() []Effect {
	s.state = StateTransferring
	s.started = s.now()
	s.hasher = chunk.NewHasher()
	s.acked = 0

	meta, err := protocol.NewMessage(protocol.TypeFileMeta, s.src.Meta())
	if err != nil {
		return s.failWith(KindLocal, err.Error())
	}
	effects := []Effect{Send{Msg: meta}}
	if s.src.TotalChunks() == 0 {
		return append(effects, s.complete()...)
	}
	return append(effects, s.sendChunk(0, 0)...)
}

func (s *Sender) sendChunk(index, attempt int) []Effect {
	data, err := s.src.ChunkAt(index)
	if err != nil {
		return s.failWith(KindLocal, err.Error())
	}
	s.hasher.Add(index, data)
	msg, err := protocol.NewMessage(protocol.TypeChunk, protocol.ChunkPayload{
		Index: index,
		Data:  chunk.Encode(data),
		Size:  len(data),
	})
	if err != nil {
		return s.failWith(KindLocal, err.Error())
	}
	s.inflight = index
	s.attempt = attempt
	return []Effect{
		Send{Msg: msg},
		ArmAckTimer{Index: index, Attempt: attempt, After: s.ackTimeout},
	}
}

func (s *Sender) onAck(ack protocol.ChunkAckPayload) []Effect {
	if ack.Index != s.inflight {
		// Late ack for an earlier attempt.
		return nil
	}
	if !ack.Success {
		return s.retry()
	}
	s.acked = ack.Index + 1
	effects := []Effect{DisarmAckTimer{}}
	if s.acked == s.src.TotalChunks() {
		return append(effects, s.complete()...)
	}
	return append(effects, s.sendChunk(s.acked, 0)...)
}

// retry re-sends the in-flight chunk once; a second miss is fatal.
func (s *Sender) retry() []Effect {
	if s.attempt >= 1 {
		return s.failWith(KindTransport, fmt.Sprintf("Chunk %d was not acknowledged", s.inflight))
	}
	return s.sendChunk(s.inflight, s.attempt+1)
}

func (s *Sender) complete() []Effect {
	msg, err := protocol.NewMessage(protocol.TypeTransferComplete, protocol.TransferCompletePayload{
		TotalBytes:  s.src.Size(),
		TotalChunks: s.src.TotalChunks(),
		Duration:    s.now().Sub(s.started).Milliseconds(),
		Checksum:    s.hasher.Sum(),
	})
	if err != nil {
		return s.failWith(KindLocal, err.Error())
	}
	s.inflight = -1
	s.state = StateComplete
	return []Effect{Send{Msg: msg}}
}

func (s *Sender) failWith(kind Kind, reason string) []Effect {
	s.state = StateError
	s.fail = &Failure{Kind: kind, Reason: reason}
	s.inflight = -1
	return []Effect{DisarmAckTimer{}}
}

// cancel tears everything down and returns to Idle.
func (s *Sender) cancel() []Effect {
	effects := []Effect{DisarmAckTimer{}, Detach{}}
	if s.code != "" {
		effects = append(effects, DeleteSession{Code: s.code, OwnerToken: s.ownerToken})
	}
	*s = Sender{
		ackTimeout: s.ackTimeout,
		now:        s.now,
		state:      StateIdle,
		inflight:   -1,
	}
	return effects
}

func peerRole(msg *protocol.Message) protocol.Role {
	var p protocol.PeerPayload
	if err := msg.Decode(&p); err != nil {
		return ""
	}
	return p.Role
}

func errReason(err error, fallback string) string {
	if err == nil || err.Error() == "" {
		return fallback
	}
	return err.Error()
}
