package transfer

import (
	"errors"
	"fmt"

	"github.com/ssd-technologies/takedat/internal/chunk"
	"github.com/ssd-technologies/takedat/internal/protocol"
)

// maxMissingShown caps the indices listed in a missing-chunks failure.
const maxMissingShown = 8

// Receiver drives one incoming transfer. Every buffered chunk is acked; a
// chunk that cannot be decoded or does not fit the announced metadata ends
// the transfer instead.
type Receiver struct {
	state State
	fail  *Failure

	code        string
	info        protocol.SessionInfo
	attached    bool
	peerPresent bool
	buf         *chunk.Buffer
	delivered   protocol.FileMeta
}

// NewReceiver returns an idle Receiver.
func NewReceiver() *Receiver {
	return &Receiver{state: StateIdle}
}

func (r *Receiver) State() State { return r.state }
func (r *Receiver) Failure() *Failure { return r.fail }
func (r *Receiver) Code() string { return r.code }
func (r *Receiver) Info() protocol.SessionInfo { return r.info }
func (r *Receiver) Attached() bool { return r.attached }
func (r *Receiver) PeerPresent() bool { return r.peerPresent }

// Progress returns received and total chunk counts.
func (r *Receiver) Progress() (done, total int) {
	if r.state == StateComplete {
		return r.delivered.TotalChunks, r.delivered.TotalChunks
	}
	if r.buf == nil {
		return 0, 0
	}
	return r.buf.Received(), r.buf.Meta().TotalChunks
}

// Handle applies ev and returns the resulting state and effects. A non-nil
// error is an input error; the state is unchanged.
func (r *Receiver) Handle(ev Event) (Step, error) {
	var effects []Effect
	switch ev := ev.(type) {
	case Cancel:
		effects = []Effect{Detach{}}
		*r = Receiver{state: StateIdle}

	case EnterCode:
		if r.state != StateIdle {
			return r.step(nil), ErrBusy
		}
		code := protocol.NormalizeCode(ev.Raw)
		if !protocol.ValidCode(code) {
			return r.step(nil), ErrIncompleteCode
		}
		r.code = code
		r.state = StateValidating
		effects = []Effect{LookupSession{Code: code}}

	case SessionResolved:
		if r.state != StateValidating {
			break
		}
		if ev.Info.Status == protocol.StatusCompleted || ev.Info.Status == protocol.StatusFailed {
			effects = r.failWith(KindSession, "This transfer has already ended")
			break
		}
		r.info = ev.Info
		r.state = StateReady
		effects = []Effect{Attach{Code: r.code, Role: protocol.RoleReceiver}}

	case LookupFailed:
		if r.state == StateValidating {
			effects = r.failWith(KindSession, errReason(ev.Err, "Invalid code"))
		}

	case AttachFailed:
		if r.state == StateReady && !r.attached {
			effects = r.failWith(KindTransport, errReason(ev.Err, "Connection failed"))
		}

	case RequestFile:
		if r.state != StateReady || !r.attached {
			return r.step(nil), ErrNotReady
		}
		if !r.peerPresent {
			return r.step(nil), ErrPeerAbsent
		}
		r.state = StateWaiting
		effects = []Effect{Send{Msg: protocol.MustMessage(protocol.TypeTransferRequest, protocol.TransferRequestPayload{})}}

	case ChannelClosed:
		if r.state == StateReady || r.state == StateWaiting || r.state == StateTransferring {
			effects = r.failWith(KindTransport, "Connection lost")
		}

	case Received:
		effects = r.onMessage(ev.Msg)
	}
	return r.step(effects), nil
}

func (r *Receiver) step(effects []Effect) Step {
	return Step{State: r.state, Effects: effects}
}

func (r *Receiver) onMessage(msg *protocol.Message) []Effect {
	if msg == nil {
		return nil
	}
	switch r.state {
	case StateReady, StateWaiting, StateTransferring:
	default:
		return nil
	}

	switch msg.Type {
	case protocol.TypeRegisterAck:
		if r.state != StateReady || r.attached {
			return nil
		}
		var ack protocol.RegisterAckPayload
		if err := msg.Decode(&ack); err != nil {
			return r.failWith(KindProtocol, err.Error())
		}
		if !ack.Success {
			return r.failWith(KindTransport, "Relay registration rejected")
		}
		r.attached = true
		r.peerPresent = ack.PeerConnected
		return nil

	case protocol.TypePeerJoined:
		if peerRole(msg) == protocol.RoleSender {
			r.peerPresent = true
		}
		return nil

	case protocol.TypePeerLeft:
		if peerRole(msg) != protocol.RoleSender {
			return nil
		}
		r.peerPresent = false
		if r.state == StateWaiting || r.state == StateTransferring {
			return r.failWith(KindTransport, "Sender disconnected")
		}
		return nil

	case protocol.TypeFileMeta:
		if r.state == StateWaiting {
			return r.onFileMeta(msg)
		}

	case protocol.TypeChunk:
		if r.state == StateTransferring {
			return r.onChunk(msg)
		}

	case protocol.TypeTransferComplete:
		if r.state == StateTransferring {
			return r.onComplete(msg)
		}

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if err := msg.Decode(&p); err != nil {
			return r.failWith(KindProtocol, err.Error())
		}
		if p.Fatal || r.state == StateWaiting || r.state == StateTransferring {
			return r.failWith(KindTransport, p.Message)
		}
		return nil

	case protocol.TypePing, protocol.TypePong, protocol.TypeTransferAccept:
		return nil
	}

	if r.state == StateWaiting || r.state == StateTransferring {
		return r.failWith(KindProtocol, fmt.Sprintf("Unexpected %s message", msg.Type))
	}
	return nil
}

func (r *Receiver) onFileMeta(msg *protocol.Message) []Effect {
	var meta protocol.FileMeta
	if err := msg.Decode(&meta); err != nil {
		return r.failWith(KindProtocol, err.Error())
	}
	if r.info.FileSize != 0 && meta.FileSize != r.info.FileSize {
		return r.failWith(KindProtocol, fmt.Sprintf("File size %d does not match session (%d)", meta.FileSize, r.info.FileSize))
	}
	if meta.ChunkSize > chunk.MaxSize {
		return r.failWith(KindProtocol, fmt.Sprintf("Chunk size %d exceeds %d", meta.ChunkSize, chunk.MaxSize))
	}
	buf, err := chunk.NewBuffer(meta)
	if err != nil {
		return r.failWith(KindProtocol, err.Error())
	}
	r.buf = buf
	r.state = StateTransferring
	return nil
}

func (r *Receiver) onChunk(msg *protocol.Message) []Effect {
	var p protocol.ChunkPayload
	if err := msg.Decode(&p); err != nil {
		return r.failWith(KindProtocol, err.Error())
	}
	data, err := chunk.Decode(p.Data)
	if err != nil {
		return r.failWith(KindProtocol, fmt.Sprintf("Chunk %d: %v", p.Index, err))
	}
	if len(data) != p.Size {
		return r.failWith(KindProtocol, fmt.Sprintf("Chunk %d: decoded %d bytes, announced %d", p.Index, len(data), p.Size))
	}
	if _, err := r.buf.AddChunk(p.Index, data); err != nil && !errors.Is(err, chunk.ErrDuplicateChunk) {
		return r.failWith(KindProtocol, err.Error())
	}
	ack := protocol.MustMessage(protocol.TypeChunkAck, protocol.ChunkAckPayload{Index: p.Index, Success: true})
	return []Effect{Send{Msg: ack}}
}

func (r *Receiver) onComplete(msg *protocol.Message) []Effect {
	var p protocol.TransferCompletePayload
	if err := msg.Decode(&p); err != nil {
		return r.failWith(KindProtocol, err.Error())
	}
	if !r.buf.IsComplete() {
		missing := r.buf.Missing()
		shown := missing
		if len(shown) > maxMissingShown {
			shown = shown[:maxMissingShown]
		}
		return r.failWith(KindProtocol, fmt.Sprintf("Transfer ended with %d missing chunks %v", len(missing), shown))
	}
	meta := r.buf.Meta()
	if p.TotalChunks != meta.TotalChunks || p.TotalBytes != meta.FileSize {
		return r.failWith(KindProtocol, fmt.Sprintf("Sender reported %d bytes in %d chunks, expected %d in %d",
			p.TotalBytes, p.TotalChunks, meta.FileSize, meta.TotalChunks))
	}
	data, err := r.buf.Assemble()
	if err != nil {
		return r.failWith(KindProtocol, err.Error())
	}
	if p.Checksum != "" && chunk.Digest(data) != p.Checksum {
		return r.failWith(KindProtocol, "Checksum mismatch")
	}
	r.buf = nil
	r.delivered = meta
	r.state = StateComplete
	return []Effect{Deliver{Meta: meta, Data: data}}
}

// failWith discards any partial data so nothing incomplete is ever exposed.
func (r *Receiver) failWith(kind Kind, reason string) []Effect {
	r.state = StateError
	r.fail = &Failure{Kind: kind, Reason: reason}
	r.buf = nil
	return nil
}
