package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of a relay message.
type MessageType string

// Message types
const (
	TypeRegister         MessageType = "register"
	TypeRegisterAck      MessageType = "register_ack"
	TypePeerJoined       MessageType = "peer_joined"
	TypePeerLeft         MessageType = "peer_left"
	TypeTransferRequest  MessageType = "transfer_request"
	TypeTransferAccept   MessageType = "transfer_accept"
	TypeFileMeta         MessageType = "file_meta"
	TypeChunk            MessageType = "chunk"
	TypeChunkAck         MessageType = "chunk_ack"
	TypeTransferComplete MessageType = "transfer_complete"
	TypeError            MessageType = "error"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
)

// Relayed reports whether the relay forwards this type verbatim to the peer.
func (t MessageType) Relayed() bool {
	switch t {
	case TypeTransferRequest, TypeTransferAccept, TypeFileMeta, TypeChunk, TypeChunkAck, TypeTransferComplete:
		return true
	}
	return false
}

// Error codes carried in ErrorPayload.Code.
const (
	ErrCodeSessionFull      = "SESSION_FULL"
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeUnknownMessage   = "UNKNOWN_MESSAGE"
	ErrCodePeerDisconnected = "PEER_DISCONNECTED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeSessionGone      = "SESSION_GONE"
)

// Message is the common envelope for everything exchanged over the relay.
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	MessageID string          `json:"messageId,omitempty"`
}

// NewMessage builds an envelope around payload. A nil payload is omitted.
func NewMessage(t MessageType, payload any) (*Message, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		raw = b
	}
	return &Message{
		Type:      t,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
		MessageID: uuid.New().String(),
	}, nil
}

// MustMessage is NewMessage for payloads that always marshal (the structs in
// this package).
func MustMessage(t MessageType, payload any) *Message {
	m, err := NewMessage(t, payload)
	if err != nil {
		panic(err)
	}
	return m
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Type, err)
	}
	return nil
}

// Bytes returns the JSON wire form of the envelope.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// Parse decodes a wire frame into an envelope.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("parse message: missing type")
	}
	return &m, nil
}

// Payload types

type RegisterPayload struct {
	Role      Role   `json:"role"`
	SessionID string `json:"sessionId"`
}

type RegisterAckPayload struct {
	Success       bool `json:"success"`
	PeerConnected bool `json:"peerConnected"`
}

// PeerPayload is carried by peer_joined and peer_left.
type PeerPayload struct {
	Role Role `json:"role"`
}

type TransferRequestPayload struct{}

type ChunkPayload struct {
	Index int    `json:"index"`
	Data  string `json:"data"` // codec-encoded
	Size  int    `json:"size"` // decoded length
}

type ChunkAckPayload struct {
	Index   int  `json:"index"`
	Success bool `json:"success"`
}

type TransferCompletePayload struct {
	TotalBytes  int64  `json:"totalBytes"`
	TotalChunks int    `json:"totalChunks"`
	Duration    int64  `json:"duration"`           // milliseconds
	Checksum    string `json:"checksum,omitempty"` // hex SHA3-256 of the whole file
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// ErrorMessage builds an error envelope.
func ErrorMessage(code, message string, fatal bool) *Message {
	return MustMessage(TypeError, ErrorPayload{Code: code, Message: message, Fatal: fatal})
}
