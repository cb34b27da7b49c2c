package protocol

import (
	"errors"
	"fmt"
)

// Role is the side of a session a relay connection speaks for.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleSender || r == RoleReceiver
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleSender {
		return RoleReceiver
	}
	return RoleSender
}

// FileMeta describes the file being transferred. It is also the file_meta
// payload.
type FileMeta struct {
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MimeType    string `json:"mimeType"`
	TotalChunks int    `json:"totalChunks"`
	ChunkSize   int    `json:"chunkSize"`
}

var ErrInvalidMeta = errors.New("invalid file metadata")

// Validate checks the chunk arithmetic of the metadata.
func (m FileMeta) Validate() error {
	if m.FileSize < 0 {
		return fmt.Errorf("%w: negative file size %d", ErrInvalidMeta, m.FileSize)
	}
	if m.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d", ErrInvalidMeta, m.ChunkSize)
	}
	want := (m.FileSize + int64(m.ChunkSize) - 1) / int64(m.ChunkSize)
	if int64(m.TotalChunks) != want {
		return fmt.Errorf("%w: totalChunks %d, want %d", ErrInvalidMeta, m.TotalChunks, want)
	}
	return nil
}

// ChunkLen returns the byte length of chunk index under m.
func (m FileMeta) ChunkLen(index int) int {
	start := int64(index) * int64(m.ChunkSize)
	rest := m.FileSize - start
	if rest < int64(m.ChunkSize) {
		return int(rest)
	}
	return m.ChunkSize
}

// Session lifecycle markers reported by the directory.
const (
	StatusCreated      = "created"
	StatusWaiting      = "waiting"
	StatusPaired       = "paired"
	StatusTransferring = "transferring"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

// CreateSessionResponse is returned by POST /api/sessions. OwnerToken must be
// presented to delete the session.
type CreateSessionResponse struct {
	Code       string `json:"code"`
	SessionID  string `json:"sessionId"`
	ExpiresAt  int64  `json:"expiresAt"` // unix ms
	OwnerToken string `json:"ownerToken"`
}

// SessionInfo is returned by GET /api/sessions/{code}.
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	FileName  string `json:"fileName"`
	FileSize  int64  `json:"fileSize"`
	MimeType  string `json:"mimeType"`
	Status    string `json:"status"`
}

// APIError is the JSON error body of the directory API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
