// internal/storage/models.go
package storage

import "errors"

var (
	// ErrNotFound is returned when no session has the requested code.
	ErrNotFound = errors.New("session not found")
	// ErrCodeTaken is returned when a new session reuses a live code.
	ErrCodeTaken = errors.New("session code already in use")
)

// Session is one share-code record. Times are unix milliseconds.
type Session struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	FileName  string `json:"file_name"`
	FileSize  int64  `json:"file_size"`
	MimeType  string `json:"mime_type"`
	Status    string `json:"status"`
	OwnerHash []byte `json:"-"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at nowMillis.
func (s *Session) Expired(nowMillis int64) bool {
	return nowMillis >= s.ExpiresAt
}

// SessionStore persists sessions keyed by code.
type SessionStore interface {
	CreateSession(s *Session) error
	GetSession(code string) (*Session, error)
	UpdateStatus(code, status string) error
	DeleteSession(code string) error
	PruneExpired(nowMillis int64) (int, error)
	Close() error
}
