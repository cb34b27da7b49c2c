// Package directory allocates share codes and manages the lifetime of the
// sessions they name.
package directory

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ssd-technologies/takedat/internal/protocol"
	"github.com/ssd-technologies/takedat/internal/storage"
)

// Code alphabet without the easily confused 0/O, 1/I/L.
const (
	codeAlphabet    = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	maxCodeAttempts = 10
	defaultMime     = "application/octet-stream"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session has expired")
	ErrForbidden       = errors.New("owner token does not match")
	ErrCodeSpace       = errors.New("could not allocate a free code")
)

// InputError reports a rejected create request.
type InputError struct {
	Code    string
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

// CreateParams describes the file a sender is offering.
type CreateParams struct {
	FileName string
	FileSize int64
	MimeType string
}

// Service is the session directory.
type Service struct {
	store       storage.SessionStore
	ttl         time.Duration
	maxFileSize int64
	now         func() time.Time
	newCode     func() string
}

// New creates a Service over store. Sessions live for ttl; files larger than
// maxFileSize are refused.
func New(store storage.SessionStore, ttl time.Duration, maxFileSize int64) *Service {
	return &Service{
		store:       store,
		ttl:         ttl,
		maxFileSize: maxFileSize,
		now:         time.Now,
		newCode:     GenerateCode,
	}
}

// GenerateCode returns a random code of the form XXX-YYY.
func GenerateCode() string {
	var b strings.Builder
	size := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < 6; i++ {
		if i == 3 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String()
}

// Create validates p, allocates a unique code and stores the session. The
// returned owner token is needed to delete the session and is not stored.
func (s *Service) Create(p CreateParams) (*storage.Session, string, error) {
	name := strings.TrimSpace(p.FileName)
	if name == "" {
		return nil, "", &InputError{Code: "MISSING_FIELD", Message: "fileName is required"}
	}
	if p.FileSize <= 0 {
		return nil, "", &InputError{Code: "INVALID_FIELD", Message: "fileSize must be positive"}
	}
	if s.maxFileSize > 0 && p.FileSize > s.maxFileSize {
		return nil, "", &InputError{Code: "FILE_TOO_LARGE", Message: fmt.Sprintf("fileSize exceeds the %d byte limit", s.maxFileSize)}
	}
	mime := p.MimeType
	if mime == "" {
		mime = defaultMime
	}

	token, hash := newOwnerToken()
	now := s.now()
	sess := &storage.Session{
		ID:        uuid.New().String(),
		FileName:  name,
		FileSize:  p.FileSize,
		MimeType:  mime,
		Status:    protocol.StatusCreated,
		OwnerHash: hash,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(s.ttl).UnixMilli(),
	}
	for i := 0; i < maxCodeAttempts; i++ {
		sess.Code = s.newCode()
		err := s.store.CreateSession(sess)
		if err == nil {
			log.Printf("[directory] created %s for %q (%d bytes)", sess.Code, sess.FileName, sess.FileSize)
			return sess, token, nil
		}
		if !errors.Is(err, storage.ErrCodeTaken) {
			return nil, "", fmt.Errorf("create session: %w", err)
		}
	}
	return nil, "", ErrCodeSpace
}

// GetByCode resolves a code typed by a user. Expired sessions are reported
// as such until they are pruned.
func (s *Service) GetByCode(raw string) (*storage.Session, error) {
	code := protocol.NormalizeCode(raw)
	if !protocol.ValidCode(code) {
		return nil, ErrSessionNotFound
	}
	sess, err := s.store.GetSession(code)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.Expired(s.now().UnixMilli()) {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// Delete removes a session on behalf of its owner. Deleting a session that
// no longer exists succeeds.
func (s *Service) Delete(raw, token string) error {
	code := protocol.NormalizeCode(raw)
	sess, err := s.store.GetSession(code)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !verifyToken(token, sess.OwnerHash) {
		return ErrForbidden
	}
	if err := s.store.DeleteSession(code); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	log.Printf("[directory] deleted %s", code)
	return nil
}

// SetStatus records a lifecycle change reported by the relay.
func (s *Service) SetStatus(code, status string) error {
	err := s.store.UpdateStatus(code, status)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// PruneExpired removes sessions past their expiry.
func (s *Service) PruneExpired() (int, error) {
	return s.store.PruneExpired(s.now().UnixMilli())
}

// Info converts a stored session to its public form.
func Info(sess *storage.Session) protocol.SessionInfo {
	return protocol.SessionInfo{
		SessionID: sess.ID,
		FileName:  sess.FileName,
		FileSize:  sess.FileSize,
		MimeType:  sess.MimeType,
		Status:    sess.Status,
	}
}
