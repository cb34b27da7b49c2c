package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/ssd-technologies/takedat/internal/protocol"
)

// ErrRoleTaken is returned when a second connection claims an occupied role.
var ErrRoleTaken = errors.New("role already connected")

// Presence reports which roles are attached to one session.
type Presence struct {
	SenderPresent   bool `json:"senderPresent"`
	ReceiverPresent bool `json:"receiverPresent"`
}

type slots struct {
	sender   *Client
	receiver *Client
	since    time.Time
}

func (s *slots) get(role protocol.Role) *Client {
	if role == protocol.RoleSender {
		return s.sender
	}
	return s.receiver
}

func (s *slots) set(role protocol.Role, c *Client) {
	if role == protocol.RoleSender {
		s.sender = c
	} else {
		s.receiver = c
	}
}

// Tracker is the in-memory registry of which client holds each role of each
// session code.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*slots
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*slots)}
}

// Attach places c in role for code and returns the peer already attached in
// the other role, if any.
func (t *Tracker) Attach(code string, role protocol.Role, c *Client) (*Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[code]
	if !ok {
		s = &slots{since: time.Now()}
		t.sessions[code] = s
	}
	if s.get(role) != nil {
		return nil, ErrRoleTaken
	}
	s.set(role, c)
	return s.get(role.Peer()), nil
}

// Detach removes c from role if it still holds it and returns the remaining
// peer. A stale client never evicts its replacement.
func (t *Tracker) Detach(code string, role protocol.Role, c *Client) (peer *Client, removed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[code]
	if !ok || s.get(role) != c {
		return nil, false
	}
	s.set(role, nil)
	peer = s.get(role.Peer())
	if peer == nil {
		delete(t.sessions, code)
	}
	return peer, true
}

// Peer returns the client attached opposite role, or nil.
func (t *Tracker) Peer(code string, role protocol.Role) *Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.sessions[code]; ok {
		return s.get(role.Peer())
	}
	return nil
}

// Snapshot returns presence for code.
func (t *Tracker) Snapshot(code string) Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[code]
	if !ok {
		return Presence{}
	}
	return Presence{SenderPresent: s.sender != nil, ReceiverPresent: s.receiver != nil}
}

// Sessions returns the number of codes with at least one attached client.
func (t *Tracker) Sessions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
