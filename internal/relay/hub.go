// Package relay is the server side of the transfer channel. It pairs one
// sender and one receiver per share code and forwards their messages
// verbatim, reporting presence changes to both.
package relay

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ssd-technologies/takedat/internal/protocol"
	"github.com/ssd-technologies/takedat/internal/ratelimit"
)

// StatusUpdater records session lifecycle changes observed on the relay.
type StatusUpdater interface {
	SetStatus(code, status string) error
}

// Hub accepts relay connections and routes messages between paired clients.
type Hub struct {
	tracker  *Tracker
	status   StatusUpdater
	rate     int
	upgrader websocket.Upgrader
}

// NewHub creates a Hub. status may be nil. rate caps inbound messages per
// connection per second; zero disables the cap.
func NewHub(tracker *Tracker, status StatusUpdater, rate int, checkOrigin func(*http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Hub{
		tracker: tracker,
		status:  status,
		rate:    rate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Tracker returns the hub's presence tracker.
func (h *Hub) Tracker() *Tracker { return h.tracker }

// ServeWS upgrades the request and attaches it to code as role. The code must
// already be validated by the caller.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, code string, role protocol.Role) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[relay] websocket upgrade error: %v", err)
		return
	}

	c := &Client{
		hub:     h,
		conn:    conn,
		code:    code,
		role:    role,
		limiter: ratelimit.New(h.rate, time.Second),
		send:    make(chan []byte, sendBuffer),
	}

	peer, err := h.tracker.Attach(code, role, c)
	if errors.Is(err, ErrRoleTaken) {
		if b, err := protocol.ErrorMessage(protocol.ErrCodeSessionFull, "A "+string(role)+" is already connected to this session", true).Bytes(); err == nil {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.TextMessage, b)
		}
		conn.Close()
		return
	}

	go c.writePump()

	if peer != nil {
		h.setStatus(code, protocol.StatusPaired)
	} else {
		h.setStatus(code, protocol.StatusWaiting)
	}
	c.queueMessage(protocol.MustMessage(protocol.TypeRegisterAck, protocol.RegisterAckPayload{
		Success:       true,
		PeerConnected: peer != nil,
	}))
	if peer != nil {
		peer.queueMessage(protocol.MustMessage(protocol.TypePeerJoined, protocol.PeerPayload{Role: role}))
	}
	log.Printf("[relay] %s %s connected (peer present: %v)", code, role, peer != nil)

	c.readPump()

	if peer, removed := h.tracker.Detach(code, role, c); removed {
		if peer != nil {
			peer.queueMessage(protocol.MustMessage(protocol.TypePeerLeft, protocol.PeerPayload{Role: role}))
		}
		log.Printf("[relay] %s %s disconnected", code, role)
	}
	c.shutdown()
}

// handle processes one inbound frame from c.
func (h *Hub) handle(c *Client, data []byte) {
	if !c.limiter.Allow() {
		c.queueMessage(protocol.ErrorMessage(protocol.ErrCodeRateLimited, "Too many messages", false))
		return
	}
	msg, err := protocol.Parse(data)
	if err != nil {
		c.queueMessage(protocol.ErrorMessage(protocol.ErrCodeInvalidMessage, "Invalid message format", false))
		return
	}

	switch {
	case msg.Type == protocol.TypePing:
		c.queueMessage(protocol.MustMessage(protocol.TypePong, nil))

	case msg.Type == protocol.TypeRegister:
		c.queueMessage(protocol.MustMessage(protocol.TypeRegisterAck, protocol.RegisterAckPayload{
			Success:       true,
			PeerConnected: h.tracker.Peer(c.code, c.role) != nil,
		}))

	case msg.Type.Relayed():
		peer := h.tracker.Peer(c.code, c.role)
		if peer == nil {
			c.queueMessage(protocol.ErrorMessage(protocol.ErrCodePeerDisconnected, "Peer is not connected", false))
			return
		}
		switch msg.Type {
		case protocol.TypeFileMeta:
			h.setStatus(c.code, protocol.StatusTransferring)
		case protocol.TypeTransferComplete:
			h.setStatus(c.code, protocol.StatusCompleted)
		}
		peer.queue(data)

	default:
		c.queueMessage(protocol.ErrorMessage(protocol.ErrCodeUnknownMessage, "Unknown message type: "+string(msg.Type), false))
	}
}

func (h *Hub) setStatus(code, status string) {
	if h.status == nil {
		return
	}
	if err := h.status.SetStatus(code, status); err != nil {
		log.Printf("[relay] set status %s=%s: %v", code, status, err)
	}
}
