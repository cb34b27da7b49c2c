package relay

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ssd-technologies/takedat/internal/protocol"
	"github.com/ssd-technologies/takedat/internal/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

// Client is one websocket connection holding a role in a session.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	code    string
	role    protocol.Role
	limiter *ratelimit.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// queue schedules data for writing. A client whose buffer is full is shut
// down rather than losing a frame.
func (c *Client) queue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		log.Printf("[relay] %s %s: send buffer full, closing", c.code, c.role)
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *Client) queueMessage(msg *protocol.Message) bool {
	b, err := msg.Bytes()
	if err != nil {
		log.Printf("[relay] encode %s: %v", msg.Type, err)
		return false
	}
	return c.queue(b)
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump handles inbound frames until the connection fails.
func (c *Client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[relay] %s %s read error: %v", c.code, c.role, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.handle(c, data)
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("[relay] %s %s write error: %v", c.code, c.role, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
