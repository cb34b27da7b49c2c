package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ssd-technologies/takedat/internal/protocol"
	"github.com/ssd-technologies/takedat/internal/transfer"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	inboxSize      = 64
)

// Relay dials the server's relay endpoint.
type Relay struct {
	base   string
	dialer *websocket.Dialer
}

// NewRelay creates a Relay for the server at serverURL (http or https).
func NewRelay(serverURL string) (*Relay, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	return &Relay{
		base: u.String(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  64 * 1024,
		},
	}, nil
}

// Dial attaches to the relay for code as role.
func (r *Relay) Dial(ctx context.Context, code string, role protocol.Role) (transfer.Conn, error) {
	target := fmt.Sprintf("%s/ws/%s?role=%s", r.base, url.PathEscape(code), url.QueryEscape(string(role)))
	ws, resp, err := r.dialer.DialContext(ctx, target, nil)
	if err != nil {
		// A refused upgrade carries the directory's error body.
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			defer resp.Body.Close()
			return nil, decodeAPIError(resp)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	c := &Conn{
		ws:   ws,
		msgs: make(chan *protocol.Message, inboxSize),
		done: make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Conn is one party's relay connection. Messages is closed when the relay
// goes away or Close is called.
type Conn struct {
	ws   *websocket.Conn
	wmu  sync.Mutex // guards writes
	msgs chan *protocol.Message
	done chan struct{}
	once sync.Once
}

// Messages returns inbound relay messages in arrival order.
func (c *Conn) Messages() <-chan *protocol.Message { return c.msgs }

// Send writes one message. It is safe for concurrent use.
func (c *Conn) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// Close says goodbye to the relay and closes the connection.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.msgs)
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	c.ws.SetPingHandler(func(data string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[client] relay read error: %v", err)
			}
			return
		}
		msg, err := protocol.Parse(data)
		if err != nil {
			log.Printf("[client] dropping malformed relay frame: %v", err)
			continue
		}
		select {
		case c.msgs <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
