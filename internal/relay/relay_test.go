package relay

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ssd-technologies/takedat/internal/protocol"
)

type recordingStatus struct {
	mu      sync.Mutex
	history []string
}

func (r *recordingStatus) SetStatus(code, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, status)
	return nil
}

func (r *recordingStatus) seen(status string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.history {
		if s == status {
			return true
		}
	}
	return false
}

func newTestHub(t *testing.T, rate int) (*Hub, *recordingStatus, string) {
	t.Helper()
	status := &recordingStatus{}
	hub := NewHub(NewTracker(), status, rate, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimPrefix(r.URL.Path, "/ws/")
		hub.ServeWS(w, r, code, protocol.Role(r.URL.Query().Get("role")))
	}))
	t.Cleanup(srv.Close)
	return hub, status, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, base string, role protocol.Role) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws/ABC-123?role="+string(role), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", role, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msg *protocol.Message) {
	t.Helper()
	b, err := msg.Bytes()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func expectAck(t *testing.T, conn *websocket.Conn, peer bool) {
	t.Helper()
	msg := read(t, conn)
	if msg.Type != protocol.TypeRegisterAck {
		t.Fatalf("got %s, want register_ack", msg.Type)
	}
	var ack protocol.RegisterAckPayload
	if err := msg.Decode(&ack); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ack.Success || ack.PeerConnected != peer {
		t.Fatalf("register_ack = %+v, want peerConnected %v", ack, peer)
	}
}

func expectPeer(t *testing.T, conn *websocket.Conn, typ protocol.MessageType, role protocol.Role) {
	t.Helper()
	msg := read(t, conn)
	if msg.Type != typ {
		t.Fatalf("got %s, want %s", msg.Type, typ)
	}
	var p protocol.PeerPayload
	if err := msg.Decode(&p); err != nil || p.Role != role {
		t.Fatalf("%s payload = %+v (%v)", typ, p, err)
	}
}

func expectError(t *testing.T, conn *websocket.Conn, code string) protocol.ErrorPayload {
	t.Helper()
	msg := read(t, conn)
	if msg.Type != protocol.TypeError {
		t.Fatalf("got %s, want error", msg.Type)
	}
	var p protocol.ErrorPayload
	if err := msg.Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Code != code {
		t.Fatalf("error code = %s, want %s", p.Code, code)
	}
	return p
}

func TestHub_PairingAndPresence(t *testing.T) {
	hub, status, base := newTestHub(t, 0)

	sender := dial(t, base, protocol.RoleSender)
	expectAck(t, sender, false)

	receiver := dial(t, base, protocol.RoleReceiver)
	expectAck(t, receiver, true)
	expectPeer(t, sender, protocol.TypePeerJoined, protocol.RoleReceiver)

	p := hub.Tracker().Snapshot("ABC-123")
	if !p.SenderPresent || !p.ReceiverPresent {
		t.Fatalf("presence = %+v", p)
	}
	if !status.seen(protocol.StatusWaiting) || !status.seen(protocol.StatusPaired) {
		t.Fatalf("status history = %v", status.history)
	}

	receiver.Close()
	expectPeer(t, sender, protocol.TypePeerLeft, protocol.RoleReceiver)
	if p := hub.Tracker().Snapshot("ABC-123"); p.ReceiverPresent || !p.SenderPresent {
		t.Fatalf("presence after leave = %+v", p)
	}
}

func TestHub_ForwardsVerbatim(t *testing.T) {
	_, status, base := newTestHub(t, 0)
	sender := dial(t, base, protocol.RoleSender)
	expectAck(t, sender, false)
	receiver := dial(t, base, protocol.RoleReceiver)
	expectAck(t, receiver, true)
	expectPeer(t, sender, protocol.TypePeerJoined, protocol.RoleReceiver)

	send(t, receiver, protocol.MustMessage(protocol.TypeTransferRequest, protocol.TransferRequestPayload{}))
	if msg := read(t, sender); msg.Type != protocol.TypeTransferRequest {
		t.Fatalf("sender got %s", msg.Type)
	}

	meta := protocol.FileMeta{FileName: "a.txt", FileSize: 3, MimeType: "text/plain", TotalChunks: 1, ChunkSize: 64}
	send(t, sender, protocol.MustMessage(protocol.TypeFileMeta, meta))
	chunkMsg := protocol.MustMessage(protocol.TypeChunk, protocol.ChunkPayload{Index: 0, Data: "YWJj", Size: 3})
	send(t, sender, chunkMsg)

	if msg := read(t, receiver); msg.Type != protocol.TypeFileMeta {
		t.Fatalf("receiver got %s", msg.Type)
	}
	got := read(t, receiver)
	if got.MessageID != chunkMsg.MessageID || string(got.Payload) != string(chunkMsg.Payload) {
		t.Fatalf("chunk altered in transit: %+v", got)
	}

	send(t, sender, protocol.MustMessage(protocol.TypeTransferComplete, protocol.TransferCompletePayload{TotalBytes: 3, TotalChunks: 1}))
	read(t, receiver)
	if !status.seen(protocol.StatusTransferring) || !status.seen(protocol.StatusCompleted) {
		t.Fatalf("status history = %v", status.history)
	}
}

func TestHub_SecondSenderRejected(t *testing.T) {
	_, _, base := newTestHub(t, 0)
	first := dial(t, base, protocol.RoleSender)
	expectAck(t, first, false)

	second := dial(t, base, protocol.RoleSender)
	p := expectError(t, second, protocol.ErrCodeSessionFull)
	if !p.Fatal {
		t.Fatal("SESSION_FULL should be fatal")
	}
}

func TestHub_PingAndErrors(t *testing.T) {
	_, _, base := newTestHub(t, 0)
	sender := dial(t, base, protocol.RoleSender)
	expectAck(t, sender, false)

	send(t, sender, protocol.MustMessage(protocol.TypePing, nil))
	if msg := read(t, sender); msg.Type != protocol.TypePong {
		t.Fatalf("got %s, want pong", msg.Type)
	}

	send(t, sender, protocol.MustMessage(protocol.TypeChunk, protocol.ChunkPayload{}))
	expectError(t, sender, protocol.ErrCodePeerDisconnected)

	send(t, sender, protocol.MustMessage("shout", nil))
	expectError(t, sender, protocol.ErrCodeUnknownMessage)

	if err := sender.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectError(t, sender, protocol.ErrCodeInvalidMessage)
}

func TestHub_RateLimited(t *testing.T) {
	_, _, base := newTestHub(t, 1)
	sender := dial(t, base, protocol.RoleSender)
	expectAck(t, sender, false)

	send(t, sender, protocol.MustMessage(protocol.TypePing, nil))
	send(t, sender, protocol.MustMessage(protocol.TypePing, nil))
	if msg := read(t, sender); msg.Type != protocol.TypePong {
		t.Fatalf("got %s, want pong", msg.Type)
	}
	expectError(t, sender, protocol.ErrCodeRateLimited)
}

func TestTracker_AttachDetach(t *testing.T) {
	tr := NewTracker()
	a, b, c := &Client{}, &Client{}, &Client{}

	if peer, err := tr.Attach("X", protocol.RoleSender, a); err != nil || peer != nil {
		t.Fatalf("Attach sender = %v, %v", peer, err)
	}
	if _, err := tr.Attach("X", protocol.RoleSender, c); !errors.Is(err, ErrRoleTaken) {
		t.Fatalf("second sender err = %v", err)
	}
	if peer, err := tr.Attach("X", protocol.RoleReceiver, b); err != nil || peer != a {
		t.Fatalf("Attach receiver = %v, %v", peer, err)
	}
	if tr.Peer("X", protocol.RoleReceiver) != a || tr.Peer("X", protocol.RoleSender) != b {
		t.Fatal("Peer returned the wrong client")
	}

	if _, removed := tr.Detach("X", protocol.RoleSender, c); removed {
		t.Fatal("stale client detached the active sender")
	}
	peer, removed := tr.Detach("X", protocol.RoleSender, a)
	if !removed || peer != b {
		t.Fatalf("Detach = %v, %v", peer, removed)
	}
	if p := tr.Snapshot("X"); p.SenderPresent || !p.ReceiverPresent {
		t.Fatalf("snapshot = %+v", p)
	}
	tr.Detach("X", protocol.RoleReceiver, b)
	if tr.Sessions() != 0 {
		t.Fatalf("sessions = %d after both left", tr.Sessions())
	}
}
