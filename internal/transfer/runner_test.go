package transfer

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ssd-technologies/takedat/internal/protocol"
)

// memRelay pairs two in-process connections the way the relay hub does.
type memRelay struct {
	mu    sync.Mutex
	conns map[protocol.Role]*memConn
	drop  func(*protocol.Message) bool
}

func newMemRelay() *memRelay {
	return &memRelay{conns: make(map[protocol.Role]*memConn)}
}

type memConn struct {
	relay *memRelay
	role  protocol.Role
	ch    chan *protocol.Message
}

func (r *memRelay) Dial(_ context.Context, _ string, role protocol.Role) (Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.conns[role]; taken {
		return nil, errors.New("role taken")
	}
	c := &memConn{relay: r, role: role, ch: make(chan *protocol.Message, 256)}
	r.conns[role] = c
	peer := r.conns[role.Peer()]
	c.ch <- protocol.MustMessage(protocol.TypeRegisterAck, protocol.RegisterAckPayload{Success: true, PeerConnected: peer != nil})
	if peer != nil {
		peer.ch <- protocol.MustMessage(protocol.TypePeerJoined, protocol.PeerPayload{Role: role})
	}
	return c, nil
}

func (c *memConn) Send(msg *protocol.Message) error {
	r := c.relay
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[c.role] != c {
		return errors.New("connection closed")
	}
	if r.drop != nil && r.drop(msg) {
		return nil
	}
	peer := r.conns[c.role.Peer()]
	if peer == nil {
		c.ch <- protocol.ErrorMessage(protocol.ErrCodePeerDisconnected, "Peer not connected", false)
		return nil
	}
	b, err := msg.Bytes()
	if err != nil {
		return err
	}
	out, err := protocol.Parse(b)
	if err != nil {
		return err
	}
	peer.ch <- out
	return nil
}

func (c *memConn) Messages() <-chan *protocol.Message { return c.ch }

func (c *memConn) Close() error {
	r := c.relay
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[c.role] != c {
		return nil
	}
	delete(r.conns, c.role)
	close(c.ch)
	if peer := r.conns[c.role.Peer()]; peer != nil {
		peer.ch <- protocol.MustMessage(protocol.TypePeerLeft, protocol.PeerPayload{Role: c.role})
	}
	return nil
}

type memDirectory struct {
	mu       sync.Mutex
	sessions map[string]protocol.SessionInfo
	deleted  []string
}

func newMemDirectory() *memDirectory {
	return &memDirectory{sessions: make(map[string]protocol.SessionInfo)}
}

func (d *memDirectory) CreateSession(_ context.Context, req protocol.CreateSessionRequest) (*protocol.CreateSessionResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions["ABC-123"] = protocol.SessionInfo{
		SessionID: "sid",
		FileName:  req.FileName,
		FileSize:  req.FileSize,
		MimeType:  req.MimeType,
		Status:    protocol.StatusCreated,
	}
	return &protocol.CreateSessionResponse{
		Code:       "ABC-123",
		SessionID:  "sid",
		ExpiresAt:  time.Now().Add(10 * time.Minute).UnixMilli(),
		OwnerToken: "tok",
	}, nil
}

func (d *memDirectory) GetSession(_ context.Context, code string) (*protocol.SessionInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.sessions[code]
	if !ok {
		return nil, errors.New("Session not found")
	}
	return &info, nil
}

func (d *memDirectory) DeleteSession(_ context.Context, code, ownerToken string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ownerToken != "tok" {
		return errors.New("forbidden")
	}
	delete(d.sessions, code)
	d.deleted = append(d.deleted, code)
	return nil
}

func (d *memDirectory) wasDeleted(code string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.deleted {
		if c == code {
			return true
		}
	}
	return false
}

type memSaver struct {
	meta protocol.FileMeta
	data []byte
	n    int
}

func (s *memSaver) Save(meta protocol.FileMeta, data []byte) (string, error) {
	s.meta = meta
	s.data = data
	s.n++
	return "/downloads/" + meta.FileName, nil
}

type result struct {
	path string
	err  error
}

func TestRunners_TransferFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	data := randomData(t, 150000)
	relay := newMemRelay()
	dir := newMemDirectory()
	saver := &memSaver{}

	codes := make(chan string, 1)
	var progress []int
	sender := &SendRunner{
		Directory: dir,
		Dialer:    relay,
		OnCode:    func(code string, _ time.Time) { codes <- code },
		OnProgress: func(done, total int) {
			progress = append(progress, done)
		},
	}
	sendErr := make(chan error, 1)
	go func() { sendErr <- sender.Run(ctx, newSource(t, data, 65536)) }()

	var code string
	select {
	case code = <-codes:
	case <-ctx.Done():
		t.Fatal("sender never published a code")
	}

	var states []State
	receiver := &ReceiveRunner{
		Directory: dir,
		Dialer:    relay,
		Saver:     saver,
		OnState:   func(s State) { states = append(states, s) },
	}
	path, err := receiver.Run(ctx, code)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := <-sendErr; err != nil {
		t.Fatalf("send: %v", err)
	}

	if path != "/downloads/report.pdf" {
		t.Fatalf("path = %q", path)
	}
	if saver.n != 1 || !bytes.Equal(saver.data, data) {
		t.Fatal("saved bytes differ from source")
	}
	if len(progress) == 0 || progress[len(progress)-1] != 3 {
		t.Fatalf("sender progress = %v", progress)
	}
	want := []State{StateValidating, StateReady, StateWaiting, StateTransferring, StateComplete}
	if len(states) != len(want) {
		t.Fatalf("receiver states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("receiver states = %v, want %v", states, want)
		}
	}
	if dir.wasDeleted("ABC-123") {
		t.Fatal("completed session was deleted")
	}
}

func TestRunners_LostAcksFailBothSides(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	relay := newMemRelay()
	relay.drop = func(m *protocol.Message) bool { return m.Type == protocol.TypeChunkAck }
	dir := newMemDirectory()
	saver := &memSaver{}

	codes := make(chan string, 1)
	sender := &SendRunner{
		Directory:  dir,
		Dialer:     relay,
		AckTimeout: 20 * time.Millisecond,
		OnCode:     func(code string, _ time.Time) { codes <- code },
	}
	sendErr := make(chan error, 1)
	go func() { sendErr <- sender.Run(ctx, newSource(t, randomData(t, 1000), 256)) }()

	code := <-codes
	receiver := &ReceiveRunner{Directory: dir, Dialer: relay, Saver: saver}
	recv := make(chan result, 1)
	go func() {
		p, err := receiver.Run(ctx, code)
		recv <- result{p, err}
	}()

	err := <-sendErr
	var fail *Failure
	if !errors.As(err, &fail) || fail.Kind != KindTransport {
		t.Fatalf("send err = %v", err)
	}
	res := <-recv
	if !errors.As(res.err, &fail) || fail.Reason != "Sender disconnected" {
		t.Fatalf("receive err = %v", res.err)
	}
	if saver.n != 0 {
		t.Fatal("partial file saved")
	}
	if !dir.wasDeleted("ABC-123") {
		t.Fatal("failed session not deleted")
	}
}

func TestSendRunner_CancelDeletesSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dir := newMemDirectory()
	sender := &SendRunner{
		Directory: dir,
		Dialer:    newMemRelay(),
		OnCode:    func(string, time.Time) { cancel() },
	}
	err := sender.Run(ctx, newSource(t, randomData(t, 10), 64))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !dir.wasDeleted("ABC-123") {
		t.Fatal("cancelled session not deleted")
	}
}

func TestReceiveRunner_UnknownCode(t *testing.T) {
	receiver := &ReceiveRunner{Directory: newMemDirectory(), Dialer: newMemRelay(), Saver: &memSaver{}}
	_, err := receiver.Run(context.Background(), "abc123")
	var fail *Failure
	if !errors.As(err, &fail) || fail.Reason != "Session not found" {
		t.Fatalf("err = %v", err)
	}
}

func TestReceiveRunner_IncompleteCode(t *testing.T) {
	receiver := &ReceiveRunner{Directory: newMemDirectory(), Dialer: newMemRelay()}
	if _, err := receiver.Run(context.Background(), "ab"); !errors.Is(err, ErrIncompleteCode) {
		t.Fatalf("err = %v", err)
	}
}
