package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ssd-technologies/takedat/internal/chunk"
	"github.com/ssd-technologies/takedat/internal/protocol"
)

// Conn is an owned relay connection. Messages is closed when the channel goes
// away.
type Conn interface {
	Send(msg *protocol.Message) error
	Messages() <-chan *protocol.Message
	Close() error
}

// Dialer opens relay connections.
type Dialer interface {
	Dial(ctx context.Context, code string, role protocol.Role) (Conn, error)
}

// Directory is the session directory as seen by a party.
type Directory interface {
	CreateSession(ctx context.Context, req protocol.CreateSessionRequest) (*protocol.CreateSessionResponse, error)
	GetSession(ctx context.Context, code string) (*protocol.SessionInfo, error)
	DeleteSession(ctx context.Context, code, ownerToken string) error
}

// Saver persists a fully assembled file and returns where it went.
type Saver interface {
	Save(meta protocol.FileMeta, data []byte) (string, error)
}

const cleanupTimeout = 5 * time.Second

type machine interface {
	Handle(ev Event) (Step, error)
}

// driver executes a machine's effects. It is used from a single goroutine.
type driver struct {
	m      machine
	dir    Directory
	dialer Dialer
	saver  Saver

	conn    Conn
	msgs    <-chan *protocol.Message
	timer   *time.Timer
	timerEv Event

	queue   []Event
	saved   string
	saveErr error
	state   State
	onState func(State)
	onStep  func()
}

// dispatch runs ev and every event its effects produce.
func (d *driver) dispatch(ctx context.Context, ev Event) error {
	d.queue = append(d.queue, ev)
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		step, err := d.m.Handle(next)
		if err != nil {
			d.queue = nil
			return err
		}
		for _, eff := range step.Effects {
			d.apply(ctx, eff)
		}
		if step.State != d.state {
			d.state = step.State
			if d.onState != nil {
				d.onState(step.State)
			}
		}
		if d.onStep != nil {
			d.onStep()
		}
	}
	return nil
}

func (d *driver) apply(ctx context.Context, eff Effect) {
	switch eff := eff.(type) {
	case CreateSession:
		resp, err := d.dir.CreateSession(ctx, protocol.CreateSessionRequest{
			FileName: eff.Meta.FileName,
			FileSize: eff.Meta.FileSize,
			MimeType: eff.Meta.MimeType,
		})
		if err != nil {
			d.queue = append(d.queue, SessionFailed{Err: err})
			return
		}
		d.queue = append(d.queue, SessionCreated{
			Code:       resp.Code,
			SessionID:  resp.SessionID,
			OwnerToken: resp.OwnerToken,
			ExpiresAt:  time.UnixMilli(resp.ExpiresAt),
		})

	case LookupSession:
		info, err := d.dir.GetSession(ctx, eff.Code)
		if err != nil {
			d.queue = append(d.queue, LookupFailed{Err: err})
			return
		}
		d.queue = append(d.queue, SessionResolved{Info: *info})

	case Attach:
		conn, err := d.dialer.Dial(ctx, eff.Code, eff.Role)
		if err != nil {
			d.queue = append(d.queue, AttachFailed{Err: err})
			return
		}
		d.conn = conn
		d.msgs = conn.Messages()

	case Send:
		if d.conn == nil {
			d.queue = append(d.queue, ChannelClosed{Err: errors.New("not connected")})
			return
		}
		if err := d.conn.Send(eff.Msg); err != nil {
			log.Printf("[transfer] send %s: %v", eff.Msg.Type, err)
			d.queue = append(d.queue, ChannelClosed{Err: err})
		}

	case ArmAckTimer:
		d.stopTimer()
		d.timer = time.NewTimer(eff.After)
		d.timerEv = AckTimeout{Index: eff.Index, Attempt: eff.Attempt}

	case DisarmAckTimer:
		d.stopTimer()

	case Deliver:
		if d.saver == nil {
			d.saveErr = errors.New("no storage configured")
			return
		}
		d.saved, d.saveErr = d.saver.Save(eff.Meta, eff.Data)

	case Detach:
		d.close()

	case DeleteSession:
		// The caller's context may already be cancelled.
		cctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := d.dir.DeleteSession(cctx, eff.Code, eff.OwnerToken); err != nil {
			log.Printf("[transfer] delete session %s: %v", eff.Code, err)
		}
	}
}

func (d *driver) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.timerEv = nil
}

func (d *driver) close() {
	d.stopTimer()
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	d.msgs = nil
}

// abort tears the machine down without reporting the reset to callbacks.
func (d *driver) abort(ctx context.Context) {
	d.onState = nil
	d.onStep = nil
	d.dispatch(ctx, Cancel{})
	d.close()
}

// wait blocks for the next external event.
func (d *driver) wait(ctx context.Context) (Event, error) {
	var timerC <-chan time.Time
	if d.timer != nil {
		timerC = d.timer.C
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-d.msgs:
		if !ok {
			d.msgs = nil
			return ChannelClosed{Err: errors.New("relay closed")}, nil
		}
		return Received{Msg: msg}, nil
	case <-timerC:
		ev := d.timerEv
		d.timer = nil
		d.timerEv = nil
		return ev, nil
	}
}

// SendRunner offers one file through the directory and relay.
type SendRunner struct {
	Directory  Directory
	Dialer     Dialer
	AckTimeout time.Duration

	OnState    func(State)
	OnCode     func(code string, expiresAt time.Time)
	OnProgress func(done, total int)
}

// Run shares src and blocks until the receiver has every chunk, the transfer
// fails, or ctx is cancelled. On failure or cancellation the session is
// deleted.
func (r *SendRunner) Run(ctx context.Context, src *chunk.Source) error {
	s := NewSender(r.AckTimeout)
	d := &driver{
		m:       s,
		dir:     r.Directory,
		dialer:  r.Dialer,
		state:   StateIdle,
		onState: r.OnState,
	}
	var announced bool
	lastDone := -1
	d.onStep = func() {
		if !announced && s.Code() != "" {
			announced = true
			if r.OnCode != nil {
				r.OnCode(s.Code(), s.ExpiresAt())
			}
		}
		if done, total := s.Progress(); r.OnProgress != nil && done != lastDone && s.State() == StateTransferring {
			lastDone = done
			r.OnProgress(done, total)
		}
	}

	if err := d.dispatch(ctx, Share{Source: src}); err != nil {
		return err
	}
	for {
		switch s.State() {
		case StateComplete:
			done, total := s.Progress()
			if r.OnProgress != nil {
				r.OnProgress(done, total)
			}
			d.close()
			return nil
		case StateError:
			fail := s.Failure()
			log.Printf("[transfer] send %s failed: %s", s.Code(), fail.Reason)
			d.abort(ctx)
			return fail
		}

		ev, err := d.wait(ctx)
		if err != nil {
			d.abort(ctx)
			return err
		}
		if err := d.dispatch(ctx, ev); err != nil {
			return err
		}
	}
}

// ReceiveRunner fetches one file by share code.
type ReceiveRunner struct {
	Directory Directory
	Dialer    Dialer
	Saver     Saver

	OnState    func(State)
	OnInfo     func(info protocol.SessionInfo)
	OnProgress func(done, total int)
}

// Run resolves rawCode, requests the file as soon as the sender is present
// and returns where the file was saved.
func (r *ReceiveRunner) Run(ctx context.Context, rawCode string) (string, error) {
	rc := NewReceiver()
	d := &driver{
		m:       rc,
		dir:     r.Directory,
		dialer:  r.Dialer,
		saver:   r.Saver,
		state:   StateIdle,
		onState: r.OnState,
	}
	var infoShown bool
	lastDone := -1
	d.onStep = func() {
		if !infoShown && rc.State() == StateReady {
			infoShown = true
			if r.OnInfo != nil {
				r.OnInfo(rc.Info())
			}
		}
		if done, total := rc.Progress(); r.OnProgress != nil && total > 0 && done != lastDone {
			lastDone = done
			r.OnProgress(done, total)
		}
	}

	if err := d.dispatch(ctx, EnterCode{Raw: rawCode}); err != nil {
		return "", err
	}
	for {
		switch rc.State() {
		case StateComplete:
			d.close()
			if d.saveErr != nil {
				return "", fmt.Errorf("save file: %w", d.saveErr)
			}
			return d.saved, nil
		case StateError:
			fail := rc.Failure()
			log.Printf("[transfer] receive %s failed: %s", rc.Code(), fail.Reason)
			d.abort(ctx)
			return "", fail
		case StateReady:
			if rc.Attached() && rc.PeerPresent() {
				if err := d.dispatch(ctx, RequestFile{}); err != nil {
					return "", err
				}
				continue
			}
		}

		ev, err := d.wait(ctx)
		if err != nil {
			d.abort(ctx)
			return "", err
		}
		if err := d.dispatch(ctx, ev); err != nil {
			return "", err
		}
	}
}
