// Package client is the participant side of a shared board: pointer input,
// local history and the event exchange with the relay.
package client

import (
	"context"
	"errors"
	"log"
	"sync"

	"syncboard/internal/canvas"
	"syncboard/internal/history"
	"syncboard/internal/models"
	"syncboard/internal/protocol"
)

var (
	ErrNotRunning     = errors.New("board loop not running")
	ErrAlreadyRunning = errors.New("board loop already running")
)

type Options struct {
	// Surface defaults to a Recorder.
	Surface     canvas.Surface
	StrokeWidth float64
	EraserWidth float64
	// OnEvent runs on the board loop after each inbound event was applied.
	OnEvent func(event string)
}

// Board is one participant's engine. Pointer operations and inbound events
// all run on a single loop goroutine started by Run; the exported methods
// post work to that loop and wait for it.
type Board struct {
	transport Transport
	surface   canvas.Surface
	history   *history.Manager
	ctrl      *Controller
	onEvent   func(string)

	ops       chan func()
	startOnce sync.Once
	started   chan struct{}
	stopped   chan struct{}

	// loop-owned
	sessionID  string
	self       models.ClientPresence
	members    []models.ClientPresence
	peerColors map[string]models.Color
}

func NewBoard(t Transport, opts Options) *Board {
	surface := opts.Surface
	if surface == nil {
		surface = canvas.NewRecorder()
	}
	b := &Board{
		transport:  t,
		surface:    surface,
		history:    history.NewManager(surface),
		onEvent:    opts.OnEvent,
		ops:        make(chan func()),
		started:    make(chan struct{}),
		stopped:    make(chan struct{}),
		peerColors: make(map[string]models.Color),
	}
	b.ctrl = NewController(surface, b.history, b.sendSegment, opts.StrokeWidth, opts.EraserWidth)
	return b
}

// Run drives the board until ctx is done or the transport fails. It closes
// the transport on return and may be called only once.
func (b *Board) Run(ctx context.Context) error {
	first := false
	b.startOnce.Do(func() {
		first = true
		close(b.started)
	})
	if !first {
		return ErrAlreadyRunning
	}
	defer close(b.stopped)
	defer b.transport.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	recvErr := make(chan error, 1)
	go func() {
		for {
			frame, err := b.transport.Receive(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case b.ops <- func() { b.apply(frame) }:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case op := <-b.ops:
			op()
		case err := <-recvErr:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

// Started is closed once Run has begun; calls made earlier fail with
// ErrNotRunning.
func (b *Board) Started() <-chan struct{} {
	return b.started
}

// do runs fn on the loop and waits for it. Outside Run it fails at once.
func (b *Board) do(fn func() error) error {
	select {
	case <-b.started:
	default:
		return ErrNotRunning
	}
	result := make(chan error, 1)
	select {
	case b.ops <- func() { result <- fn() }:
	case <-b.stopped:
		return ErrNotRunning
	}
	select {
	case err := <-result:
		return err
	case <-b.stopped:
		return ErrNotRunning
	}
}

// Join asks the relay for sessionID. Local state is replaced once the
// session state arrives.
func (b *Board) Join(sessionID string) error {
	return b.do(func() error {
		b.sessionID = sessionID
		return b.send(protocol.EventJoinSession, protocol.JoinPayload{SessionID: sessionID})
	})
}

func (b *Board) Leave() error {
	return b.do(func() error {
		if b.sessionID == "" {
			return nil
		}
		err := b.send(protocol.EventLeaveSession, nil)
		b.sessionID = ""
		b.members = nil
		b.peerColors = make(map[string]models.Color)
		b.history.Load(nil, -1)
		return err
	})
}

func (b *Board) BeginStroke(p models.Point) error {
	return b.do(func() error { return b.ctrl.BeginStroke(p) })
}

func (b *Board) ExtendStroke(p models.Point) error {
	return b.do(func() error {
		b.ctrl.ExtendStroke(p)
		return nil
	})
}

func (b *Board) EndStroke() error {
	return b.do(func() error {
		b.ctrl.EndStroke()
		return nil
	})
}

func (b *Board) SetColor(c models.Color) error {
	return b.do(func() error {
		if err := b.ctrl.SetColor(c); err != nil {
			return err
		}
		return b.send(protocol.EventColorChange, protocol.ColorChange{Color: c})
	})
}

// ToggleEraser is local only and returns the new eraser state.
func (b *Board) ToggleEraser() (bool, error) {
	var on bool
	err := b.do(func() error {
		on = b.ctrl.ToggleEraser()
		return nil
	})
	return on, err
}

// Undo steps back locally and tells the peers only when something changed.
func (b *Board) Undo() (bool, error) {
	var moved bool
	err := b.do(func() error {
		if moved = b.history.Undo(); moved {
			return b.send(protocol.EventUndo, protocol.Origin{})
		}
		return nil
	})
	return moved, err
}

func (b *Board) Redo() (bool, error) {
	var moved bool
	err := b.do(func() error {
		if moved = b.history.Redo(); moved {
			return b.send(protocol.EventRedo, protocol.Origin{})
		}
		return nil
	})
	return moved, err
}

// Clear blanks the board for everyone; the history itself is kept.
func (b *Board) Clear() error {
	return b.do(func() error {
		b.history.ClearView()
		return b.send(protocol.EventClearCanvas, protocol.Origin{})
	})
}

func (b *Board) Members() []models.ClientPresence {
	var out []models.ClientPresence
	_ = b.do(func() error {
		out = append([]models.ClientPresence(nil), b.members...)
		return nil
	})
	return out
}

func (b *Board) PeerColor(clientID string) (models.Color, bool) {
	var (
		c  models.Color
		ok bool
	)
	_ = b.do(func() error {
		c, ok = b.peerColors[clientID]
		return nil
	})
	return c, ok
}

func (b *Board) SessionID() string {
	var id string
	_ = b.do(func() error {
		id = b.sessionID
		return nil
	})
	return id
}

func (b *Board) Self() models.ClientPresence {
	var p models.ClientPresence
	_ = b.do(func() error {
		p = b.self
		return nil
	})
	return p
}

func (b *Board) HistoryLen() int {
	var n int
	_ = b.do(func() error {
		n = b.history.Len()
		return nil
	})
	return n
}

func (b *Board) Cursor() int {
	c := -1
	_ = b.do(func() error {
		c = b.history.Cursor()
		return nil
	})
	return c
}

// Actions returns the active prefix of the local history.
func (b *Board) Actions() []models.StrokeSegment {
	var out []models.StrokeSegment
	_ = b.do(func() error {
		out = b.history.Active()
		return nil
	})
	return out
}

// sendSegment is the controller's outbound hook; it runs on the loop.
func (b *Board) sendSegment(seg models.StrokeSegment) {
	seg.SessionID = b.sessionID
	if err := b.send(protocol.EventDraw, seg); err != nil {
		log.Printf("client: send draw: %v", err)
	}
}

// send is fire and forget; without a session nothing leaves the board.
func (b *Board) send(event string, payload interface{}) error {
	if b.sessionID == "" {
		return nil
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	return b.transport.Send(frame)
}

func (b *Board) apply(frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		log.Printf("client: dropping frame: %v", err)
		return
	}
	if err := b.applyEnvelope(env); err != nil {
		log.Printf("client: dropping %s: %v", env.Event, err)
		return
	}
	if b.onEvent != nil {
		b.onEvent(env.Event)
	}
}

func (b *Board) applyEnvelope(env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventSessionState:
		var state protocol.SessionState
		if err := env.Bind(&state); err != nil {
			return err
		}
		b.sessionID = state.SessionID
		b.self = state.Self
		b.members = append([]models.ClientPresence(nil), state.Members...)
		b.peerColors = make(map[string]models.Color)
		b.history.Load(state.Actions, state.Cursor)
	case protocol.EventDraw:
		seg, err := protocol.DecodeSegment(env)
		if err != nil {
			return err
		}
		b.surface.DrawSegment(seg.From, seg.To, seg.Color, seg.Width)
		b.history.Append(seg)
	case protocol.EventUndo:
		b.history.Undo()
	case protocol.EventRedo:
		b.history.Redo()
	case protocol.EventClearCanvas:
		b.history.ClearView()
	case protocol.EventColorChange:
		var cc protocol.ColorChange
		if err := env.Bind(&cc); err != nil {
			return err
		}
		if cc.ClientID != "" {
			b.peerColors[cc.ClientID] = cc.Color
		}
	case protocol.EventUserJoined:
		var p models.ClientPresence
		if err := env.Bind(&p); err != nil {
			return err
		}
		for _, m := range b.members {
			if m.ClientID == p.ClientID {
				return nil
			}
		}
		b.members = append(b.members, p)
	case protocol.EventUserLeft:
		var p models.ClientPresence
		if err := env.Bind(&p); err != nil {
			return err
		}
		for i, m := range b.members {
			if m.ClientID == p.ClientID {
				b.members = append(b.members[:i], b.members[i+1:]...)
				break
			}
		}
		delete(b.peerColors, p.ClientID)
	case protocol.EventError:
		var perr protocol.ErrorPayload
		if err := env.Bind(&perr); err != nil {
			return err
		}
		log.Printf("client: relay reported: %s", perr.Message)
	default:
		return protocol.ErrUnknownEvent
	}
	return nil
}
