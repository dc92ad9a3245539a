package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"syncboard/internal/models"
	"syncboard/internal/protocol"
)

type fakeMember struct {
	id     string
	name   string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

func newFakeMember(id string, capacity int) *fakeMember {
	return &fakeMember{id: id, name: "user-" + id, frames: make(chan []byte, capacity)}
}

func (f *fakeMember) ID() string       { return f.id }
func (f *fakeMember) Username() string { return f.name }

func (f *fakeMember) Send(frame []byte) bool {
	select {
	case f.frames <- frame:
		return true
	default:
		return false
	}
}

func (f *fakeMember) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeMember) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeMember) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case frame := <-f.frames:
		env, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("member %s got bad frame %s: %v", f.id, frame, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("member %s: timed out waiting for frame", f.id)
	}
	return protocol.Envelope{}
}

func (f *fakeMember) expect(t *testing.T, event string) protocol.Envelope {
	t.Helper()
	env := f.next(t)
	if env.Event != event {
		t.Fatalf("member %s: expected %s, got %s", f.id, event, env.Event)
	}
	return env
}

func (f *fakeMember) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case frame := <-f.frames:
		t.Fatalf("member %s: unexpected frame %s", f.id, frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func drawEnv(t *testing.T, color models.Color, x float64) protocol.Envelope {
	t.Helper()
	frame, err := protocol.Encode(protocol.EventDraw, models.StrokeSegment{
		From:  models.Point{X: x, Y: 0},
		To:    models.Point{X: x + 1, Y: 1},
		Color: color,
		Width: 5,
	})
	if err != nil {
		t.Fatalf("encode draw: %v", err)
	}
	env, err := protocol.Decode(frame)
	if err != nil {
		t.Fatalf("decode draw: %v", err)
	}
	return env
}

func plainEnv(t *testing.T, event string) protocol.Envelope {
	t.Helper()
	env, err := protocol.Decode([]byte(`{"event":"` + event + `","data":{}}`))
	if err != nil {
		t.Fatalf("decode %s: %v", event, err)
	}
	return env
}

func TestJoinSendsStateAndAnnounces(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()
	ctx := context.Background()
	a, b := newFakeMember("a", 16), newFakeMember("b", 16)

	if err := r.Join(ctx, "s1", a); err != nil {
		t.Fatalf("join a: %v", err)
	}
	var state protocol.SessionState
	if err := a.expect(t, protocol.EventSessionState).Bind(&state); err != nil {
		t.Fatalf("bind state: %v", err)
	}
	if state.SessionID != "s1" || state.Cursor != -1 || len(state.Actions) != 0 || len(state.Members) != 1 {
		t.Fatalf("unexpected initial state %+v", state)
	}
	if state.Self.ClientID != "a" {
		t.Fatalf("self presence missing: %+v", state.Self)
	}

	if err := r.Join(ctx, "s1", b); err != nil {
		t.Fatalf("join b: %v", err)
	}
	if err := b.expect(t, protocol.EventSessionState).Bind(&state); err != nil {
		t.Fatalf("bind state: %v", err)
	}
	if len(state.Members) != 2 || state.Members[0].ClientID != "a" || state.Members[1].ClientID != "b" {
		t.Fatalf("members not in join order: %+v", state.Members)
	}
	var joined models.ClientPresence
	if err := a.expect(t, protocol.EventUserJoined).Bind(&joined); err != nil || joined.ClientID != "b" {
		t.Fatalf("expected userJoined for b, got %+v %v", joined, err)
	}
	b.expectNothing(t)

	r.Leave(b)
	var left models.ClientPresence
	if err := a.expect(t, protocol.EventUserLeft).Bind(&left); err != nil || left.ClientID != "b" {
		t.Fatalf("expected userLeft for b, got %+v %v", left, err)
	}
}

func TestDrawFanOutAndSequence(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()
	ctx := context.Background()
	a, b, c := newFakeMember("a", 32), newFakeMember("b", 32), newFakeMember("c", 32)
	for _, m := range []*fakeMember{a, b, c} {
		if err := r.Join(ctx, "s1", m); err != nil {
			t.Fatalf("join %s: %v", m.id, err)
		}
	}
	a.expect(t, protocol.EventSessionState)
	a.expect(t, protocol.EventUserJoined)
	a.expect(t, protocol.EventUserJoined)
	b.expect(t, protocol.EventSessionState)
	b.expect(t, protocol.EventUserJoined)
	c.expect(t, protocol.EventSessionState)

	for i := 0; i < 3; i++ {
		if err := r.Dispatch(ctx, "s1", a, drawEnv(t, "#000000", float64(i))); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	if err := r.Dispatch(ctx, "s1", b, drawEnv(t, "#00ff00", 10)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	var last int64
	for i := 0; i < 3; i++ {
		var seg models.StrokeSegment
		if err := b.expect(t, protocol.EventDraw).Bind(&seg); err != nil {
			t.Fatalf("bind: %v", err)
		}
		if seg.SequenceID <= last {
			t.Fatalf("sequence not increasing: %d after %d", seg.SequenceID, last)
		}
		last = seg.SequenceID
		if seg.SessionID != "s1" || seg.ClientID != "a" {
			t.Fatalf("segment not stamped: %+v", seg)
		}
	}
	last = 0
	for i := 0; i < 4; i++ {
		var seg models.StrokeSegment
		if err := c.expect(t, protocol.EventDraw).Bind(&seg); err != nil {
			t.Fatalf("bind: %v", err)
		}
		if seg.SequenceID <= last {
			t.Fatalf("sequence not increasing for c: %d after %d", seg.SequenceID, last)
		}
		last = seg.SequenceID
	}
	var seg models.StrokeSegment
	if err := a.expect(t, protocol.EventDraw).Bind(&seg); err != nil || seg.ClientID != "b" {
		t.Fatalf("a should only see b's draw, got %+v %v", seg, err)
	}
	a.expectNothing(t)
	b.expectNothing(t)
}

func TestLateJoinerSeesExistingSegment(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()
	ctx := context.Background()
	a, b := newFakeMember("a", 16), newFakeMember("b", 16)
	if err := r.Join(ctx, "board", a); err != nil {
		t.Fatalf("join: %v", err)
	}
	a.expect(t, protocol.EventSessionState)
	if err := r.Dispatch(ctx, "board", a, drawEnv(t, "#ff0000", 1)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := r.Join(ctx, "board", b); err != nil {
		t.Fatalf("join: %v", err)
	}
	var state protocol.SessionState
	if err := b.expect(t, protocol.EventSessionState).Bind(&state); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if len(state.Actions) != 1 || state.Actions[0].Color != "#ff0000" || state.Cursor != 0 {
		t.Fatalf("late joiner state wrong: %+v", state)
	}
}

func TestCursorMovesAreMirrored(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()
	ctx := context.Background()
	a, b := newFakeMember("a", 32), newFakeMember("b", 32)
	_ = r.Join(ctx, "s", a)
	_ = r.Join(ctx, "s", b)
	a.expect(t, protocol.EventSessionState)
	a.expect(t, protocol.EventUserJoined)
	b.expect(t, protocol.EventSessionState)

	for i := 0; i < 3; i++ {
		_ = r.Dispatch(ctx, "s", a, drawEnv(t, "#000000", float64(i)))
	}
	if err := r.Dispatch(ctx, "s", a, plainEnv(t, protocol.EventUndo)); err != nil {
		t.Fatalf("undo: %v", err)
	}
	for i := 0; i < 3; i++ {
		b.expect(t, protocol.EventDraw)
	}
	var origin protocol.Origin
	if err := b.expect(t, protocol.EventUndo).Bind(&origin); err != nil || origin.ClientID != "a" {
		t.Fatalf("undo origin: %+v %v", origin, err)
	}
	snap, ok := r.Snapshot(ctx, "s")
	if !ok || len(snap.Actions) != 3 || snap.Cursor != 1 {
		t.Fatalf("unexpected snapshot after undo: %+v", snap)
	}

	if err := r.Dispatch(ctx, "s", b, plainEnv(t, protocol.EventClearCanvas)); err != nil {
		t.Fatalf("clear: %v", err)
	}
	a.expect(t, protocol.EventClearCanvas)
	snap, _ = r.Snapshot(ctx, "s")
	if len(snap.Actions) != 3 || snap.Cursor != -1 {
		t.Fatalf("clear must keep the log and reset the cursor: %+v", snap)
	}
	if snap.LastSequence != 3 {
		t.Fatalf("expected last sequence 3, got %d", snap.LastSequence)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()
	ctx := context.Background()
	a, b := newFakeMember("a", 16), newFakeMember("b", 16)
	_ = r.Join(ctx, "one", a)
	_ = r.Join(ctx, "two", b)
	a.expect(t, protocol.EventSessionState)
	b.expect(t, protocol.EventSessionState)
	_ = r.Dispatch(ctx, "one", a, drawEnv(t, "#000000", 1))
	b.expectNothing(t)
	if infos := r.Sessions(ctx); len(infos) != 2 || infos[0].SessionID != "one" || infos[0].Actions != 1 {
		t.Fatalf("unexpected sessions %+v", infos)
	}
}

func TestEmptySessionIsRemoved(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()
	ctx := context.Background()
	a := newFakeMember("a", 16)
	_ = r.Join(ctx, "gone", a)
	_ = r.Dispatch(ctx, "gone", a, drawEnv(t, "#000000", 1))
	r.Leave(a)
	if _, ok := r.Snapshot(ctx, "gone"); ok {
		t.Fatalf("empty session still registered")
	}
	if err := r.Join(ctx, "gone", a); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	a.expect(t, protocol.EventSessionState)
	var state protocol.SessionState
	if err := a.expect(t, protocol.EventSessionState).Bind(&state); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if len(state.Actions) != 0 {
		t.Fatalf("recreated session should start empty, got %d actions", len(state.Actions))
	}
}

func TestRejoinSameSessionKeepsLog(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()
	ctx := context.Background()
	a, b := newFakeMember("a", 16), newFakeMember("b", 16)
	_ = r.Join(ctx, "s1", a)
	a.expect(t, protocol.EventSessionState)
	if err := r.Dispatch(ctx, "s1", a, drawEnv(t, "#ff0000", 1)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	_ = r.Join(ctx, "s1", b)
	b.expect(t, protocol.EventSessionState)
	a.expect(t, protocol.EventUserJoined)

	if err := r.Join(ctx, "s1", a); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	var state protocol.SessionState
	if err := a.expect(t, protocol.EventSessionState).Bind(&state); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if len(state.Actions) != 1 || state.Cursor != 0 || len(state.Members) != 2 {
		t.Fatalf("rejoin state wrong: %+v", state)
	}
	b.expectNothing(t)

	r.Leave(b)
	a.expect(t, protocol.EventUserLeft)
	if err := r.Join(ctx, "s1", a); err != nil {
		t.Fatalf("rejoin alone: %v", err)
	}
	a.expect(t, protocol.EventSessionState)
	snap, ok := r.Snapshot(ctx, "s1")
	if !ok || len(snap.Actions) != 1 || snap.LastSequence != 1 {
		t.Fatalf("rejoining alone dropped the log: %+v", snap)
	}
}

func TestRecreatedSessionIsNewIncarnation(t *testing.T) {
	var (
		mu     sync.Mutex
		closed []string
	)
	r := NewRegistry(Options{OnSessionClosed: func(id string) {
		mu.Lock()
		closed = append(closed, id)
		mu.Unlock()
	}})
	defer r.Close()
	ctx := context.Background()
	a := newFakeMember("a", 16)
	_ = r.Join(ctx, "s", a)
	_ = r.Dispatch(ctx, "s", a, drawEnv(t, "#ff0000", 1))
	first, _ := r.Snapshot(ctx, "s")
	r.Leave(a)

	_ = r.Join(ctx, "s", a)
	_ = r.Dispatch(ctx, "s", a, drawEnv(t, "#0000ff", 1))
	second, ok := r.Snapshot(ctx, "s")
	if !ok {
		t.Fatalf("recreated session missing")
	}
	if first.Incarnation == "" || first.Incarnation == second.Incarnation {
		t.Fatalf("incarnation not renewed: %q then %q", first.Incarnation, second.Incarnation)
	}
	if first.Revision() == second.Revision() {
		t.Fatalf("recreated board reuses revision %s", first.Revision())
	}
	if first.LastSequence != second.LastSequence || second.Actions[0].Color != "#0000ff" {
		t.Fatalf("unexpected second board %+v", second)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(closed) != 1 || closed[0] != "s" {
		t.Fatalf("expected one close callback for s, got %v", closed)
	}
}

func TestColorChangeAcceptsBareString(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()
	ctx := context.Background()
	a, b := newFakeMember("a", 16), newFakeMember("b", 16)
	_ = r.Join(ctx, "s", a)
	_ = r.Join(ctx, "s", b)
	a.expect(t, protocol.EventSessionState)
	a.expect(t, protocol.EventUserJoined)
	b.expect(t, protocol.EventSessionState)

	env, err := protocol.Decode([]byte(`{"event":"colorChange","data":"#00ff00"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := r.Dispatch(ctx, "s", a, env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var cc protocol.ColorChange
	if err := b.expect(t, protocol.EventColorChange).Bind(&cc); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if cc.Color != "#00ff00" || cc.ClientID != "a" {
		t.Fatalf("unexpected color change %+v", cc)
	}
	a.expectNothing(t)
}

func TestInvalidInputIsRejected(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()
	ctx := context.Background()
	a, b := newFakeMember("a", 16), newFakeMember("b", 16)
	if err := r.Join(ctx, "  ", a); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	if err := r.Dispatch(ctx, "s", a, drawEnv(t, "#000000", 1)); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
	_ = r.Join(ctx, "s", a)
	_ = r.Join(ctx, "s", b)
	a.expect(t, protocol.EventSessionState)
	a.expect(t, protocol.EventUserJoined)
	b.expect(t, protocol.EventSessionState)

	bad, _ := protocol.Decode([]byte(`{"event":"draw","data":{"from":{"x":0,"y":0},"to":{"x":1,"y":1},"color":"#000000","width":-1}}`))
	if err := r.Dispatch(ctx, "s", a, bad); !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	color, _ := protocol.Decode([]byte(`{"event":"colorChange","data":{"color":"blue"}}`))
	if err := r.Dispatch(ctx, "s", a, color); !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for color, got %v", err)
	}
	if err := r.Dispatch(ctx, "s", a, plainEnv(t, protocol.EventUserJoined)); !errors.Is(err, protocol.ErrUnknownEvent) {
		t.Fatalf("expected server-only event to be refused, got %v", err)
	}
	b.expectNothing(t)
	if snap, _ := r.Snapshot(ctx, "s"); len(snap.Actions) != 0 {
		t.Fatalf("rejected input reached the log")
	}
}

func TestSlowMemberIsDisconnected(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()
	ctx := context.Background()
	a := newFakeMember("a", 16)
	slow := newFakeMember("slow", 1)
	_ = r.Join(ctx, "s", a)
	a.expect(t, protocol.EventSessionState)
	_ = r.Join(ctx, "s", slow) // its single slot holds sessionState
	a.expect(t, protocol.EventUserJoined)

	_ = r.Dispatch(ctx, "s", a, drawEnv(t, "#000000", 1))
	var left models.ClientPresence
	if err := a.expect(t, protocol.EventUserLeft).Bind(&left); err != nil || left.ClientID != "slow" {
		t.Fatalf("expected slow member to leave, got %+v %v", left, err)
	}
	if !slow.isClosed() {
		t.Fatalf("slow member not closed")
	}
	if snap, _ := r.Snapshot(ctx, "s"); len(snap.Members) != 1 {
		t.Fatalf("slow member still listed: %+v", snap.Members)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := r.sessionOf(slow); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("slow member still registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type recordingPresence struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPresence) add(ev string) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *recordingPresence) Joined(_ context.Context, id string, m models.ClientPresence) {
	p.add("joined:" + id + ":" + m.ClientID)
}

func (p *recordingPresence) Left(_ context.Context, id string, m models.ClientPresence) {
	p.add("left:" + id + ":" + m.ClientID)
}

func (p *recordingPresence) Closed(_ context.Context, id string) {
	p.add("closed:" + id)
}

func TestPresenceDirectoryIsNotified(t *testing.T) {
	dir := &recordingPresence{}
	r := NewRegistry(Options{Presence: dir})
	ctx := context.Background()
	a := newFakeMember("a", 16)
	_ = r.Join(ctx, "s", a)
	r.Leave(a)
	_ = r.Join(ctx, "s", a)
	r.Close()

	want := []string{"joined:s:a", "left:s:a", "closed:s", "joined:s:a", "closed:s"}
	dir.mu.Lock()
	defer dir.mu.Unlock()
	if len(dir.events) != len(want) {
		t.Fatalf("expected %v, got %v", want, dir.events)
	}
	for i := range want {
		if dir.events[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, dir.events)
		}
	}
}
