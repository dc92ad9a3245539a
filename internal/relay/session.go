package relay

import (
	"context"
	"log"

	"github.com/google/uuid"

	"syncboard/internal/history"
	"syncboard/internal/models"
	"syncboard/internal/protocol"
)

// session is the state of one board. Everything below the channel fields
// is touched only by the session goroutine.
type session struct {
	id          string
	incarnation string
	registry    *Registry
	tasks       chan func(*session)
	done        chan struct{}
	refs        int // guarded by registry.mu

	// prev is the emptied session with the same id; it must stop first.
	prev *session

	members []Member
	log     *history.Manager
	lastSeq int64
	stopped bool
}

func newSession(r *Registry, id string, queueSize int) *session {
	return &session{
		id:          id,
		incarnation: uuid.NewString(),
		registry:    r,
		tasks:       make(chan func(*session), queueSize),
		done:        make(chan struct{}),
		log:         history.NewManager(nil),
	}
}

// submit queues a task for the session goroutine. It blocks while the queue
// is full; events are never dropped.
func (s *session) submit(ctx context.Context, task func(*session)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case s.tasks <- task:
		return nil
	case <-s.done:
		return errSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// join adds m and sends it the session state. A member that is already
// present only gets the state again.
func (s *session) join(m Member) {
	rejoin := s.has(m)
	if !rejoin {
		s.members = append(s.members, m)
	}
	state := protocol.SessionState{
		SessionID: s.id,
		Actions:   s.log.Entries(),
		Cursor:    s.log.Cursor(),
		Members:   s.presences(),
		Self:      presenceOf(m, s.id),
	}
	s.deliver(m, protocol.EventSessionState, state)
	if rejoin {
		return
	}
	s.broadcast(m, protocol.EventUserJoined, presenceOf(m, s.id))
	s.registry.presence.Joined(context.Background(), s.id, presenceOf(m, s.id))
}

// retire stops the session goroutine after the last member left.
func (s *session) retire() {
	s.registry.presence.Closed(context.Background(), s.id)
	if s.registry.onClosed != nil {
		s.registry.onClosed(s.id)
	}
	s.stopped = true
}

func (s *session) leave(m Member) {
	if !s.remove(m) {
		return
	}
	s.broadcast(m, protocol.EventUserLeft, presenceOf(m, s.id))
}

func (s *session) draw(from Member, seg models.StrokeSegment) {
	if !s.has(from) {
		return
	}
	s.lastSeq++
	seg.SessionID = s.id
	seg.SequenceID = s.lastSeq
	seg.ClientID = from.ID()
	s.log.Append(seg)
	s.broadcast(from, protocol.EventDraw, seg)
}

func (s *session) colorChange(from Member, color models.Color) {
	if !s.has(from) {
		return
	}
	s.broadcast(from, protocol.EventColorChange, protocol.ColorChange{Color: color, ClientID: from.ID()})
}

// cursorMove mirrors a client's undo, redo or clear on the authoritative
// log so late joiners get the cursor the others are looking at.
func (s *session) cursorMove(from Member, event string) {
	if !s.has(from) {
		return
	}
	switch event {
	case protocol.EventUndo:
		s.log.Undo()
	case protocol.EventRedo:
		s.log.Redo()
	case protocol.EventClearCanvas:
		s.log.ClearView()
	}
	s.broadcast(from, event, protocol.Origin{ClientID: from.ID()})
}

func (s *session) snapshot() Snapshot {
	return Snapshot{
		SessionID:    s.id,
		Incarnation:  s.incarnation,
		Actions:      s.log.Entries(),
		Cursor:       s.log.Cursor(),
		Members:      s.presences(),
		LastSequence: s.lastSeq,
	}
}

// broadcast sends to every member except the origin.
func (s *session) broadcast(origin Member, event string, payload interface{}) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.Printf("relay: %v", err)
		return
	}
	var slow []Member
	for _, m := range s.members {
		if origin != nil && m.ID() == origin.ID() {
			continue
		}
		if !m.Send(frame) {
			slow = append(slow, m)
		}
	}
	for _, m := range slow {
		s.drop(m)
	}
}

func (s *session) deliver(m Member, event string, payload interface{}) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.Printf("relay: %v", err)
		return
	}
	if !m.Send(frame) {
		s.drop(m)
	}
}

func (s *session) drop(m Member) {
	if !s.remove(m) {
		return
	}
	s.registry.dropSlow(s.id, m)
	s.broadcast(m, protocol.EventUserLeft, presenceOf(m, s.id))
}

func (s *session) remove(m Member) bool {
	for i, existing := range s.members {
		if existing.ID() == m.ID() {
			s.members = append(s.members[:i], s.members[i+1:]...)
			return true
		}
	}
	return false
}

func (s *session) has(m Member) bool {
	for _, existing := range s.members {
		if existing.ID() == m.ID() {
			return true
		}
	}
	return false
}

func (s *session) presences() []models.ClientPresence {
	out := make([]models.ClientPresence, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, presenceOf(m, s.id))
	}
	return out
}
