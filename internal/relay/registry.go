// Package relay routes board events between the members of a session.
// Every session is owned by one goroutine that applies its events in
// arrival order; distinct sessions run in parallel.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"syncboard/internal/models"
	"syncboard/internal/protocol"
)

const defaultQueueSize = 256

var (
	ErrInvalidSession = errors.New("session id required")
	ErrNotJoined      = errors.New("not a member of the session")
	ErrClosed         = errors.New("registry closed")
	errSessionStopped = errors.New("session stopped")
)

// Member is one connection attached to a session.
type Member interface {
	ID() string
	Username() string
	// Send enqueues a frame without blocking and reports whether it was
	// accepted. A member that cannot keep up is disconnected.
	Send(frame []byte) bool
	Close()
}

type Options struct {
	QueueSize int
	Presence  PresenceDirectory

	// OnSessionClosed runs on the session goroutine once its last member
	// left, before a session with the same id can start again.
	OnSessionClosed func(sessionID string)
}

// Registry maps session ids to live sessions.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*session
	memberOf  map[string]string
	// retiring holds emptied sessions until their goroutine exits.
	retiring  map[string]*session
	queueSize int
	presence  PresenceDirectory
	onClosed  func(string)
	closed    bool
}

// Snapshot is a copy of a session's authoritative state.
type Snapshot struct {
	SessionID    string
	// Incarnation changes every time a session id is started afresh.
	Incarnation  string
	Actions      []models.StrokeSegment
	Cursor       int
	Members      []models.ClientPresence
	LastSequence int64
}

func NewRegistry(opts Options) *Registry {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Presence == nil {
		opts.Presence = nopPresence{}
	}
	return &Registry{
		sessions:  make(map[string]*session),
		memberOf:  make(map[string]string),
		retiring:  make(map[string]*session),
		queueSize: opts.QueueSize,
		presence:  opts.Presence,
		onClosed:  opts.OnSessionClosed,
	}
}

// Join attaches m to sessionID, creating the session on first use. A member
// already in another session leaves it first; joining the current session
// again only resends its state. The joiner receives the full session state;
// everyone else receives userJoined.
func (r *Registry) Join(ctx context.Context, sessionID string, m Member) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidSession
	}
	if current, ok := r.sessionOf(m); ok {
		if current == sessionID {
			if s := r.memberSession(sessionID, m); s != nil {
				return s.submit(ctx, func(s *session) { s.join(m) })
			}
		}
		r.Leave(m)
	}

	s, err := r.ensureSession(sessionID, m)
	if err != nil {
		return err
	}
	if err := s.submit(ctx, func(s *session) { s.join(m) }); err != nil {
		r.leave(m, sessionID, false, false)
		return err
	}
	debugLog("member %s joined session %s", m.ID(), sessionID)
	return nil
}

// Leave detaches m from its session, if any, and notifies the remaining
// members. The session is stopped once its last member is gone.
func (r *Registry) Leave(m Member) {
	sessionID, ok := r.sessionOf(m)
	if !ok {
		return
	}
	r.leave(m, sessionID, true, true)
}

// leave drops the registry bookkeeping for m. notify asks the session
// goroutine to remove m and broadcast userLeft; announce updates the
// presence directory.
func (r *Registry) leave(m Member, sessionID string, notify, announce bool) {
	r.mu.Lock()
	if r.memberOf[m.ID()] != sessionID {
		r.mu.Unlock()
		return
	}
	delete(r.memberOf, m.ID())
	s := r.sessions[sessionID]
	if s == nil {
		r.mu.Unlock()
		return
	}
	s.refs--
	last := s.refs == 0
	if last {
		delete(r.sessions, sessionID)
		select {
		case <-s.done:
		default:
			r.retiring[sessionID] = s
		}
	}
	r.mu.Unlock()

	// Presence updates run on the session goroutine so they stay ordered
	// with the Joined calls of the same session and of its successor.
	p := presenceOf(m, sessionID)
	_ = s.submit(context.Background(), func(s *session) {
		if notify {
			s.leave(m)
		}
		if announce {
			r.presence.Left(context.Background(), sessionID, p)
		}
	})
	if last {
		_ = s.submit(context.Background(), func(s *session) { s.retire() })
		debugLog("session %s emptied and removed", sessionID)
	}
}

// Dispatch validates a mutating event from m and hands it to the session
// goroutine. Validation errors are returned to the caller and nothing is
// broadcast.
func (r *Registry) Dispatch(ctx context.Context, sessionID string, m Member, env protocol.Envelope) error {
	s := r.memberSession(sessionID, m)
	if s == nil {
		return ErrNotJoined
	}
	var apply func(s *session)
	switch env.Event {
	case protocol.EventDraw:
		seg, err := protocol.DecodeSegment(env)
		if err != nil {
			return err
		}
		apply = func(s *session) { s.draw(m, seg) }
	case protocol.EventColorChange:
		cc, err := protocol.DecodeColorChange(env)
		if err != nil {
			return err
		}
		apply = func(s *session) { s.colorChange(m, cc.Color) }
	case protocol.EventUndo, protocol.EventRedo, protocol.EventClearCanvas:
		event := env.Event
		apply = func(s *session) { s.cursorMove(m, event) }
	default:
		return fmt.Errorf("%w: %s is not accepted from clients", protocol.ErrUnknownEvent, env.Event)
	}
	return s.submit(ctx, apply)
}

// Snapshot returns a copy of the session's log, cursor and members.
func (r *Registry) Snapshot(ctx context.Context, sessionID string) (Snapshot, bool) {
	r.mu.Lock()
	s := r.sessions[sessionID]
	r.mu.Unlock()
	if s == nil {
		return Snapshot{}, false
	}
	reply := make(chan Snapshot, 1)
	if err := s.submit(ctx, func(s *session) { reply <- s.snapshot() }); err != nil {
		return Snapshot{}, false
	}
	select {
	case snap := <-reply:
		return snap, true
	case <-s.done:
		return Snapshot{}, false
	case <-ctx.Done():
		return Snapshot{}, false
	}
}

// Sessions summarizes every live session, ordered by id.
func (r *Registry) Sessions(ctx context.Context) []models.BoardInfo {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	out := make([]models.BoardInfo, 0, len(ids))
	for _, id := range ids {
		snap, ok := r.Snapshot(ctx, id)
		if !ok {
			continue
		}
		out = append(out, snap.Info())
	}
	return out
}

// Close disconnects every member and stops all sessions.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*session)
	r.memberOf = make(map[string]string)
	retiring := make([]*session, 0, len(r.retiring))
	for _, s := range r.retiring {
		retiring = append(retiring, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.submit(context.Background(), func(s *session) {
			for _, m := range s.members {
				m.Close()
			}
			s.members = nil
			s.retire()
		})
	}
	for _, s := range sessions {
		<-s.done
	}
	for _, s := range retiring {
		<-s.done
	}
	log.Printf("relay: closed %d sessions", len(sessions))
}

func (r *Registry) sessionOf(m Member) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.memberOf[m.ID()]
	return id, ok
}

func (r *Registry) memberSession(sessionID string, m Member) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.memberOf[m.ID()] != sessionID {
		return nil
	}
	return r.sessions[sessionID]
}

// ensureSession registers m under sessionID and returns the session,
// starting its goroutine when it did not exist yet.
func (r *Registry) ensureSession(sessionID string, m Member) (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		s = newSession(r, sessionID, r.queueSize)
		s.prev = r.retiring[sessionID]
		delete(r.retiring, sessionID)
		r.sessions[sessionID] = s
		go r.runSession(s)
	}
	s.refs++
	r.memberOf[m.ID()] = sessionID
	return s, nil
}

func (r *Registry) runSession(s *session) {
	defer close(s.done)
	defer r.forget(s)
	if s.prev != nil {
		<-s.prev.done
		s.prev = nil
	}
	for task := range s.tasks {
		task(s)
		if s.stopped {
			debugLog("session %s goroutine stopped", s.id)
			return
		}
	}
}

// forget drops s from the retiring set unless a successor already took it.
func (r *Registry) forget(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retiring[s.id] == s {
		delete(r.retiring, s.id)
	}
}

// dropSlow is called from a session goroutine once a member's queue is
// full. Bookkeeping runs on a fresh goroutine because it submits to the
// very session that detected the problem.
func (r *Registry) dropSlow(sessionID string, m Member) {
	log.Printf("relay: member %s too slow in session %s, disconnecting", m.ID(), sessionID)
	m.Close()
	go r.leave(m, sessionID, false, true)
}

func presenceOf(m Member, sessionID string) models.ClientPresence {
	return models.ClientPresence{Username: m.Username(), ClientID: m.ID(), SessionID: sessionID}
}

// Info converts the snapshot into its API view.
func (s Snapshot) Info() models.BoardInfo {
	return models.BoardInfo{
		SessionID:    s.SessionID,
		Incarnation:  s.Incarnation,
		Members:      s.Members,
		Actions:      len(s.Actions),
		Cursor:       s.Cursor,
		LastSequence: s.LastSequence,
	}
}

// Active is the visible prefix of the log.
func (s Snapshot) Active() []models.StrokeSegment {
	n := s.Cursor + 1
	if n <= 0 {
		return nil
	}
	if n > len(s.Actions) {
		n = len(s.Actions)
	}
	return s.Actions[:n]
}

// Revision identifies the visible board. It changes whenever the active
// segments can differ, including when the session id is started afresh.
func (s Snapshot) Revision() string {
	return fmt.Sprintf("%s-%d-%d", s.Incarnation, s.LastSequence, s.Cursor)
}
