package relay

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"syncboard/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Peer is a websocket connection taking part in at most one session.
type Peer struct {
	id       string
	username string
	conn     *websocket.Conn
	registry *Registry
	send     chan []byte
	done     chan struct{}
	once     sync.Once

	// owned by the read pump
	sessionID string
}

// NewPeer wraps an upgraded connection. A fresh client id is assigned.
func NewPeer(conn *websocket.Conn, registry *Registry, username string, bufferSize int) *Peer {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	id := uuid.NewString()
	if username == "" {
		username = "guest-" + id[:8]
	}
	return &Peer{
		id:       id,
		username: username,
		conn:     conn,
		registry: registry,
		send:     make(chan []byte, bufferSize),
		done:     make(chan struct{}),
	}
}

func (p *Peer) ID() string       { return p.id }
func (p *Peer) Username() string { return p.username }

// Send queues a frame for the write pump. It never blocks.
func (p *Peer) Send(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which in turn closes the connection.
func (p *Peer) Close() {
	p.once.Do(func() { close(p.done) })
}

// Serve runs both pumps and returns once the connection is gone. The peer
// leaves its session on the way out.
func (p *Peer) Serve(ctx context.Context) {
	go p.writePump()
	p.readPump(ctx)
	p.registry.Leave(p)
	p.Close()
}

func (p *Peer) readPump(ctx context.Context) {
	defer p.conn.Close()
	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("relay: peer %s read failed: %v", p.id, err)
			}
			return
		}
		p.handle(ctx, frame)
	}
}

func (p *Peer) handle(ctx context.Context, frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		p.reject(err)
		return
	}
	switch env.Event {
	case protocol.EventJoinSession:
		id, err := protocol.DecodeJoin(env)
		if err != nil {
			p.reject(err)
			return
		}
		if err := p.registry.Join(ctx, id, p); err != nil {
			p.reject(err)
			return
		}
		p.sessionID = id
	case protocol.EventLeaveSession:
		p.registry.Leave(p)
		p.sessionID = ""
	default:
		if p.sessionID == "" {
			p.reject(ErrNotJoined)
			return
		}
		if err := p.registry.Dispatch(ctx, p.sessionID, p, env); err != nil {
			if errors.Is(err, ErrNotJoined) {
				p.sessionID = ""
			}
			p.reject(err)
		}
	}
}

// reject answers a bad frame with an error event; the frame itself is dropped.
func (p *Peer) reject(err error) {
	debugLog("peer %s: %v", p.id, err)
	frame, encErr := protocol.Encode(protocol.EventError, protocol.ErrorPayload{Message: err.Error()})
	if encErr != nil {
		return
	}
	p.Send(frame)
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()
	for {
		select {
		case frame := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("relay: peer %s write failed: %v", p.id, err)
				p.Close()
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.Close()
				return
			}
		case <-p.done:
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
