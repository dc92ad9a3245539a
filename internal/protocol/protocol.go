// Package protocol defines the JSON envelopes exchanged between board
// clients and the relay.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"syncboard/internal/models"
)

// Event names on the wire.
const (
	EventJoinSession  = "joinSession"
	EventLeaveSession = "leaveSession"
	EventSessionState = "sessionState"
	EventDraw         = "draw"
	EventColorChange  = "colorChange"
	EventUndo         = "undo"
	EventRedo         = "redo"
	EventClearCanvas  = "clearCanvas"
	EventUserJoined   = "userJoined"
	EventUserLeft     = "userLeft"
	EventError        = "error"
)

var (
	ErrMalformed    = errors.New("malformed message")
	ErrUnknownEvent = errors.New("unknown event")
)

var knownEvents = map[string]struct{}{
	EventJoinSession:  {},
	EventLeaveSession: {},
	EventSessionState: {},
	EventDraw:         {},
	EventColorChange:  {},
	EventUndo:         {},
	EventRedo:         {},
	EventClearCanvas:  {},
	EventUserJoined:   {},
	EventUserLeft:     {},
	EventError:        {},
}

// Envelope is one framed message. Data is decoded lazily with Bind.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload asks the relay to attach the connection to a session.
type JoinPayload struct {
	SessionID string `json:"sessionId"`
}

// SessionState is the snapshot a joiner receives.
type SessionState struct {
	SessionID string                  `json:"sessionId"`
	Actions   []models.StrokeSegment  `json:"actions"`
	Cursor    int                     `json:"cursor"`
	Members   []models.ClientPresence `json:"members"`
	Self      models.ClientPresence   `json:"self"`
}

type ColorChange struct {
	Color    models.Color `json:"color"`
	ClientID string       `json:"clientId,omitempty"`
}

// Origin carries the originating client of undo, redo and clear events.
// Clients leave it empty; the relay fills it in.
type Origin struct {
	ClientID string `json:"clientId,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode frames payload under event. A nil payload produces no data field.
func Encode(event string, payload interface{}) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = raw
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return out, nil
}

// Decode parses a frame and checks the event name.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	if _, ok := knownEvents[env.Event]; !ok {
		return env, fmt.Errorf("%w: %s", ErrUnknownEvent, env.Event)
	}
	return env, nil
}

// Bind decodes the payload into v.
func (e Envelope) Bind(v interface{}) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return fmt.Errorf("%w: %s without data", ErrMalformed, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, e.Event, err)
	}
	return nil
}

// DecodeJoin accepts either {"sessionId": "..."} or a bare JSON string.
func DecodeJoin(e Envelope) (string, error) {
	var id string
	if err := json.Unmarshal(e.Data, &id); err != nil {
		var p JoinPayload
		if err := e.Bind(&p); err != nil {
			return "", err
		}
		id = p.SessionID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty session id", ErrMalformed)
	}
	return id, nil
}

// DecodeColorChange accepts either a bare color string or a ColorChange
// object and validates the color.
func DecodeColorChange(e Envelope) (ColorChange, error) {
	var cc ColorChange
	var bare string
	if err := json.Unmarshal(e.Data, &bare); err == nil {
		cc.Color = models.Color(strings.TrimSpace(bare))
	} else if err := e.Bind(&cc); err != nil {
		return cc, err
	}
	if !cc.Color.Valid() {
		return cc, fmt.Errorf("%w: invalid color %q", ErrMalformed, cc.Color)
	}
	return cc, nil
}

// DecodeSegment binds and validates a draw payload.
func DecodeSegment(e Envelope) (models.StrokeSegment, error) {
	var seg models.StrokeSegment
	if err := e.Bind(&seg); err != nil {
		return seg, err
	}
	if !seg.From.Finite() || !seg.To.Finite() {
		return seg, fmt.Errorf("%w: non-finite coordinates", ErrMalformed)
	}
	if seg.Width <= 0 {
		return seg, fmt.Errorf("%w: width must be positive", ErrMalformed)
	}
	if !seg.Color.Valid() {
		return seg, fmt.Errorf("%w: invalid color %q", ErrMalformed, seg.Color)
	}
	return seg, nil
}
