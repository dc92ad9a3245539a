package canvas

import (
	"sync"

	"syncboard/internal/models"
)

// OpKind names a recorded surface call.
type OpKind string

const (
	OpClear     OpKind = "clear"
	OpDraw      OpKind = "draw"
	OpCursor    OpKind = "cursor"
	OpResetPath OpKind = "resetPath"
)

type Op struct {
	Kind   OpKind
	From   models.Point
	To     models.Point
	Color  models.Color
	Width  float64
	Cursor CursorStyle
}

// Recorder is a headless surface that keeps every call it receives.
type Recorder struct {
	mu  sync.Mutex
	ops []Op
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Clear() {
	r.record(Op{Kind: OpClear})
}

func (r *Recorder) DrawSegment(from, to models.Point, color models.Color, width float64) {
	r.record(Op{Kind: OpDraw, From: from, To: to, Color: color, Width: width})
}

func (r *Recorder) SetCursorStyle(style CursorStyle) {
	r.record(Op{Kind: OpCursor, Cursor: style})
}

func (r *Recorder) ResetPath() {
	r.record(Op{Kind: OpResetPath})
}

func (r *Recorder) record(op Op) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

// Ops returns a copy of the recorded calls.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Op, len(r.ops))
	copy(out, r.ops)
	return out
}

// Visible returns the draw calls issued since the last clear, which is what
// a real surface would currently show.
func (r *Recorder) Visible() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Op
	for _, op := range r.ops {
		switch op.Kind {
		case OpClear:
			out = out[:0]
		case OpDraw:
			out = append(out, op)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.ops = nil
	r.mu.Unlock()
}
