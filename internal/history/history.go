// Package history keeps the ordered action log of one board together with
// the undo cursor. A Manager is not safe for concurrent use; it is owned by
// a single goroutine (the client loop or the relay session).
package history

import (
	"syncboard/internal/canvas"
	"syncboard/internal/models"
)

// Manager owns the action log and the cursor pointing at the last active
// entry. cursor is -1 when nothing is active.
type Manager struct {
	entries []models.StrokeSegment
	cursor  int
	surface canvas.Surface
}

// NewManager builds an empty history. surface may be nil for headless use.
func NewManager(surface canvas.Surface) *Manager {
	return &Manager{cursor: -1, surface: surface}
}

// Append records a new action, discarding any undone tail first.
func (m *Manager) Append(seg models.StrokeSegment) {
	m.entries = append(m.entries[:m.cursor+1], seg)
	m.cursor = len(m.entries) - 1
}

// Undo steps the cursor back by one and redraws. It reports whether the
// cursor moved; the first entry can never be undone.
func (m *Manager) Undo() bool {
	if m.cursor <= 0 {
		return false
	}
	m.cursor--
	m.Replay(m.cursor)
	return true
}

// Redo steps the cursor forward by one and redraws.
func (m *Manager) Redo() bool {
	if m.cursor >= len(m.entries)-1 {
		return false
	}
	m.cursor++
	m.Replay(m.cursor)
	return true
}

// Replay clears the surface and draws entries[0..upto] in order.
func (m *Manager) Replay(upto int) {
	if m.surface == nil {
		return
	}
	m.surface.Clear()
	if upto >= len(m.entries) {
		upto = len(m.entries) - 1
	}
	for i := 0; i <= upto; i++ {
		seg := m.entries[i]
		m.surface.DrawSegment(seg.From, seg.To, seg.Color, seg.Width)
	}
}

// ClearView blanks the surface and deactivates every entry. The entries
// stay so later undo/redo moves on peers keep the same indices.
func (m *Manager) ClearView() {
	m.cursor = -1
	if m.surface != nil {
		m.surface.Clear()
	}
}

// Load replaces the history with a session snapshot and redraws it.
func (m *Manager) Load(entries []models.StrokeSegment, cursor int) {
	m.entries = append(m.entries[:0:0], entries...)
	if cursor >= len(m.entries) {
		cursor = len(m.entries) - 1
	}
	if cursor < -1 {
		cursor = -1
	}
	m.cursor = cursor
	m.Replay(m.cursor)
}

func (m *Manager) Len() int {
	return len(m.entries)
}

func (m *Manager) Cursor() int {
	return m.cursor
}

// Entries returns a copy of the whole log, including undone entries.
func (m *Manager) Entries() []models.StrokeSegment {
	out := make([]models.StrokeSegment, len(m.entries))
	copy(out, m.entries)
	return out
}

// Active returns a copy of entries[0..cursor].
func (m *Manager) Active() []models.StrokeSegment {
	out := make([]models.StrokeSegment, m.cursor+1)
	copy(out, m.entries[:m.cursor+1])
	return out
}

func (m *Manager) CanUndo() bool {
	return m.cursor > 0
}

func (m *Manager) CanRedo() bool {
	return m.cursor < len(m.entries)-1
}
