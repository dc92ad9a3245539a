package history

import (
	"testing"

	"syncboard/internal/canvas"
	"syncboard/internal/models"
)

func seg(x float64) models.StrokeSegment {
	return models.StrokeSegment{
		From:  models.Point{X: x, Y: 0},
		To:    models.Point{X: x, Y: 1},
		Color: "#000000",
		Width: 5,
	}
}

func TestAppendTruncatesUndoneTail(t *testing.T) {
	m := NewManager(nil)
	for i := 0; i < 5; i++ {
		m.Append(seg(float64(i)))
	}
	m.Undo()
	m.Undo()
	if m.Cursor() != 2 {
		t.Fatalf("expected cursor 2, got %d", m.Cursor())
	}
	m.Append(seg(9))
	if m.Len() != 4 || m.Cursor() != 3 {
		t.Fatalf("expected len 4 cursor 3, got len %d cursor %d", m.Len(), m.Cursor())
	}
	if got := m.Entries()[3].From.X; got != 9 {
		t.Fatalf("expected appended entry last, got x=%v", got)
	}
}

func TestUndoRedoBounds(t *testing.T) {
	m := NewManager(nil)
	if m.Undo() || m.Redo() {
		t.Fatalf("empty history must not move")
	}
	m.Append(seg(1))
	if m.Undo() {
		t.Fatalf("first entry must not be undoable")
	}
	if m.Redo() {
		t.Fatalf("redo at tip must be a no-op")
	}
	m.Append(seg(2))
	if !m.Undo() || m.Cursor() != 0 {
		t.Fatalf("undo failed, cursor %d", m.Cursor())
	}
	if m.Undo() {
		t.Fatalf("undo below zero")
	}
	if !m.Redo() || m.Cursor() != 1 {
		t.Fatalf("redo failed, cursor %d", m.Cursor())
	}
	if m.CanRedo() || !m.CanUndo() {
		t.Fatalf("unexpected can-undo/redo state")
	}
}

func TestThreeDrawsTwoUndosThenDraw(t *testing.T) {
	m := NewManager(canvas.NewRecorder())
	m.Append(seg(1))
	m.Append(seg(2))
	m.Append(seg(3))
	m.Undo()
	m.Undo()
	m.Append(seg(4))
	if m.Len() != 2 || m.Cursor() != 1 {
		t.Fatalf("expected len 2 cursor 1, got %d %d", m.Len(), m.Cursor())
	}
	active := m.Active()
	if active[0].From.X != 1 || active[1].From.X != 4 {
		t.Fatalf("unexpected active entries %+v", active)
	}
}

func TestClearViewKeepsEntries(t *testing.T) {
	rec := canvas.NewRecorder()
	m := NewManager(rec)
	m.Append(seg(1))
	m.Append(seg(2))
	m.ClearView()
	if m.Len() != 2 || m.Cursor() != -1 {
		t.Fatalf("expected len 2 cursor -1, got %d %d", m.Len(), m.Cursor())
	}
	if len(rec.Visible()) != 0 {
		t.Fatalf("surface not cleared")
	}
	if m.Undo() {
		t.Fatalf("undo after clear must be a no-op")
	}
	if !m.Redo() || len(rec.Visible()) != 1 {
		t.Fatalf("redo after clear should show the first entry")
	}
	m.Append(seg(3))
	if m.Len() != 2 {
		t.Fatalf("append after clear should truncate, len %d", m.Len())
	}
}

func TestReplayIsIdempotent(t *testing.T) {
	rec := canvas.NewRecorder()
	m := NewManager(rec)
	for i := 0; i < 4; i++ {
		m.Append(seg(float64(i)))
	}
	m.Replay(2)
	first := rec.Visible()
	m.Replay(2)
	second := rec.Visible()
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 visible segments, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("replay differs at %d", i)
		}
	}
}

func TestLoadClampsCursor(t *testing.T) {
	rec := canvas.NewRecorder()
	m := NewManager(rec)
	m.Load([]models.StrokeSegment{seg(1), seg(2)}, 7)
	if m.Cursor() != 1 {
		t.Fatalf("expected clamped cursor 1, got %d", m.Cursor())
	}
	if len(rec.Visible()) != 2 {
		t.Fatalf("load should replay the active prefix")
	}
	m.Load(nil, -1)
	if m.Len() != 0 || m.Cursor() != -1 {
		t.Fatalf("expected empty history")
	}
}

func TestJoinReplayMatchesLivePixels(t *testing.T) {
	live := canvas.NewRaster(60, 60, models.EraseColor)
	defer live.Close()
	lm := NewManager(live)
	segs := []models.StrokeSegment{
		{From: models.Point{X: 5, Y: 5}, To: models.Point{X: 50, Y: 50}, Color: "#ff0000", Width: 5},
		{From: models.Point{X: 50, Y: 5}, To: models.Point{X: 5, Y: 50}, Color: "#0000ff", Width: 5},
		{From: models.Point{X: 30, Y: 10}, To: models.Point{X: 30, Y: 10}, Color: "#ffffff", Width: 25, Erase: true},
	}
	for _, s := range segs {
		live.DrawSegment(s.From, s.To, s.Color, s.Width)
		lm.Append(s)
	}

	late := canvas.NewRaster(60, 60, models.EraseColor)
	defer late.Close()
	NewManager(late).Load(lm.Entries(), lm.Cursor())

	a, b := live.Image(), late.Image()
	for y := 0; y < 60; y++ {
		for x := 0; x < 60; x++ {
			r1, g1, b1, a1 := a.At(x, y).RGBA()
			r2, g2, b2, a2 := b.At(x, y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				t.Fatalf("pixel (%d,%d) differs after replay", x, y)
			}
		}
	}
}
