package canvas

import "syncboard/internal/models"

// CursorStyle selects the pointer shown over the board.
type CursorStyle int

const (
	CursorCrosshair CursorStyle = iota
	CursorEraser
)

func (s CursorStyle) String() string {
	if s == CursorEraser {
		return "eraser"
	}
	return "crosshair"
}

// Surface is the rendering capability the drawing engine paints on.
type Surface interface {
	Clear()
	DrawSegment(from, to models.Point, color models.Color, width float64)
	SetCursorStyle(style CursorStyle)
}

// PathResetter is implemented by surfaces that keep an open path between
// segments of the same stroke.
type PathResetter interface {
	ResetPath()
}
