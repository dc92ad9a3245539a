package client

import (
	"errors"
	"fmt"

	"syncboard/internal/canvas"
	"syncboard/internal/history"
	"syncboard/internal/models"
)

const (
	DefaultStrokeWidth = 5
	DefaultEraserWidth = 25
)

var (
	ErrStrokeInProgress = errors.New("stroke already in progress")
	ErrInvalidPoint     = errors.New("point is not finite")
	ErrInvalidColor     = errors.New("invalid color")
)

// Controller turns pointer input into stroke segments. Each segment is drawn
// on the surface, appended to history and then handed to emit, in that order.
type Controller struct {
	surface canvas.Surface
	history *history.Manager
	emit    func(models.StrokeSegment)

	drawing      bool
	color        models.Color
	eraserActive bool
	lastPoint    models.Point
	strokeWidth  float64
	eraserWidth  float64
}

// NewController wires a controller. emit may be nil for offline drawing.
func NewController(surface canvas.Surface, hist *history.Manager, emit func(models.StrokeSegment), strokeWidth, eraserWidth float64) *Controller {
	if strokeWidth <= 0 {
		strokeWidth = DefaultStrokeWidth
	}
	if eraserWidth <= 0 {
		eraserWidth = DefaultEraserWidth
	}
	return &Controller{
		surface:     surface,
		history:     hist,
		emit:        emit,
		color:       models.DefaultColor,
		strokeWidth: strokeWidth,
		eraserWidth: eraserWidth,
	}
}

// BeginStroke starts a stroke at p and emits a dot there.
func (c *Controller) BeginStroke(p models.Point) error {
	if c.drawing {
		return ErrStrokeInProgress
	}
	if !p.Finite() {
		return ErrInvalidPoint
	}
	c.drawing = true
	c.lastPoint = p
	c.segment(p, p)
	return nil
}

// ExtendStroke continues the stroke to p. Without an active stroke it does
// nothing.
func (c *Controller) ExtendStroke(p models.Point) {
	if !c.drawing || !p.Finite() {
		return
	}
	c.segment(c.lastPoint, p)
	c.lastPoint = p
}

func (c *Controller) EndStroke() {
	c.drawing = false
	if r, ok := c.surface.(canvas.PathResetter); ok {
		r.ResetPath()
	}
}

func (c *Controller) segment(from, to models.Point) {
	seg := models.StrokeSegment{
		From:  from,
		To:    to,
		Color: c.color,
		Width: c.strokeWidth,
	}
	if c.eraserActive {
		seg.Color = models.EraseColor
		seg.Width = c.eraserWidth
		seg.Erase = true
	}
	if c.surface != nil {
		c.surface.DrawSegment(seg.From, seg.To, seg.Color, seg.Width)
	}
	c.history.Append(seg)
	if c.emit != nil {
		c.emit(seg)
	}
}

func (c *Controller) SetColor(color models.Color) error {
	if !color.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidColor, color)
	}
	c.color = color
	return nil
}

// ToggleEraser flips eraser mode and returns the new state.
func (c *Controller) ToggleEraser() bool {
	c.eraserActive = !c.eraserActive
	if c.surface != nil {
		if c.eraserActive {
			c.surface.SetCursorStyle(canvas.CursorEraser)
		} else {
			c.surface.SetCursorStyle(canvas.CursorCrosshair)
		}
	}
	return c.eraserActive
}

func (c *Controller) Color() models.Color { return c.color }
func (c *Controller) EraserActive() bool  { return c.eraserActive }
func (c *Controller) Drawing() bool       { return c.drawing }
