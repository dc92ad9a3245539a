package canvas

import (
	"fmt"
	"image"
	"io"
	"log"
	"sync"

	"github.com/gogpu/gg"

	"syncboard/internal/models"
)

// Raster is a software surface backed by a gg drawing context.
type Raster struct {
	mu         sync.Mutex
	dc         *gg.Context
	background models.Color
	cursor     CursorStyle
	err        error
}

// NewRaster allocates a width x height surface filled with background.
func NewRaster(width, height int, background models.Color) *Raster {
	if !background.Valid() {
		background = models.EraseColor
	}
	r := &Raster{
		dc:         gg.NewContext(width, height),
		background: background,
	}
	r.dc.SetLineCap(gg.LineCapRound)
	r.dc.SetLineJoin(gg.LineJoinRound)
	r.dc.ClearWithColor(gg.Hex(string(background)))
	return r
}

func (r *Raster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dc.ClearPath()
	r.dc.ClearWithColor(gg.Hex(string(r.background)))
}

// DrawSegment strokes a round-capped line. A zero-length segment is a dot.
func (r *Raster) DrawSegment(from, to models.Point, color models.Color, width float64) {
	if !from.Finite() || !to.Finite() || width <= 0 {
		return
	}
	if !color.Valid() {
		color = models.DefaultColor
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dc.SetHexColor(string(color))
	var err error
	if from == to {
		r.dc.DrawCircle(to.X, to.Y, width/2)
		err = r.dc.Fill()
	} else {
		r.dc.SetLineWidth(width)
		r.dc.DrawLine(from.X, from.Y, to.X, to.Y)
		err = r.dc.Stroke()
	}
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("draw segment: %w", err)
		log.Printf("canvas: %v", r.err)
	}
}

func (r *Raster) SetCursorStyle(style CursorStyle) {
	r.mu.Lock()
	r.cursor = style
	r.mu.Unlock()
}

// ResetPath drops any partially built path.
func (r *Raster) ResetPath() {
	r.mu.Lock()
	r.dc.ClearPath()
	r.mu.Unlock()
}

// CursorStyle reports the last style set.
func (r *Raster) CursorStyle() CursorStyle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Image returns a copy of the current pixels.
func (r *Raster) Image() image.Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dc.Image()
}

func (r *Raster) EncodePNG(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.dc.EncodePNG(w); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// Err returns the first rendering error, if any.
func (r *Raster) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Raster) Close() error {
	return r.dc.Close()
}
