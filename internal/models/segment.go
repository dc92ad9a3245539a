package models

import (
	"math"
	"strconv"
	"strings"
)

// Point is a position in surface coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Finite reports whether both coordinates are usable numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Color is a "#rrggbb" pen color.
type Color string

// EraseColor is the background color the eraser paints with.
const EraseColor Color = "#ffffff"

const DefaultColor Color = "#000000"

// RGB parses the color. Short "#rgb" forms are expanded.
func (c Color) RGB() (r, g, b uint8, ok bool) {
	s := strings.TrimPrefix(string(c), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), true
}

func (c Color) Valid() bool {
	if !strings.HasPrefix(string(c), "#") {
		return false
	}
	_, _, _, ok := c.RGB()
	return ok
}

// StrokeSegment is one atomic drawing event. To is the segment's position;
// From makes every segment self-contained so replays never join strokes.
type StrokeSegment struct {
	From       Point   `json:"from"`
	To         Point   `json:"to"`
	Color      Color   `json:"color"`
	Width      float64 `json:"width"`
	Erase      bool    `json:"erase,omitempty"`
	SessionID  string  `json:"sessionId"`
	SequenceID int64   `json:"sequenceId"`
	ClientID   string  `json:"clientId,omitempty"`
}
