package canvas

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"

	"syncboard/internal/models"
)

// ExportOptions sizes the exported page.
type ExportOptions struct {
	Width      int
	Height     int
	Background models.Color
}

func (o ExportOptions) normalized() ExportOptions {
	if o.Width <= 0 {
		o.Width = 800
	}
	if o.Height <= 0 {
		o.Height = 600
	}
	if !o.Background.Valid() {
		o.Background = models.EraseColor
	}
	return o
}

// ExportPNG rasterizes segments in order and writes a PNG image.
func ExportPNG(w io.Writer, opts ExportOptions, segments []models.StrokeSegment) error {
	opts = opts.normalized()
	r := NewRaster(opts.Width, opts.Height, opts.Background)
	defer r.Close()
	for _, seg := range segments {
		r.DrawSegment(seg.From, seg.To, seg.Color, seg.Width)
	}
	if err := r.Err(); err != nil {
		return err
	}
	return r.EncodePNG(w)
}

// ExportPDF writes segments as vector lines on a single page whose size in
// points matches the board size in pixels.
func ExportPDF(w io.Writer, opts ExportOptions, segments []models.StrokeSegment) error {
	opts = opts.normalized()
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: float64(opts.Width), Ht: float64(opts.Height)},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	br, bg, bb, _ := opts.Background.RGB()
	pdf.SetFillColor(int(br), int(bg), int(bb))
	pdf.Rect(0, 0, float64(opts.Width), float64(opts.Height), "F")
	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")

	for _, seg := range segments {
		if !seg.From.Finite() || !seg.To.Finite() || seg.Width <= 0 {
			continue
		}
		r, g, b, ok := seg.Color.RGB()
		if !ok {
			r, g, b, _ = models.DefaultColor.RGB()
		}
		if seg.From == seg.To {
			pdf.SetFillColor(int(r), int(g), int(b))
			pdf.Circle(seg.To.X, seg.To.Y, seg.Width/2, "F")
			continue
		}
		pdf.SetDrawColor(int(r), int(g), int(b))
		pdf.SetLineWidth(seg.Width)
		pdf.Line(seg.From.X, seg.From.Y, seg.To.X, seg.To.Y)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
