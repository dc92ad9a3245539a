package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"syncboard/internal/canvas"
	"syncboard/internal/models"
)

type Format string

const (
	FormatPNG Format = "png"
	FormatPDF Format = "pdf"
)

var (
	ErrDispatcherBusy = errors.New("render queue full")
	ErrClosed         = errors.New("render pool closed")
	ErrCanceled       = errors.New("render canceled")
	ErrUnknownFormat  = errors.New("unknown render format")
)

// RenderTask asks for a picture of a board's active segments.
type RenderTask struct {
	SessionID string
	Segments  []models.StrokeSegment
	Format    Format
	Options   canvas.ExportOptions
	// Revision names the board state being drawn. Tasks carrying one may
	// be answered from the render cache.
	Revision string
}

type RenderResult struct {
	SessionID   string
	Format      Format
	ContentType string
	Data        []byte
}

// renderFunc is swapped out by tests.
var renderFunc = render

func render(ctx context.Context, task RenderTask) (RenderResult, error) {
	if err := ctx.Err(); err != nil {
		return RenderResult{}, err
	}
	var buf bytes.Buffer
	res := RenderResult{SessionID: task.SessionID, Format: task.Format}
	switch task.Format {
	case FormatPNG:
		if err := canvas.ExportPNG(&buf, task.Options, task.Segments); err != nil {
			return res, fmt.Errorf("render %s png: %w", task.SessionID, err)
		}
		res.ContentType = "image/png"
	case FormatPDF:
		if err := canvas.ExportPDF(&buf, task.Options, task.Segments); err != nil {
			return res, fmt.Errorf("render %s pdf: %w", task.SessionID, err)
		}
		res.ContentType = "application/pdf"
	default:
		return res, fmt.Errorf("%w: %q", ErrUnknownFormat, task.Format)
	}
	res.Data = buf.Bytes()
	return res, nil
}
