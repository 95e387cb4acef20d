// Package testutil provides testing utilities and helpers for the ticketpress job system.
package testutil

import (
	"time"

	"github.com/ticketpress/ticketpress/internal/core"
	"github.com/ticketpress/ticketpress/internal/domain/model"
)

// TicketMarkup is a minimal allow-listed SVG template sized to match the
// default crop produced by NewSpec.
const TicketMarkup = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 80">` +
	`<rect x="1" y="1" width="198" height="78" fill="none" stroke="#000"/>` +
	`<path d="M10 10 L190 70" stroke="#000"/></svg>`

// SpecBuilder provides a fluent interface for building VectorJobSpec values
// for testing.
type SpecBuilder struct {
	spec model.VectorJobSpec
}

// NewSpec creates a SpecBuilder with a small valid spec: one series with two
// slots, four tickets per A4 page, two pages.
func NewSpec() *SpecBuilder {
	return &SpecBuilder{
		spec: model.VectorJobSpec{
			SourceDocumentKey: "sources/test.svg",
			TicketCrop:        model.TicketCrop{X: 0, Y: 0, Width: 200, Height: 80},
			Layout: model.LayoutSpec{
				PageSize:      "A4",
				RepeatPerPage: 4,
				TotalPages:    2,
				Scale:         1,
			},
			Series: []model.SeriesSpec{
				{
					ID:       "main",
					Prefix:   "A",
					Start:    1,
					Step:     1,
					Font:     "Helvetica",
					FontSize: 10,
					Slots: []model.CanvasPoint{
						{X: 20, Y: 20},
						{X: 20, Y: 40},
					},
				},
			},
		},
	}
}

// WithSourceKey sets the source document key.
func (b *SpecBuilder) WithSourceKey(key string) *SpecBuilder {
	b.spec.SourceDocumentKey = key
	return b
}

// WithCrop sets the ticket crop region.
func (b *SpecBuilder) WithCrop(crop model.TicketCrop) *SpecBuilder {
	b.spec.TicketCrop = crop
	return b
}

// WithLayout sets the layout.
func (b *SpecBuilder) WithLayout(layout model.LayoutSpec) *SpecBuilder {
	b.spec.Layout = layout
	return b
}

// WithPages sets the total page count.
func (b *SpecBuilder) WithPages(pages int) *SpecBuilder {
	b.spec.Layout.TotalPages = pages
	return b
}

// WithRepeatPerPage sets the tickets-per-page count.
func (b *SpecBuilder) WithRepeatPerPage(n int) *SpecBuilder {
	b.spec.Layout.RepeatPerPage = n
	return b
}

// WithSeries replaces the series list.
func (b *SpecBuilder) WithSeries(series ...model.SeriesSpec) *SpecBuilder {
	b.spec.Series = series
	return b
}

// WithWatermarks replaces the watermark list.
func (b *SpecBuilder) WithWatermarks(wms ...model.WatermarkSpec) *SpecBuilder {
	b.spec.Watermarks = wms
	return b
}

// Build returns the constructed spec.
func (b *SpecBuilder) Build() model.VectorJobSpec {
	return b.spec
}

// TextWatermark creates a translucent rotated text watermark.
func TextWatermark(value string) model.WatermarkSpec {
	return model.WatermarkSpec{
		ID:       "wm-" + value,
		Type:     model.WatermarkText,
		Value:    value,
		Opacity:  0.2,
		Rotate:   45,
		Position: model.CanvasPoint{X: 100, Y: 40},
	}
}

// CreateParams wraps a spec into repository creation parameters with a fixed
// digest placeholder unless one is supplied.
func CreateParams(spec model.VectorJobSpec, digest string) core.CreateJobParams {
	if digest == "" {
		digest = "0000000000000000000000000000000000000000000000000000000000000000"
	}
	return core.CreateJobParams{
		Spec:        spec,
		SVGDigest:   digest,
		MaxAttempts: 3,
	}
}

// FailParams builds retryable failure parameters with a short backoff.
func FailParams(id, msg string) core.FailJobParams {
	return core.FailJobParams{
		ID:      id,
		ErrMsg:  msg,
		Backoff: 10 * time.Millisecond,
	}
}

// TerminalFailParams builds terminal failure parameters.
func TerminalFailParams(id, msg string) core.FailJobParams {
	return core.FailJobParams{
		ID:       id,
		ErrMsg:   msg,
		Terminal: true,
	}
}
