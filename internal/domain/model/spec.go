package model

import (
	"fmt"
	"math"

	"github.com/ticketpress/ticketpress/internal/geometry"
	"github.com/ticketpress/ticketpress/internal/svg"
)

// CanvasPoint is a position in the editor's canvas space: origin top-left,
// Y growing downward, pixel units.
type CanvasPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TicketCrop selects the region of the source document that carries the
// ticket artwork.
type TicketCrop struct {
	PageIndex int     `json:"pageIndex"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

// LayoutSpec fixes the output page geometry. Scale converts canvas pixels to
// PDF points; zero means the identity scale.
type LayoutSpec struct {
	PageSize      string  `json:"pageSize"`
	RepeatPerPage int     `json:"repeatPerPage"`
	TotalPages    int     `json:"totalPages"`
	Scale         float64 `json:"scale,omitempty"`
}

// SeriesSpec is one numbering sequence. Slots anchor each ticket instance on
// a page; the pattern repeats across pages, and serial values follow the
// arithmetic sequence start, start+step, ... in page-major slot order.
type SeriesSpec struct {
	ID       string        `json:"id"`
	Prefix   string        `json:"prefix"`
	Start    int64         `json:"start"`
	Step     int64         `json:"step"`
	Font     string        `json:"font"`
	FontSize float64       `json:"fontSize"`
	Slots    []CanvasPoint `json:"slots"`
}

// Watermark types.
const (
	WatermarkText  = "text"
	WatermarkImage = "image"
)

// WatermarkSpec is a per-page overlay. Opacity and rotation are render-time
// transforms; Position is canvas space.
type WatermarkSpec struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Value    string      `json:"value"`
	Opacity  float64     `json:"opacity"`
	Rotate   float64     `json:"rotate"`
	Position CanvasPoint `json:"position"`
}

// VectorJobSpec is the validated, immutable input to a render job.
type VectorJobSpec struct {
	SourceDocumentKey string          `json:"sourceDocumentKey"`
	TicketCrop        TicketCrop      `json:"ticketCrop"`
	Layout            LayoutSpec      `json:"layout"`
	Series            []SeriesSpec    `json:"series"`
	Watermarks        []WatermarkSpec `json:"watermarks"`

	// IsTest marks a smoke submission: the job gets a single attempt.
	IsTest bool `json:"isTest,omitempty"`
}

// ValidationResult accumulates every violation found in a spec. Validation
// never fails part-way: callers always get the complete list.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func (r *ValidationResult) addf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Validate checks the spec structurally and against the page geometry.
// Every series slot and watermark position must land inside the page after
// canvas-to-PDF conversion; nothing is silently clipped.
func (s VectorJobSpec) Validate() ValidationResult {
	var r ValidationResult

	if s.SourceDocumentKey == "" {
		r.addf("sourceDocumentKey is required")
	}
	s.validateCrop(&r)

	page, pageErr := geometry.Page(s.Layout.PageSize)
	pageKnown := pageErr == nil
	if !pageKnown {
		r.addf("layout.pageSize %q is not in the page catalog", s.Layout.PageSize)
	}
	if s.Layout.RepeatPerPage < 1 {
		r.addf("layout.repeatPerPage must be at least 1, got %d", s.Layout.RepeatPerPage)
	}
	if s.Layout.TotalPages < 1 {
		r.addf("layout.totalPages must be at least 1, got %d", s.Layout.TotalPages)
	}
	if s.Layout.Scale < 0 || !isFinite(s.Layout.Scale) {
		r.addf("layout.scale must be a finite non-negative number, got %v", s.Layout.Scale)
	}

	seen := make(map[string]bool, len(s.Series))
	for i, series := range s.Series {
		s.validateSeries(&r, i, series, seen, page, pageKnown)
	}
	for i, wm := range s.Watermarks {
		s.validateWatermark(&r, i, wm, page, pageKnown)
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func (s VectorJobSpec) validateCrop(r *ValidationResult) {
	c := s.TicketCrop
	if c.PageIndex < 0 {
		r.addf("ticketCrop.pageIndex must not be negative, got %d", c.PageIndex)
	}
	if !isFinite(c.X) || !isFinite(c.Y) || !isFinite(c.Width) || !isFinite(c.Height) {
		r.addf("ticketCrop coordinates must be finite numbers")
		return
	}
	if c.X < 0 || c.Y < 0 {
		r.addf("ticketCrop origin must not be negative, got (%v, %v)", c.X, c.Y)
	}
	if c.Width <= 0 {
		r.addf("ticketCrop.width must be positive, got %v", c.Width)
	}
	if c.Height <= 0 {
		r.addf("ticketCrop.height must be positive, got %v", c.Height)
	}
}

func (s VectorJobSpec) validateSeries(r *ValidationResult, i int, series SeriesSpec, seen map[string]bool, page geometry.PageSize, pageKnown bool) {
	label := series.ID
	if label == "" {
		label = fmt.Sprintf("series[%d]", i)
		r.addf("%s: id is required", label)
	} else if seen[label] {
		r.addf("series id %q is duplicated", label)
	}
	seen[label] = true

	if series.Step == 0 {
		r.addf("%s: step must not be zero", label)
	}
	if series.FontSize <= 0 || !isFinite(series.FontSize) {
		r.addf("%s: fontSize must be positive, got %v", label, series.FontSize)
	}
	if len(series.Slots) == 0 {
		r.addf("%s: at least one slot is required", label)
	}
	if s.Layout.RepeatPerPage >= 1 && len(series.Slots) > s.Layout.RepeatPerPage {
		r.addf("%s: %d slots exceed layout.repeatPerPage %d", label, len(series.Slots), s.Layout.RepeatPerPage)
	}

	for j, slot := range series.Slots {
		if !isFinite(slot.X) || !isFinite(slot.Y) {
			r.addf("%s: slot %d coordinates must be finite numbers", label, j)
			continue
		}
		if !pageKnown {
			continue
		}
		p := geometry.CanvasToPDF(slot.X, slot.Y, s.TicketCrop.Width, s.TicketCrop.Height, s.Layout.Scale, page)
		if !geometry.WithinPage(p, page) {
			r.addf("%s: slot %d resolves outside the %s page bounds", label, j, page.Name)
		}
	}
}

func (s VectorJobSpec) validateWatermark(r *ValidationResult, i int, wm WatermarkSpec, page geometry.PageSize, pageKnown bool) {
	label := wm.ID
	if label == "" {
		label = fmt.Sprintf("watermarks[%d]", i)
		r.addf("%s: id is required", label)
	}
	if wm.Type != WatermarkText && wm.Type != WatermarkImage {
		r.addf("%s: type must be %q or %q, got %q", label, WatermarkText, WatermarkImage, wm.Type)
	}
	if wm.Value == "" {
		r.addf("%s: value is required", label)
	} else if wm.Type == WatermarkImage && !svg.SafeImageValue(wm.Value) {
		r.addf("%s: image value must be an inline data:image URI", label)
	}
	if wm.Opacity < 0 || wm.Opacity > 1 || !isFinite(wm.Opacity) {
		r.addf("%s: opacity must be within [0, 1], got %v", label, wm.Opacity)
	}
	if !isFinite(wm.Rotate) {
		r.addf("%s: rotate must be a finite number", label)
	}
	if !isFinite(wm.Position.X) || !isFinite(wm.Position.Y) {
		r.addf("%s: position coordinates must be finite numbers", label)
		return
	}
	if pageKnown {
		// Watermark anchors carry no extent, so the Y flip uses the raw
		// coordinate rather than a region height.
		p := geometry.CanvasToPDF(wm.Position.X, wm.Position.Y, 0, 0, s.Layout.Scale, page)
		if !geometry.WithinPage(p, page) {
			r.addf("%s: position resolves outside the %s page bounds", label, page.Name)
		}
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
