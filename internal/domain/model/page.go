package model

import "github.com/ticketpress/ticketpress/internal/geometry"

// TicketPlacement positions one ticket instance on a page. Origin is the
// bottom-left corner of the placed artwork in PDF point space; Scale is the
// uniform factor applied to the artwork's crop box.
type TicketPlacement struct {
	Index  int
	Origin geometry.Point
	Width  float64
	Height float64
	Scale  float64
}

// SerialLabel is one rendered serial number: the formatted text and its
// anchor in PDF point space.
type SerialLabel struct {
	SeriesID string
	Text     string
	Value    int64
	Position geometry.Point
	Font     string
	FontSize float64
}

// WatermarkOverlay is a per-page overlay with its render-time transforms.
type WatermarkOverlay struct {
	WatermarkID string
	Type        string
	Value       string
	Opacity     float64
	Rotate      float64
	Position    geometry.Point
}

// PageDescription is the complete render instruction set for one output
// page. It is pure data: producing it does no I/O, so rendering backends can
// be swapped without touching layout logic.
type PageDescription struct {
	Number     int
	Size       geometry.PageSize
	Placements []TicketPlacement
	Serials    []SerialLabel
	Watermarks []WatermarkOverlay
}
