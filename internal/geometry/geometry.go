// Package geometry converts between editor canvas space and PDF point space.
//
// Canvas space has its origin at the top-left with Y growing downward, the
// convention of the template editor. PDF point space has its origin at the
// bottom-left with Y growing upward. All values are PDF points (1/72 inch).
package geometry

import (
	"fmt"
	"math"
)

// PageSize describes a page from the fixed catalog, in PDF points.
type PageSize struct {
	Name   string
	Width  float64
	Height float64
}

// Fixed page catalog. Arbitrary page sizes are not supported.
var pageCatalog = map[string]PageSize{
	"A4":     {Name: "A4", Width: 595.28, Height: 841.89},
	"A5":     {Name: "A5", Width: 419.53, Height: 595.28},
	"A3":     {Name: "A3", Width: 841.89, Height: 1190.55},
	"Letter": {Name: "Letter", Width: 612, Height: 792},
	"Legal":  {Name: "Legal", Width: 612, Height: 1008},
}

// Page looks up a page size from the catalog.
func Page(name string) (PageSize, error) {
	p, ok := pageCatalog[name]
	if !ok {
		return PageSize{}, fmt.Errorf("unknown page size %q", name)
	}
	return p, nil
}

// KnownPage reports whether name is in the page catalog.
func KnownPage(name string) bool {
	_, ok := pageCatalog[name]
	return ok
}

// PageNames returns the catalog page names.
func PageNames() []string {
	names := make([]string, 0, len(pageCatalog))
	for n := range pageCatalog {
		names = append(names, n)
	}
	return names
}

// Point is a position in PDF point space.
type Point struct {
	X float64
	Y float64
}

// snapFactor gives three decimal places of a point, comfortably below a
// thousandth of a millimetre. Enough to absorb float noise from repeated
// transforms without ever moving visible geometry.
const snapFactor = 1000

// CanvasToPDF converts a canvas-space rectangle origin to PDF point space.
// The Y flip uses the rectangle's bottom edge: pdfY = pageHeight-(y+height)/scale.
// Positions without extent (serial anchors, watermarks) pass height 0 so the
// raw Y is the flip point. The result is exact; callers snap explicitly.
func CanvasToPDF(x, y, width, height, scale float64, page PageSize) Point {
	if scale == 0 {
		scale = 1.0
	}
	_ = width
	return Point{
		X: x / scale,
		Y: page.Height - (y+height)/scale,
	}
}

// PDFToCanvas is the inverse of CanvasToPDF for the same rectangle extent.
func PDFToCanvas(p Point, width, height, scale float64, page PageSize) (x, y float64) {
	if scale == 0 {
		scale = 1.0
	}
	_ = width
	return p.X * scale, (page.Height-p.Y)*scale - height
}

// Snap rounds a coordinate to the fixed sub-millimetre precision (3 decimal
// places of a point). Snap is idempotent: Snap(Snap(v)) == Snap(v).
func Snap(v float64) float64 {
	return math.Round(v*snapFactor) / snapFactor
}

// SnapPoint snaps both coordinates of a point.
func SnapPoint(p Point) Point {
	return Point{X: Snap(p.X), Y: Snap(p.Y)}
}

// WithinPage reports whether a point lies inside [0,W]x[0,H] after snapping.
func WithinPage(p Point, page PageSize) bool {
	x, y := Snap(p.X), Snap(p.Y)
	return x >= 0 && x <= page.Width && y >= 0 && y <= page.Height
}
