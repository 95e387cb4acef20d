package render

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/ticketpress/ticketpress/internal/domain/model"
	apperrors "github.com/ticketpress/ticketpress/internal/errors"
	"github.com/ticketpress/ticketpress/internal/svg"
)

// NativeRenderer draws pages in-process with gofpdf. It needs no external
// binary, so it is the default backend.
type NativeRenderer struct{}

// RenderPage produces a single-page PDF for one page description.
//
// gofpdf's user space runs top-down while placements and labels arrive in
// PDF point space (bottom-up), so every Y passes through the page-height
// flip exactly once here.
func (NativeRenderer) RenderPage(ctx context.Context, doc *svg.Document, crop model.TicketCrop, page model.PageDescription) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.RenderIO(err, "render canceled")
	}

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: page.Size.Width, Ht: page.Size.Height},
	})
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	for _, placement := range page.Placements {
		drawTicket(pdf, doc, crop, placement, page.Size.Height)
	}
	for _, label := range page.Serials {
		drawSerial(pdf, label, page.Size.Height)
	}
	for _, wm := range page.Watermarks {
		if err := drawWatermark(pdf, wm, page.Size.Height); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, apperrors.RenderIO(err, "write pdf page")
	}
	return buf.Bytes(), nil
}

// drawTicket maps artwork coordinates through the placement's crop window
// onto the page and emits each path.
func drawTicket(pdf *gofpdf.Fpdf, doc *svg.Document, crop model.TicketCrop, placement model.TicketPlacement, pageHeight float64) {
	kx := placement.Width / crop.Width
	ky := placement.Height / crop.Height
	left := placement.Origin.X
	top := pageHeight - placement.Origin.Y - placement.Height

	tx := func(ax float64) float64 { return left + (ax-crop.X)*kx }
	ty := func(ay float64) float64 { return top + (ay-crop.Y)*ky }

	for _, path := range doc.Paths {
		mode := applyStyle(pdf, path.Style, ky)
		if mode == "" {
			continue
		}
		for _, cmd := range path.Commands {
			switch cmd.Op {
			case svg.OpMoveTo:
				pdf.MoveTo(tx(cmd.Coords[0]), ty(cmd.Coords[1]))
			case svg.OpLineTo:
				pdf.LineTo(tx(cmd.Coords[0]), ty(cmd.Coords[1]))
			case svg.OpQuadTo:
				pdf.CurveTo(tx(cmd.Coords[0]), ty(cmd.Coords[1]), tx(cmd.Coords[2]), ty(cmd.Coords[3]))
			case svg.OpCubicTo:
				pdf.CurveBezierCubicTo(
					tx(cmd.Coords[0]), ty(cmd.Coords[1]),
					tx(cmd.Coords[2]), ty(cmd.Coords[3]),
					tx(cmd.Coords[4]), ty(cmd.Coords[5]))
			case svg.OpClose:
				pdf.ClosePath()
			}
		}
		pdf.DrawPath(mode)
	}
}

// applyStyle sets fill/stroke state and returns the gofpdf path paint mode,
// or "" when the path paints nothing.
func applyStyle(pdf *gofpdf.Fpdf, style svg.Style, scale float64) string {
	fill := style.Fill != "" && style.Fill != "none"
	stroke := style.Stroke != "" && style.Stroke != "none"
	if !fill && !stroke {
		return ""
	}
	if fill {
		r, g, b := parseColor(style.Fill)
		pdf.SetFillColor(r, g, b)
	}
	if stroke {
		r, g, b := parseColor(style.Stroke)
		pdf.SetDrawColor(r, g, b)
		w := style.StrokeWidth * scale
		if w <= 0 {
			w = 1
		}
		pdf.SetLineWidth(w)
	}
	switch {
	case fill && stroke:
		return "B"
	case fill:
		return "F"
	default:
		return "D"
	}
}

func drawSerial(pdf *gofpdf.Fpdf, label model.SerialLabel, pageHeight float64) {
	pdf.SetFont(coreFont(label.Font), "", label.FontSize)
	pdf.SetTextColor(0, 0, 0)
	pdf.Text(label.Position.X, pageHeight-label.Position.Y, label.Text)
}

func drawWatermark(pdf *gofpdf.Fpdf, wm model.WatermarkOverlay, pageHeight float64) error {
	x := wm.Position.X
	y := pageHeight - wm.Position.Y

	var img watermarkImage
	var imgName string
	if wm.Type == model.WatermarkImage {
		decoded, err := decodeWatermarkImage(wm.Value)
		if err != nil {
			return err
		}
		img = decoded
		// Registration is content-addressed so repeated overlays of the
		// same payload share one embedded image.
		imgName = svg.Digest(wm.Value)
		if pdf.GetImageInfo(imgName) == nil {
			pdf.RegisterImageOptionsReader(imgName, gofpdf.ImageOptions{ImageType: img.Kind}, bytes.NewReader(img.Data))
		}
	}

	pdf.TransformBegin()
	pdf.TransformRotate(wm.Rotate, x, y)
	pdf.SetAlpha(wm.Opacity, "Normal")
	if wm.Type == model.WatermarkImage {
		// Bottom-left anchored at the position, matching the text baseline.
		pdf.ImageOptions(imgName, x, y-img.Height, img.Width, img.Height, false, gofpdf.ImageOptions{ImageType: img.Kind}, 0, "")
	} else {
		pdf.SetFont("Helvetica", "B", 36)
		pdf.SetTextColor(128, 128, 128)
		pdf.Text(x, y, wm.Value)
	}
	pdf.SetAlpha(1, "Normal")
	pdf.TransformEnd()
	return nil
}

// coreFont maps a requested family to one of the built-in PDF core fonts.
func coreFont(family string) string {
	switch strings.ToLower(family) {
	case "times", "times new roman", "serif":
		return "Times"
	case "courier", "courier new", "monospace":
		return "Courier"
	default:
		return "Helvetica"
	}
}

// parseColor understands #rgb, #rrggbb and a handful of keyword colors;
// anything else paints black rather than failing the page.
func parseColor(v string) (int, int, int) {
	v = strings.TrimSpace(strings.ToLower(v))
	if c, ok := namedColors[v]; ok {
		return c[0], c[1], c[2]
	}
	if strings.HasPrefix(v, "#") {
		hex := v[1:]
		if len(hex) == 3 {
			hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
		}
		if len(hex) == 6 {
			if n, err := strconv.ParseUint(hex, 16, 32); err == nil {
				return int(n >> 16 & 0xff), int(n >> 8 & 0xff), int(n & 0xff)
			}
		}
	}
	return 0, 0, 0
}

var namedColors = map[string][3]int{
	"black":  {0, 0, 0},
	"white":  {255, 255, 255},
	"red":    {255, 0, 0},
	"green":  {0, 128, 0},
	"blue":   {0, 0, 255},
	"gray":   {128, 128, 128},
	"grey":   {128, 128, 128},
	"yellow": {255, 255, 0},
}
