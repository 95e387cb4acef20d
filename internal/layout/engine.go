// Package layout composes a validated job spec and sanitized artwork into
// per-page render instructions. It is pure computation: no I/O, no clock.
package layout

import (
	"math"
	"strconv"

	"github.com/ticketpress/ticketpress/internal/domain/model"
	apperrors "github.com/ticketpress/ticketpress/internal/errors"
	"github.com/ticketpress/ticketpress/internal/geometry"
	"github.com/ticketpress/ticketpress/internal/svg"
)

// BuildPages expands the spec into an ordered sequence of page descriptions:
// the ticket placement grid, every serial label with its final text, and the
// per-page watermark overlays.
//
// Serial assignment is page-major slot order: page 0's slots in declaration
// order, then page 1's, so the Nth ticket of a series always carries
// start + step*(N-1) no matter how pages later render.
func BuildPages(spec model.VectorJobSpec, doc *svg.Document) ([]model.PageDescription, error) {
	page, err := geometry.Page(spec.Layout.PageSize)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "resolve page size")
	}

	scale := spec.Layout.Scale
	if scale == 0 {
		scale = 1
	}

	if doc != nil {
		vb := doc.ViewBox
		crop := spec.TicketCrop
		if crop.X < vb.MinX || crop.Y < vb.MinY ||
			crop.X+crop.Width > vb.MinX+vb.Width ||
			crop.Y+crop.Height > vb.MinY+vb.Height {
			return nil, apperrors.Newf(apperrors.ErrCodeValidation,
				"ticket crop %gx%g at (%g, %g) falls outside the artwork viewBox %gx%g",
				crop.Width, crop.Height, crop.X, crop.Y, vb.Width, vb.Height)
		}
	}

	for _, series := range spec.Series {
		if len(series.Slots) > spec.Layout.RepeatPerPage {
			return nil, apperrors.LayoutOverflowf(
				"series %q needs %d slots per page but layout.repeatPerPage provides %d",
				series.ID, len(series.Slots), spec.Layout.RepeatPerPage)
		}
	}

	grid, err := placementGrid(spec, page, scale)
	if err != nil {
		return nil, err
	}

	pages := make([]model.PageDescription, 0, spec.Layout.TotalPages)
	for p := 0; p < spec.Layout.TotalPages; p++ {
		desc := model.PageDescription{
			Number:     p + 1,
			Size:       page,
			Placements: grid,
			Serials:    serialsForPage(spec, page, scale, p),
			Watermarks: watermarksForPage(spec, page, scale),
		}
		pages = append(pages, desc)
	}
	return pages, nil
}

// placementGrid tiles the ticket crop box repeatPerPage times across the
// page. The grid maximizes the uniform ticket scale; leftover space stays at
// the right and bottom edges, anchoring the grid top-left in row-major order.
func placementGrid(spec model.VectorJobSpec, page geometry.PageSize, scale float64) ([]model.TicketPlacement, error) {
	repeat := spec.Layout.RepeatPerPage
	ticketW := spec.TicketCrop.Width / scale
	ticketH := spec.TicketCrop.Height / scale
	if ticketW <= 0 || ticketH <= 0 {
		return nil, apperrors.Validation("ticket crop has no area")
	}

	cols, fit := bestGrid(repeat, ticketW, ticketH, page)
	if fit <= 0 {
		return nil, apperrors.LayoutOverflowf(
			"%d tickets of %gx%gpt cannot tile a %s page", repeat, ticketW, ticketH, page.Name)
	}
	if fit > 1 {
		// Never scale artwork up past its authored size.
		fit = 1
	}

	w := ticketW * fit
	h := ticketH * fit
	placements := make([]model.TicketPlacement, 0, repeat)
	for k := 0; k < repeat; k++ {
		col := k % cols
		row := k / cols
		origin := geometry.SnapPoint(geometry.Point{
			X: float64(col) * w,
			Y: page.Height - float64(row+1)*h,
		})
		placements = append(placements, model.TicketPlacement{
			Index:  k,
			Origin: origin,
			Width:  geometry.Snap(w),
			Height: geometry.Snap(h),
			Scale:  fit,
		})
	}
	return placements, nil
}

// bestGrid picks the column count in [1, repeat] that lets the tickets tile
// the page at the largest uniform scale.
func bestGrid(repeat int, ticketW, ticketH float64, page geometry.PageSize) (cols int, fit float64) {
	cols = 1
	for c := 1; c <= repeat; c++ {
		rows := (repeat + c - 1) / c
		s := math.Min(page.Width/(float64(c)*ticketW), page.Height/(float64(rows)*ticketH))
		if s > fit {
			fit = s
			cols = c
		}
	}
	return cols, fit
}

func serialsForPage(spec model.VectorJobSpec, page geometry.PageSize, scale float64, pageIndex int) []model.SerialLabel {
	var labels []model.SerialLabel
	for _, series := range spec.Series {
		for i, slot := range series.Slots {
			n := int64(pageIndex*len(series.Slots) + i)
			value := series.Start + series.Step*n
			pos := geometry.CanvasToPDF(slot.X, slot.Y, spec.TicketCrop.Width, spec.TicketCrop.Height, scale, page)
			labels = append(labels, model.SerialLabel{
				SeriesID: series.ID,
				Text:     series.Prefix + strconv.FormatInt(value, 10),
				Value:    value,
				Position: geometry.SnapPoint(pos),
				Font:     series.Font,
				FontSize: series.FontSize,
			})
		}
	}
	return labels
}

func watermarksForPage(spec model.VectorJobSpec, page geometry.PageSize, scale float64) []model.WatermarkOverlay {
	var overlays []model.WatermarkOverlay
	for _, wm := range spec.Watermarks {
		// No extent, so the Y flip uses the raw coordinate. Opacity and
		// rotation stay render-time transforms.
		pos := geometry.CanvasToPDF(wm.Position.X, wm.Position.Y, 0, 0, scale, page)
		overlays = append(overlays, model.WatermarkOverlay{
			WatermarkID: wm.ID,
			Type:        wm.Type,
			Value:       wm.Value,
			Opacity:     wm.Opacity,
			Rotate:      wm.Rotate,
			Position:    geometry.SnapPoint(pos),
		})
	}
	return overlays
}
