package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketpress/ticketpress/internal/domain/model"
	apperrors "github.com/ticketpress/ticketpress/internal/errors"
	"github.com/ticketpress/ticketpress/internal/svg"
)

func testDocument(t *testing.T) *svg.Document {
	t.Helper()
	doc, err := svg.Parse(`<svg viewBox="0 0 200 80"><rect width="200" height="80"/></svg>`)
	require.NoError(t, err)
	return doc
}

func testSpec() model.VectorJobSpec {
	return model.VectorJobSpec{
		SourceDocumentKey: "sources/fixture.svg",
		TicketCrop:        model.TicketCrop{Width: 200, Height: 80},
		Layout:            model.LayoutSpec{PageSize: "A4", RepeatPerPage: 4, TotalPages: 2},
		Series: []model.SeriesSpec{
			{
				ID:       "main",
				Prefix:   "A",
				Start:    1,
				Step:     1,
				Font:     "Helvetica",
				FontSize: 10,
				Slots: []model.CanvasPoint{
					{X: 10, Y: 100}, {X: 220, Y: 100},
					{X: 10, Y: 300}, {X: 220, Y: 300},
				},
			},
		},
		Watermarks: []model.WatermarkSpec{
			{ID: "draft", Type: model.WatermarkText, Value: "SPECIMEN", Opacity: 0.3, Rotate: 45, Position: model.CanvasPoint{X: 200, Y: 400}},
		},
	}
}

func TestBuildPagesSerialSequence(t *testing.T) {
	pages, err := BuildPages(testSpec(), testDocument(t))
	require.NoError(t, err)
	require.Len(t, pages, 2)

	var serials []string
	for _, p := range pages {
		for _, s := range p.Serials {
			serials = append(serials, s.Text)
		}
	}
	assert.Equal(t, []string{"A1", "A2", "A3", "A4", "A5", "A6", "A7", "A8"}, serials)
}

func TestBuildPagesSerialsAreUniquePerSeries(t *testing.T) {
	spec := testSpec()
	spec.Series[0].Start = 100
	spec.Series[0].Step = -5
	spec.Layout.TotalPages = 3

	pages, err := BuildPages(spec, testDocument(t))
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, p := range pages {
		for _, s := range p.Serials {
			assert.False(t, seen[s.Text], "serial %q emitted twice", s.Text)
			seen[s.Text] = true
		}
	}
	assert.Len(t, seen, 12)
	assert.True(t, seen["A100"])
	assert.True(t, seen["A45"])
}

func TestBuildPagesRejectsCropOutsideViewBox(t *testing.T) {
	spec := testSpec()
	spec.TicketCrop.Width = 500

	_, err := BuildPages(spec, testDocument(t))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "viewBox")
}

func TestBuildPagesOverflow(t *testing.T) {
	spec := testSpec()
	spec.Layout.RepeatPerPage = 2

	_, err := BuildPages(spec, testDocument(t))
	require.Error(t, err)
	assert.True(t, apperrors.IsLayoutOverflow(err))
}

func TestBuildPagesWatermarkOncePerPage(t *testing.T) {
	spec := testSpec()
	spec.Layout.TotalPages = 3

	pages, err := BuildPages(spec, testDocument(t))
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for _, p := range pages {
		require.Len(t, p.Watermarks, 1)
		wm := p.Watermarks[0]
		assert.Equal(t, "draft", wm.WatermarkID)
		assert.Equal(t, 0.3, wm.Opacity)
		assert.Equal(t, 45.0, wm.Rotate)
		// Anchor has no extent: the flip uses the raw Y.
		assert.InDelta(t, 841.89-400, wm.Position.Y, 0.001)
		assert.InDelta(t, 200, wm.Position.X, 0.001)
	}
}

func TestBuildPagesPlacementGrid(t *testing.T) {
	pages, err := BuildPages(testSpec(), testDocument(t))
	require.NoError(t, err)

	placements := pages[0].Placements
	require.Len(t, placements, 4)

	// 200x80pt tickets on A4: one column of four fits at full size.
	for i, pl := range placements {
		assert.Equal(t, i, pl.Index)
		assert.LessOrEqual(t, pl.Origin.X+pl.Width, 595.28+0.001)
		assert.GreaterOrEqual(t, pl.Origin.Y, -0.001)
		assert.Equal(t, 1.0, pl.Scale, "artwork must not be scaled up")
	}

	// Row-major, top-left anchored: the first placement hugs the top edge.
	assert.Equal(t, 0.0, placements[0].Origin.X)
	assert.InDelta(t, 841.89-80, placements[0].Origin.Y, 0.001)

	// Pages share an identical grid.
	assert.Equal(t, pages[0].Placements, pages[1].Placements)
}

func TestBuildPagesUnknownPageSize(t *testing.T) {
	spec := testSpec()
	spec.Layout.PageSize = "Tabloid"

	_, err := BuildPages(spec, testDocument(t))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}
