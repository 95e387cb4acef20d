package render

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketpress/ticketpress/internal/domain/model"
	apperrors "github.com/ticketpress/ticketpress/internal/errors"
	"github.com/ticketpress/ticketpress/internal/geometry"
	"github.com/ticketpress/ticketpress/internal/svg"
)

type fakeRunner struct {
	mu     sync.Mutex
	stdout []byte
	stderr []byte
	err    error
	calls  int
	args   []string
	stdin  []byte
}

func (f *fakeRunner) Run(_ context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.args = append([]string{name}, args...)
	f.stdin = stdin
	return f.stdout, f.stderr, f.err
}

func newTestProbe(t *testing.T, runner CommandRunner) *Probe {
	t.Helper()
	probe, err := NewProbe(ProbeOptions{Binary: "inkscape", Runner: runner})
	require.NoError(t, err)
	return probe
}

func TestProbeStartsUnknown(t *testing.T) {
	probe := newTestProbe(t, &fakeRunner{})
	assert.Equal(t, AvailabilityUnknown, probe.State())
}

func TestProbeDetectsAvailable(t *testing.T) {
	runner := &fakeRunner{stdout: []byte("Inkscape 1.3 (0e150ed6c4, 2023-07-21)")}
	probe := newTestProbe(t, runner)

	assert.Equal(t, AvailabilityAvailable, probe.Check(context.Background()))
	assert.Equal(t, AvailabilityAvailable, probe.State())

	// A positive result is cached: no further subprocess spawns.
	probe.Check(context.Background())
	assert.Equal(t, 1, runner.calls)
}

func TestProbeDetectsUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
	}{
		{name: "missing binary", runner: &fakeRunner{err: errors.New("executable not found")}},
		{name: "wrong program", runner: &fakeRunner{stdout: []byte("ImageMagick 7.1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := newTestProbe(t, tt.runner)
			assert.Equal(t, AvailabilityUnavailable, probe.Check(context.Background()))
		})
	}
}

func TestProbeRecheckInterval(t *testing.T) {
	runner := &fakeRunner{err: errors.New("no binary")}
	probe, err := NewProbe(ProbeOptions{Binary: "inkscape", Runner: runner, RecheckInterval: time.Minute})
	require.NoError(t, err)

	now := time.Now()
	probe.now = func() time.Time { return now }

	probe.Check(context.Background())
	probe.Check(context.Background())
	assert.Equal(t, 1, runner.calls, "negative result must be trusted inside the interval")

	now = now.Add(2 * time.Minute)
	runner.stdout = []byte("Inkscape 1.3")
	runner.err = nil
	assert.Equal(t, AvailabilityAvailable, probe.Check(context.Background()))
	assert.Equal(t, 2, runner.calls)
}

func testPage(t *testing.T) (*svg.Document, model.TicketCrop, model.PageDescription) {
	t.Helper()
	doc, err := svg.Parse(`<svg viewBox="0 0 200 80"><rect width="200" height="80" fill="none" stroke="black"/><path d="M10 10 L190 70" stroke="red"/></svg>`)
	require.NoError(t, err)

	page, err := geometry.Page("A4")
	require.NoError(t, err)

	crop := model.TicketCrop{Width: 200, Height: 80}
	desc := model.PageDescription{
		Number: 1,
		Size:   page,
		Placements: []model.TicketPlacement{
			{Index: 0, Origin: geometry.Point{X: 0, Y: 761.89}, Width: 200, Height: 80, Scale: 1},
		},
		Serials: []model.SerialLabel{
			{SeriesID: "main", Text: "A1", Value: 1, Position: geometry.Point{X: 20, Y: 700}, Font: "Helvetica", FontSize: 10},
		},
		Watermarks: []model.WatermarkOverlay{
			{WatermarkID: "draft", Type: model.WatermarkText, Value: "SPECIMEN", Opacity: 0.3, Rotate: 45, Position: geometry.Point{X: 200, Y: 420}},
		},
	}
	return doc, crop, desc
}

func TestNativeRendererProducesPDF(t *testing.T) {
	doc, crop, page := testPage(t)

	out, err := NativeRenderer{}.RenderPage(context.Background(), doc, crop, page)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")), "output must be a PDF document")
}

func TestInkscapeRendererUnavailable(t *testing.T) {
	runner := &fakeRunner{err: errors.New("no binary")}
	probe := newTestProbe(t, runner)
	renderer, err := NewInkscapeRenderer(InkscapeOptions{Binary: "inkscape", Probe: probe, Runner: runner})
	require.NoError(t, err)

	doc, crop, page := testPage(t)
	_, err = renderer.RenderPage(context.Background(), doc, crop, page)
	require.Error(t, err)
	assert.True(t, apperrors.IsRenderingUnavailable(err))
}

func TestInkscapeRendererPipesMarkup(t *testing.T) {
	runner := &fakeRunner{stdout: []byte("Inkscape 1.3")}
	probe := newTestProbe(t, runner)
	require.Equal(t, AvailabilityAvailable, probe.Check(context.Background()))

	renderRunner := &fakeRunner{stdout: []byte("%PDF-1.7 fake")}
	renderer, err := NewInkscapeRenderer(InkscapeOptions{Binary: "inkscape", Probe: probe, Runner: renderRunner})
	require.NoError(t, err)

	doc, crop, page := testPage(t)
	out, err := renderer.RenderPage(context.Background(), doc, crop, page)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 fake"), out)
	assert.Contains(t, renderRunner.args, "--export-type=pdf")
	assert.Contains(t, string(renderRunner.stdin), "<svg")
	assert.Contains(t, string(renderRunner.stdin), "A1")
}

func TestComposePageSVG(t *testing.T) {
	doc, crop, page := testPage(t)

	markup, err := composePageSVG(doc, crop, page)
	require.NoError(t, err)
	assert.Contains(t, markup, `viewBox="0 0 595.28 841.89"`)
	assert.Contains(t, markup, `M10 10 L190 70`)
	assert.Contains(t, markup, `>A1</text>`)
	assert.Contains(t, markup, `opacity="0.3"`)
	assert.True(t, strings.HasSuffix(markup, "</svg>"))

	// Watermark Y lands in SVG top-down space.
	assert.Contains(t, markup, `rotate(45 200 421.89`)
}

func TestSelect(t *testing.T) {
	probe := newTestProbe(t, &fakeRunner{})
	inkscape, err := NewInkscapeRenderer(InkscapeOptions{Binary: "inkscape", Probe: probe})
	require.NoError(t, err)

	r, err := Select(EngineNative, nil)
	require.NoError(t, err)
	assert.IsType(t, NativeRenderer{}, r)

	r, err = Select(EngineInkscape, inkscape)
	require.NoError(t, err)
	assert.Equal(t, inkscape, r)

	_, err = Select(EngineInkscape, nil)
	assert.Error(t, err)

	r, err = Select(EngineAuto, inkscape)
	require.NoError(t, err)
	assert.IsType(t, autoRenderer{}, r)

	_, err = Select(Engine("imagemagick"), nil)
	assert.Error(t, err)
}

func TestAssembleRejectsEmptyInput(t *testing.T) {
	_, err := Assemble(nil)
	require.Error(t, err)

	_, err = Assemble([][]byte{{}})
	require.Error(t, err)
}

func TestAssembleMergesPagesInOrder(t *testing.T) {
	doc, crop, page := testPage(t)

	first, err := NativeRenderer{}.RenderPage(context.Background(), doc, crop, page)
	require.NoError(t, err)
	page.Number = 2
	second, err := NativeRenderer{}.RenderPage(context.Background(), doc, crop, page)
	require.NoError(t, err)

	merged, err := Assemble([][]byte{first, second})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(merged, []byte("%PDF")))
	assert.Greater(t, len(merged), len(first))
}
