package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ticketpress/ticketpress/internal/domain/model"
	apperrors "github.com/ticketpress/ticketpress/internal/errors"
	"github.com/ticketpress/ticketpress/internal/svg"
)

// InkscapeOptions configures an InkscapeRenderer.
type InkscapeOptions struct {
	// Binary is the inkscape executable. Required.
	Binary string
	// Probe gates rendering on availability. Required.
	Probe *Probe
	// Runner executes the renderer. Defaults to ExecRunner.
	Runner CommandRunner
	// Timeout bounds one page render. Defaults to 60s.
	Timeout time.Duration
	// Logger is optional.
	Logger *slog.Logger
}

// InkscapeRenderer shells out to Inkscape for page rendering. Each page is
// composed into a standalone SVG and piped through stdin; the PDF comes back
// on stdout.
type InkscapeRenderer struct {
	binary  string
	probe   *Probe
	runner  CommandRunner
	timeout time.Duration
	logger  *slog.Logger
}

// NewInkscapeRenderer creates an InkscapeRenderer from options.
func NewInkscapeRenderer(opts InkscapeOptions) (*InkscapeRenderer, error) {
	if opts.Binary == "" {
		return nil, errors.New("inkscape renderer: binary is required")
	}
	if opts.Probe == nil {
		return nil, errors.New("inkscape renderer: probe is required")
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("component", "inkscape_renderer")
	}
	return &InkscapeRenderer{
		binary:  opts.Binary,
		probe:   opts.Probe,
		runner:  opts.Runner,
		timeout: opts.Timeout,
		logger:  logger,
	}, nil
}

// RenderPage renders one page description to PDF bytes. When the probe
// reports the binary unavailable the error is terminal, not transient: the
// job must fail rather than silently downgrade output quality.
func (r *InkscapeRenderer) RenderPage(ctx context.Context, doc *svg.Document, crop model.TicketCrop, page model.PageDescription) ([]byte, error) {
	if r.probe.Check(ctx) != AvailabilityAvailable {
		return nil, apperrors.RenderingUnavailable("external renderer " + r.binary + " is not available")
	}

	markup, err := composePageSVG(doc, crop, page)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stdout, stderr, err := r.runner.Run(ctx, []byte(markup), r.binary,
		"--pipe", "--export-type=pdf", "--export-filename=-")
	if err != nil {
		if r.logger != nil {
			r.logger.Error("inkscape render failed",
				"page", page.Number, "error", err, "stderr", truncateOutput(stderr))
		}
		return nil, apperrors.RenderIO(err, "inkscape render")
	}
	if len(stdout) == 0 {
		return nil, apperrors.RenderIO(errors.New("empty output"), "inkscape render")
	}
	return stdout, nil
}

// composePageSVG flattens one page description into standalone SVG markup in
// page point units, top-down Y like any SVG. Placements reuse the parsed
// artwork paths under a crop-window transform; serials and watermarks become
// text elements.
func composePageSVG(doc *svg.Document, crop model.TicketCrop, page model.PageDescription) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%spt" height="%spt" viewBox="0 0 %s %s">`,
		num(page.Size.Width), num(page.Size.Height), num(page.Size.Width), num(page.Size.Height))

	for _, placement := range page.Placements {
		top := page.Size.Height - placement.Origin.Y - placement.Height
		fmt.Fprintf(&b, `<g transform="translate(%s %s) scale(%s %s) translate(%s %s)">`,
			num(placement.Origin.X), num(top),
			num(placement.Width/crop.Width), num(placement.Height/crop.Height),
			num(-crop.X), num(-crop.Y))
		for _, path := range doc.Paths {
			writePathElement(&b, path)
		}
		b.WriteString("</g>")
	}

	for _, label := range page.Serials {
		fmt.Fprintf(&b, `<text x="%s" y="%s" font-family="%s" font-size="%s">%s</text>`,
			num(label.Position.X), num(page.Size.Height-label.Position.Y),
			coreFont(label.Font), num(label.FontSize), escapeXML(label.Text))
	}

	for _, wm := range page.Watermarks {
		x := wm.Position.X
		y := page.Size.Height - wm.Position.Y
		if wm.Type == model.WatermarkImage {
			img, err := decodeWatermarkImage(wm.Value)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, `<image x="%s" y="%s" width="%s" height="%s" href="%s" opacity="%s" transform="rotate(%s %s %s)"/>`,
				num(x), num(y-img.Height), num(img.Width), num(img.Height),
				escapeXML(wm.Value), num(wm.Opacity), num(wm.Rotate), num(x), num(y))
			continue
		}
		fmt.Fprintf(&b, `<text x="%s" y="%s" font-family="Helvetica" font-size="36" font-weight="bold" fill="gray" opacity="%s" transform="rotate(%s %s %s)">%s</text>`,
			num(x), num(y), num(wm.Opacity), num(wm.Rotate), num(x), num(y), escapeXML(wm.Value))
	}

	b.WriteString("</svg>")
	return b.String(), nil
}

func writePathElement(b *strings.Builder, path svg.Path) {
	fmt.Fprintf(b, `<path d="%s"`, pathData(path.Commands))
	if path.Style.Fill != "" {
		fmt.Fprintf(b, ` fill="%s"`, escapeXML(path.Style.Fill))
	}
	if path.Style.Stroke != "" {
		fmt.Fprintf(b, ` stroke="%s" stroke-width="%s"`, escapeXML(path.Style.Stroke), num(path.Style.StrokeWidth))
	}
	b.WriteString("/>")
}

// pathData serializes normalized commands back to a path d attribute.
func pathData(cmds []svg.PathCommand) string {
	var b strings.Builder
	for i, cmd := range cmds {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(byte(cmd.Op))
		for j, c := range cmd.Coords {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(num(c))
		}
	}
	return b.String()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

func truncateOutput(b []byte) string {
	const max = 512
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
