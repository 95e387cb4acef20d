package render

import (
	"context"
	"fmt"

	"github.com/ticketpress/ticketpress/internal/domain/model"
	"github.com/ticketpress/ticketpress/internal/svg"
)

// PageRenderer renders one page description to single-page PDF bytes.
type PageRenderer interface {
	RenderPage(ctx context.Context, doc *svg.Document, crop model.TicketCrop, page model.PageDescription) ([]byte, error)
}

// Engine names a rendering backend choice.
type Engine string

const (
	// EngineAuto uses Inkscape when the probe says it works, native
	// otherwise.
	EngineAuto Engine = "auto"
	// EngineNative always renders in-process.
	EngineNative Engine = "native"
	// EngineInkscape requires the external renderer; jobs fail when it is
	// missing.
	EngineInkscape Engine = "inkscape"
)

// Valid reports whether e is a known engine name.
func (e Engine) Valid() bool {
	return e == EngineAuto || e == EngineNative || e == EngineInkscape
}

// Select resolves the configured engine to a concrete renderer. For auto
// the decision is deferred to render time, when the probe has an answer.
func Select(engine Engine, inkscape *InkscapeRenderer) (PageRenderer, error) {
	switch engine {
	case EngineNative:
		return NativeRenderer{}, nil
	case EngineInkscape:
		if inkscape == nil {
			return nil, fmt.Errorf("engine %q requires an inkscape renderer", engine)
		}
		return inkscape, nil
	case EngineAuto:
		if inkscape == nil {
			return NativeRenderer{}, nil
		}
		return autoRenderer{inkscape: inkscape}, nil
	default:
		return nil, fmt.Errorf("unknown render engine %q", engine)
	}
}

// autoRenderer prefers the external backend per page but falls back to
// native whenever the probe reports it unavailable.
type autoRenderer struct {
	inkscape *InkscapeRenderer
}

func (r autoRenderer) RenderPage(ctx context.Context, doc *svg.Document, crop model.TicketCrop, page model.PageDescription) ([]byte, error) {
	if r.inkscape.probe.Check(ctx) == AvailabilityAvailable {
		return r.inkscape.RenderPage(ctx, doc, crop, page)
	}
	return NativeRenderer{}.RenderPage(ctx, doc, crop, page)
}
