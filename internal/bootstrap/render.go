package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ticketpress/ticketpress/config"
	"github.com/ticketpress/ticketpress/internal/render"
)

// RendererBundle groups the selected page renderer with the probe that
// gates the external engine. The probe is nil when only the native engine
// is in play.
type RendererBundle struct {
	Renderer render.PageRenderer
	Probe    *render.Probe
}

// BuildRenderer resolves the configured render engine. For the inkscape and
// auto engines it also fires a startup probe; a missing binary is logged,
// never fatal, because the auto engine degrades to native rendering.
func BuildRenderer(ctx context.Context, cfg config.RenderConfig, logger *slog.Logger) (RendererBundle, error) {
	engine := render.Engine(cfg.Engine)
	if !engine.Valid() {
		return RendererBundle{}, fmt.Errorf("unknown render engine %q", cfg.Engine)
	}

	if engine == render.EngineNative {
		return RendererBundle{Renderer: render.NativeRenderer{}}, nil
	}

	probe, err := render.NewProbe(render.ProbeOptions{
		Binary:          cfg.InkscapeBinary,
		Timeout:         cfg.ProbeTimeout,
		RecheckInterval: cfg.ProbeRecheckInterval,
		Logger:          logger,
	})
	if err != nil {
		return RendererBundle{}, fmt.Errorf("create render probe: %w", err)
	}

	inkscape, err := render.NewInkscapeRenderer(render.InkscapeOptions{
		Binary:  cfg.InkscapeBinary,
		Probe:   probe,
		Timeout: cfg.RenderTimeout,
		Logger:  logger,
	})
	if err != nil {
		return RendererBundle{}, fmt.Errorf("create inkscape renderer: %w", err)
	}

	renderer, err := render.Select(engine, inkscape)
	if err != nil {
		return RendererBundle{}, fmt.Errorf("select renderer: %w", err)
	}

	// Startup probe so operators see degraded mode immediately instead of
	// on the first job.
	if state := probe.Check(ctx); state != render.AvailabilityAvailable && logger != nil {
		logger.Warn("external renderer not available at startup",
			"binary", cfg.InkscapeBinary, "engine", cfg.Engine, "state", state.String())
	}

	return RendererBundle{Renderer: renderer, Probe: probe}, nil
}
