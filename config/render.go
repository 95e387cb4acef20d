package config

import (
	"strings"
	"time"
)

// RenderConfig contains render engine configuration.
type RenderConfig struct {
	// Engine selects the page renderer.
	// Valid values: auto, native, inkscape.
	Engine string `env:"RENDER_ENGINE" envDefault:"auto"`

	// InkscapeBinary is the Inkscape executable probed for and invoked when
	// the external engine is selected.
	InkscapeBinary string `env:"RENDER_INKSCAPE_BINARY" envDefault:"inkscape"`

	// ProbeTimeout bounds a single capability probe invocation.
	ProbeTimeout time.Duration `env:"RENDER_PROBE_TIMEOUT" envDefault:"10s"`

	// ProbeRecheckInterval is how long a negative probe result is cached
	// before the binary is probed again.
	ProbeRecheckInterval time.Duration `env:"RENDER_PROBE_RECHECK_INTERVAL" envDefault:"5m"`

	// RenderTimeout bounds a single external page render invocation.
	RenderTimeout time.Duration `env:"RENDER_TIMEOUT" envDefault:"60s"`
}

// Sanitize applies guardrails to render configuration values.
func (r *RenderConfig) Sanitize() {
	r.Engine = strings.ToLower(strings.TrimSpace(r.Engine))
	if r.Engine == "" {
		r.Engine = "auto"
	}
	r.InkscapeBinary = strings.TrimSpace(r.InkscapeBinary)
	if r.InkscapeBinary == "" {
		r.InkscapeBinary = "inkscape"
	}
	if r.ProbeTimeout <= 0 {
		r.ProbeTimeout = 10 * time.Second
	}
	if r.ProbeRecheckInterval < 10*time.Second {
		r.ProbeRecheckInterval = 10 * time.Second
	}
	if r.RenderTimeout <= 0 {
		r.RenderTimeout = 60 * time.Second
	}
}
