package render

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Availability is the probe's three-valued capability state.
type Availability int

const (
	// AvailabilityUnknown means no probe has completed yet.
	AvailabilityUnknown Availability = iota
	// AvailabilityAvailable means the external renderer answered a
	// version check.
	AvailabilityAvailable
	// AvailabilityUnavailable means the last probe failed.
	AvailabilityUnavailable
)

func (a Availability) String() string {
	switch a {
	case AvailabilityAvailable:
		return "available"
	case AvailabilityUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ProbeOptions configures a Probe.
type ProbeOptions struct {
	// Binary is the external renderer executable. Required.
	Binary string
	// Runner executes the version check. Defaults to ExecRunner.
	Runner CommandRunner
	// Timeout bounds one probe attempt. Defaults to 10s.
	Timeout time.Duration
	// RecheckInterval is how long a negative result is trusted before a
	// caller may trigger a fresh probe. Defaults to 5m. A positive result
	// is trusted for the life of the process.
	RecheckInterval time.Duration
	// Logger is optional.
	Logger *slog.Logger
}

// Probe caches whether the external renderer works. At most one check runs
// at a time; concurrent callers share its result. A failed check parks the
// state at unavailable until the recheck interval elapses, so a missing
// binary costs one subprocess spawn per interval, not per job.
type Probe struct {
	binary  string
	runner  CommandRunner
	timeout time.Duration
	recheck time.Duration
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	state     Availability
	checkedAt time.Time
}

// NewProbe creates a Probe from options.
func NewProbe(opts ProbeOptions) (*Probe, error) {
	if opts.Binary == "" {
		return nil, errors.New("probe: binary is required")
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RecheckInterval <= 0 {
		opts.RecheckInterval = 5 * time.Minute
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("component", "render_probe")
	}
	return &Probe{
		binary:  opts.Binary,
		runner:  opts.Runner,
		timeout: opts.Timeout,
		recheck: opts.RecheckInterval,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// State returns the last known availability without blocking.
func (p *Probe) State() Availability {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Check returns the current availability, probing if the state is unknown
// or a stale negative. It never returns an error: every failure mode maps
// to unavailable.
func (p *Probe) Check(ctx context.Context) Availability {
	p.mu.RLock()
	state, checkedAt := p.state, p.checkedAt
	p.mu.RUnlock()

	if state == AvailabilityAvailable {
		return state
	}
	if state == AvailabilityUnavailable && p.now().Sub(checkedAt) < p.recheck {
		return state
	}

	result, _, _ := p.group.Do("probe", func() (any, error) {
		return p.execute(ctx), nil
	})
	return result.(Availability)
}

func (p *Probe) execute(ctx context.Context) Availability {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	stdout, stderr, err := p.runner.Run(ctx, nil, p.binary, "--version")

	state := AvailabilityAvailable
	if err != nil || !bytes.Contains(bytes.ToLower(stdout), []byte("inkscape")) {
		state = AvailabilityUnavailable
	}

	p.mu.Lock()
	p.state = state
	p.checkedAt = p.now()
	p.mu.Unlock()

	if p.logger != nil {
		if state == AvailabilityAvailable {
			p.logger.Debug("external renderer available", "binary", p.binary)
		} else {
			p.logger.Warn("external renderer unavailable",
				"binary", p.binary, "error", err, "stderr", string(stderr))
		}
	}
	return state
}
