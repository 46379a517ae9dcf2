package health

import (
	"context"
	"time"

	corehealth "3tcapital/ecfcore/internal/core/health"
)

// probeTimeout bounds each dependency probe so a hung database cannot hang
// the health endpoint.
const probeTimeout = 2 * time.Second

// Metadata contains immutable metadata about the running service.
type Metadata struct {
	Service     string
	Version     string
	Environment string
}

// Probe reports whether a dependency is reachable. *pgxpool.Pool satisfies it.
type Probe interface {
	Ping(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Ping(ctx context.Context) error { return f(ctx) }

type namedProbe struct {
	name     string
	probe    Probe
	critical bool
}

// Service exposes health-check use cases to adapters.
type Service struct {
	meta      Metadata
	startedAt time.Time
	probes    []namedProbe
}

func NewService(meta Metadata) *Service {
	return &Service{
		meta:      meta,
		startedAt: time.Now().UTC(),
	}
}

// WithProbe registers a dependency. A failing critical probe reports the
// service DOWN; a failing non-critical one reports it DEGRADED.
func (s *Service) WithProbe(name string, probe Probe, critical bool) *Service {
	s.probes = append(s.probes, namedProbe{name: name, probe: probe, critical: critical})
	return s
}

// Status returns the current availability snapshot.
func (s *Service) Status(ctx context.Context) corehealth.Status {
	uptime := time.Since(s.startedAt)
	status := corehealth.Status{
		Service:     s.meta.Service,
		Version:     s.meta.Version,
		Environment: s.meta.Environment,
		Status:      corehealth.StatusUp,
		StartedAt:   s.startedAt,
		Uptime:      uptime.String(),
		UptimeSecs:  int64(uptime.Seconds()),
	}

	for _, p := range s.probes {
		check := corehealth.Check{Name: p.name, Status: corehealth.StatusUp, Critical: p.critical}
		if err := ping(ctx, p.probe); err != nil {
			check.Status = corehealth.StatusDown
			check.Error = err.Error()
			switch {
			case p.critical:
				status.Status = corehealth.StatusDown
			case status.Status == corehealth.StatusUp:
				status.Status = corehealth.StatusDegraded
			}
		}
		status.Checks = append(status.Checks, check)
	}
	return status
}

func ping(ctx context.Context, p Probe) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return p.Ping(ctx)
}
