package solver

import (
	"context"
	"time"

	"phaseflow/internal/ode"
)

// Span is the integration interval [T0, Tf].
type Span struct {
	T0 float64
	Tf float64
}

// Options controls one integration run.
type Options struct {
	// RelTol and AbsTol are the local error tolerances for adaptive
	// backends.
	RelTol float64
	AbsTol float64
	// MaxSteps bounds the number of accepted internal steps.
	MaxSteps int
	// MaxWall bounds the wall-clock time of one integration.
	MaxWall time.Duration
	// Points is the number of reported samples over the span,
	// endpoints included.
	Points int
	// DivergenceBound fails the run when any state component's
	// magnitude exceeds it.
	DivergenceBound float64
}

func DefaultOptions() Options {
	return Options{
		RelTol:          1e-6,
		AbsTol:          1e-9,
		MaxSteps:        1_000_000,
		MaxWall:         30 * time.Second,
		Points:          201,
		DivergenceBound: 1e6,
	}
}

// withDefaults fills zero-valued fields so callers can set only what
// they care about.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RelTol <= 0 {
		o.RelTol = d.RelTol
	}
	if o.AbsTol <= 0 {
		o.AbsTol = d.AbsTol
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = d.MaxSteps
	}
	if o.MaxWall <= 0 {
		o.MaxWall = d.MaxWall
	}
	if o.Points < 2 {
		o.Points = d.Points
	}
	if o.DivergenceBound <= 0 {
		o.DivergenceBound = d.DivergenceBound
	}
	return o
}

// Trajectory is a time-ordered sequence of (t, state) samples. Times
// are strictly increasing and, on success, span exactly [T0, Tf]
// inclusive of both endpoints.
type Trajectory struct {
	Times  []float64
	States [][]float64
}

// Stats reports integration effort.
type Stats struct {
	Steps    int
	Rejected int
	Evals    int
}

// Backend is a numerical integrator. Implementations never panic on
// numerical trouble: stiffness, divergence and non-finite states are
// reported as a *SolveError together with the partial trajectory
// accumulated up to the failure point.
type Backend interface {
	Name() string
	Integrate(ctx context.Context, sys *ode.System, y0 []float64, span Span, opts Options) (*Trajectory, *Stats, error)
}

// sampleTimes returns Points values evenly spaced over the span with
// exact endpoints.
func sampleTimes(span Span, points int) []float64 {
	ts := make([]float64, points)
	h := (span.Tf - span.T0) / float64(points-1)
	for i := range ts {
		ts[i] = span.T0 + float64(i)*h
	}
	ts[len(ts)-1] = span.Tf
	return ts
}
