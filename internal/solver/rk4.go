package solver

import (
	"context"
	"time"

	"phaseflow/internal/ode"
)

// substepsPerSample is the number of fixed RK4 steps taken between
// consecutive reported samples.
const substepsPerSample = 8

// RK4 is the fixed-step classical Runge-Kutta backend. It trades
// adaptive error control for a predictable, branch-free inner loop and
// serves as the accelerated alternative selectable via job options.
type RK4 struct{}

func NewRK4() *RK4 { return &RK4{} }

func (r *RK4) Name() string { return "rk4" }

func (r *RK4) Integrate(ctx context.Context, sys *ode.System, y0 []float64, span Span, opts Options) (*Trajectory, *Stats, error) {
	opts = opts.withDefaults()
	n := sys.Dim()
	if len(y0) != n {
		return nil, nil, ErrDimensionMismatch
	}

	stats := &Stats{}
	traj := &Trajectory{}
	record := func(t float64, y []float64) {
		traj.Times = append(traj.Times, t)
		traj.States = append(traj.States, append([]float64(nil), y...))
	}

	if !allFinite(y0) {
		return traj, stats, &SolveError{Kind: NonFiniteState, T: span.T0}
	}
	record(span.T0, y0)
	if span.T0 == span.Tf {
		return traj, stats, nil
	}

	ts := sampleTimes(span, opts.Points)
	deadline := time.Now().Add(opts.MaxWall)

	y := append([]float64(nil), y0...)
	k1 := make([]float64, n)
	k2 := make([]float64, n)
	k3 := make([]float64, n)
	k4 := make([]float64, n)
	stage := make([]float64, n)

	t := span.T0
	for next := 1; next < len(ts); next++ {
		select {
		case <-ctx.Done():
			return traj, stats, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return traj, stats, &SolveError{Kind: WallClockExceeded, T: t}
		}
		if stats.Steps+substepsPerSample > opts.MaxSteps {
			return traj, stats, &SolveError{Kind: StepCountExceeded, T: t}
		}

		h := (ts[next] - t) / substepsPerSample
		for s := 0; s < substepsPerSample; s++ {
			sys.Eval(t, y, k1)

			for i := 0; i < n; i++ {
				stage[i] = y[i] + h*0.5*k1[i]
			}
			sys.Eval(t+h*0.5, stage, k2)

			for i := 0; i < n; i++ {
				stage[i] = y[i] + h*0.5*k2[i]
			}
			sys.Eval(t+h*0.5, stage, k3)

			for i := 0; i < n; i++ {
				stage[i] = y[i] + h*k3[i]
			}
			sys.Eval(t+h, stage, k4)

			h6 := h / 6.0
			for i := 0; i < n; i++ {
				y[i] += h6 * (k1[i] + 2*k2[i] + 2*k3[i] + k4[i])
			}
			t += h
			stats.Steps++
			stats.Evals += 4
		}
		t = ts[next]

		if !allFinite(y) {
			return traj, stats, &SolveError{Kind: NonFiniteState, T: t}
		}
		if maxAbs(y) > opts.DivergenceBound {
			return traj, stats, &SolveError{Kind: Diverged, T: t}
		}
		record(t, y)
	}

	return traj, stats, nil
}
