package solver

import (
	"context"
	"math"
	"time"

	"phaseflow/internal/ode"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

// RK45 is the adaptive explicit Runge-Kutta reference backend.
type RK45 struct {
	safety   float64
	minScale float64
	maxScale float64
}

func NewRK45() *RK45 {
	return &RK45{
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
	}
}

func (r *RK45) Name() string { return "rk45" }

func (r *RK45) Integrate(ctx context.Context, sys *ode.System, y0 []float64, span Span, opts Options) (*Trajectory, *Stats, error) {
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
	k5 := make([]float64, n)
	k6 := make([]float64, n)
	k7 := make([]float64, n)
	stage := make([]float64, n)
	yNew := make([]float64, n)

	t := span.T0
	dt := (span.Tf - span.T0) / float64(opts.Points-1)
	next := 1

	sys.Eval(t, y, k1)
	stats.Evals++
	if !allFinite(k1) {
		return traj, stats, &SolveError{Kind: NonFiniteState, T: t}
	}

	for next < len(ts) {
		select {
		case <-ctx.Done():
			return traj, stats, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return traj, stats, &SolveError{Kind: WallClockExceeded, T: t}
		}
		if stats.Steps >= opts.MaxSteps {
			return traj, stats, &SolveError{Kind: StepCountExceeded, T: t}
		}

		// never overshoot the next sample point
		h := dt
		atSample := false
		if t+h >= ts[next] {
			h = ts[next] - t
			atSample = true
		}

		for i := 0; i < n; i++ {
			stage[i] = y[i] + h*b21*k1[i]
		}
		sys.Eval(t+a2*h, stage, k2)

		for i := 0; i < n; i++ {
			stage[i] = y[i] + h*(b31*k1[i]+b32*k2[i])
		}
		sys.Eval(t+a3*h, stage, k3)

		for i := 0; i < n; i++ {
			stage[i] = y[i] + h*(b41*k1[i]+b42*k2[i]+b43*k3[i])
		}
		sys.Eval(t+a4*h, stage, k4)

		for i := 0; i < n; i++ {
			stage[i] = y[i] + h*(b51*k1[i]+b52*k2[i]+b53*k3[i]+b54*k4[i])
		}
		sys.Eval(t+a5*h, stage, k5)

		for i := 0; i < n; i++ {
			stage[i] = y[i] + h*(b61*k1[i]+b62*k2[i]+b63*k3[i]+b64*k4[i]+b65*k5[i])
		}
		sys.Eval(t+h, stage, k6)

		for i := 0; i < n; i++ {
			yNew[i] = y[i] + h*(c1*k1[i]+c3*k3[i]+c4*k4[i]+c5*k5[i]+c6*k6[i])
		}
		sys.Eval(t+h, yNew, k7)
		stats.Evals += 6

		if !allFinite(yNew) || !allFinite(k7) {
			return traj, stats, &SolveError{Kind: NonFiniteState, T: t + h}
		}

		errMax := 0.0
		for i := 0; i < n; i++ {
			errEst := h * (dc1*k1[i] + dc3*k3[i] + dc4*k4[i] + dc5*k5[i] + dc6*k6[i] + dc7*k7[i])
			sc := opts.AbsTol + opts.RelTol*math.Max(math.Abs(y[i]), math.Abs(yNew[i]))
			errMax = math.Max(errMax, math.Abs(errEst)/sc)
		}

		if errMax > 1 {
			stats.Rejected++
			dt = h * math.Max(r.minScale, r.safety*math.Pow(errMax, -0.25))
			continue
		}

		// accepted; k7 is the derivative at the new point (FSAL)
		copy(y, yNew)
		copy(k1, k7)
		stats.Steps++
		if atSample {
			t = ts[next]
		} else {
			t += h
		}

		if maxAbs(y) > opts.DivergenceBound {
			return traj, stats, &SolveError{Kind: Diverged, T: t}
		}

		if atSample {
			record(t, y)
			next++
		}

		if errMax > 0 {
			dt = h * math.Min(r.maxScale, r.safety*math.Pow(errMax, -0.2))
		} else {
			dt = h * r.maxScale
		}
	}

	return traj, stats, nil
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
