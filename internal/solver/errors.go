package solver

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch indicates an initial vector whose length does
// not equal the system dimension.
var ErrDimensionMismatch = errors.New("solver: initial condition dimension mismatch")

// FailureKind classifies a numerical integration failure.
type FailureKind string

const (
	// NonFiniteState: a state or derivative value became NaN or Inf.
	NonFiniteState FailureKind = "non_finite_state"
	// StepCountExceeded: the accepted-step budget ran out before Tf.
	StepCountExceeded FailureKind = "step_count_exceeded"
	// WallClockExceeded: the wall-clock budget ran out before Tf.
	WallClockExceeded FailureKind = "wall_clock_exceeded"
	// Diverged: a state magnitude exceeded the configured bound.
	Diverged FailureKind = "diverged"
)

// SolveError is a per-trajectory numerical failure. The trajectory
// accumulated before time T is still returned by Integrate.
type SolveError struct {
	Kind FailureKind
	T    float64
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("solver: %s at t=%g", e.Kind, e.T)
}
