package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("orchestrator: closed")

	// ErrNotReady is returned by Result while the job is not terminal.
	ErrNotReady = errors.New("orchestrator: result not ready")

	// ErrInvalidSpan is returned when the span end precedes its start.
	ErrInvalidSpan = errors.New("orchestrator: span end precedes start")
)

// DimensionMismatchError reports an initial condition whose length does
// not match the system dimension. No job is created.
type DimensionMismatchError struct {
	Index    int
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("orchestrator: initial condition %d has %d components, system has dimension %d",
		e.Index, e.Actual, e.Expected)
}
