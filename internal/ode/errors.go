package ode

import (
	"errors"
	"fmt"
)

// Bind-time errors. Parse and bind failures prevent job creation
// entirely; they never reach a job state.
var (
	// ErrUnsupportedConstruct indicates an AST node outside the allowed
	// grammar subset, such as a derivative on the right-hand side.
	ErrUnsupportedConstruct = errors.New("ode: unsupported construct")

	// ErrDuplicateState indicates the same variable appears twice on
	// the left-hand side.
	ErrDuplicateState = errors.New("ode: duplicate state variable")

	// ErrReservedName indicates an attempt to declare the independent
	// variable as a state variable.
	ErrReservedName = errors.New("ode: 't' is reserved for the independent variable")

	// ErrZeroDivisor indicates a division whose divisor is the literal
	// zero; all other numeric issues are deferred to evaluation time.
	ErrZeroDivisor = errors.New("ode: division by literal zero")
)

// UnknownIdentifierError reports a right-hand-side name that is neither
// a state variable, the independent variable, nor a bound parameter.
type UnknownIdentifierError struct {
	Name string
	Off  int
}

func (e *UnknownIdentifierError) Error() string {
	return fmt.Sprintf("ode: unknown identifier %q at offset %d", e.Name, e.Off)
}

// ArityMismatchError reports unequal left- and right-hand-side list
// lengths in the vector equation form.
type ArityMismatchError struct {
	Expected int
	Actual   int
}

func (e *ArityMismatchError) Error() string {
	return fmt.Sprintf("ode: %d state variables on the left but %d expressions on the right", e.Expected, e.Actual)
}

// CallArityError reports a built-in function applied to the wrong
// number of arguments.
type CallArityError struct {
	Name     string
	Expected int
	Actual   int
}

func (e *CallArityError) Error() string {
	return fmt.Sprintf("ode: %s takes %d argument(s), got %d", e.Name, e.Expected, e.Actual)
}
