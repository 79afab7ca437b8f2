package solver

import "fmt"

// DefaultBackend is used when a submission names no solver.
const DefaultBackend = "rk45"

// New returns the backend for the given name. The set of backends is
// closed; an empty name selects the default.
func New(name string) (Backend, error) {
	switch name {
	case "", DefaultBackend:
		return NewRK45(), nil
	case "rk4":
		return NewRK4(), nil
	default:
		return nil, fmt.Errorf("solver: unknown backend %q (available: %v)", name, Names())
	}
}

// Names lists the selectable backends.
func Names() []string {
	return []string{"rk45", "rk4"}
}
