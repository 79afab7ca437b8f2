package ode

import (
	"strings"

	"phaseflow/internal/expr"
)

// IndepVar is the name of the independent variable. The surface syntax
// fixes it to t, matching the accepted derivative forms x'(t), D(x(t)).
const IndepVar = "t"

// arity of the closed built-in function set. Names are matched
// case-insensitively so the Mathematica spellings (Sin, Min, ...) work.
var builtins = map[string]int{
	"sin":  1,
	"cos":  1,
	"exp":  1,
	"log":  1,
	"sqrt": 1,
	"abs":  1,
	"pow":  2,
	"min":  2,
	"max":  2,
}

// SystemSpec is a validated equation system ready for compilation.
// Variable order fixes the state vector's index assignment.
type SystemSpec struct {
	Vars   []string
	RHS    []expr.Node
	Params map[string]float64

	index map[string]int
}

// Dim returns the state dimension.
func (s *SystemSpec) Dim() int { return len(s.Vars) }

// Bind resolves every name in the equation against the state variables
// collected from the left-hand side, the independent variable and the
// given parameter map. It returns a compilable spec or the first
// semantic error found.
func Bind(eq *expr.Equation, params map[string]float64) (*SystemSpec, error) {
	if len(eq.Derivs) != len(eq.RHS) {
		return nil, &ArityMismatchError{Expected: len(eq.Derivs), Actual: len(eq.RHS)}
	}

	spec := &SystemSpec{
		RHS:    eq.RHS,
		Params: params,
		index:  make(map[string]int, len(eq.Derivs)),
	}
	for _, d := range eq.Derivs {
		if d.Var == IndepVar {
			return nil, ErrReservedName
		}
		if _, dup := spec.index[d.Var]; dup {
			return nil, ErrDuplicateState
		}
		spec.index[d.Var] = len(spec.Vars)
		spec.Vars = append(spec.Vars, d.Var)
	}

	for _, rhs := range eq.RHS {
		if err := spec.check(rhs); err != nil {
			return nil, err
		}
	}
	return spec, nil
}

func (s *SystemSpec) resolvable(name string) bool {
	if name == IndepVar {
		return true
	}
	if _, ok := s.index[name]; ok {
		return true
	}
	_, ok := s.Params[name]
	return ok
}

// check walks one right-hand side, validating names, function arities
// and statically detectable undefined forms. Anything outside the
// closed node set is rejected outright.
func (s *SystemSpec) check(n expr.Node) error {
	switch v := n.(type) {
	case *expr.Number:
		return nil

	case *expr.Ident:
		if !s.resolvable(v.Name) {
			return &UnknownIdentifierError{Name: v.Name, Off: v.Off}
		}
		return nil

	case *expr.Unary:
		return s.check(v.X)

	case *expr.Binary:
		if err := s.check(v.L); err != nil {
			return err
		}
		if err := s.check(v.R); err != nil {
			return err
		}
		if v.Op == '/' && isLiteralZero(v.R) {
			return ErrZeroDivisor
		}
		return nil

	case *expr.Call:
		if v.Name == "D" {
			// derivatives belong on the left-hand side
			return ErrUnsupportedConstruct
		}
		if arity, ok := builtins[strings.ToLower(v.Name)]; ok {
			if len(v.Args) != arity {
				return &CallArityError{Name: v.Name, Expected: arity, Actual: len(v.Args)}
			}
			for _, a := range v.Args {
				if err := s.check(a); err != nil {
					return err
				}
			}
			return nil
		}
		// x(t) / x[t] style state variable access
		if len(v.Args) == 1 {
			if arg, ok := v.Args[0].(*expr.Ident); ok && arg.Name == IndepVar {
				if _, ok := s.index[v.Name]; ok {
					return nil
				}
			}
		}
		return &UnknownIdentifierError{Name: v.Name, Off: v.Off}

	default:
		return ErrUnsupportedConstruct
	}
}

func isLiteralZero(n expr.Node) bool {
	switch v := n.(type) {
	case *expr.Number:
		return v.Value == 0
	case *expr.Unary:
		return isLiteralZero(v.X)
	}
	return false
}
