package ode

import (
	"math"
	"strings"

	"phaseflow/internal/expr"
)

// evalFunc evaluates one scalar component of the derivative vector.
// It is pure: no side effects and no allocation.
type evalFunc func(t float64, y []float64) float64

// System is the compiled, immutable form of a validated equation
// system. All name resolution happened at bind time; evaluation only
// indexes into the state vector. A System is safe for concurrent use.
type System struct {
	vars  []string
	evals []evalFunc
}

// Dim returns the fixed state dimension N.
func (s *System) Dim() int { return len(s.vars) }

// Vars returns the ordered state variable names. The slice must not
// be modified.
func (s *System) Vars() []string { return s.vars }

// Eval writes the derivative vector for (t, y) into dydt. Both y and
// dydt must have length Dim.
func (s *System) Eval(t float64, y, dydt []float64) {
	for i, f := range s.evals {
		dydt[i] = f(t, y)
	}
}

// Compile lowers a bound spec into one evaluator per state dimension.
// Parameters are folded to constants. Numeric semantics follow the
// math package: log of a non-positive value, sqrt of a negative value
// and pow with negative base and fractional exponent all yield NaN
// rather than panicking; the solver detects non-finite outputs.
func Compile(spec *SystemSpec) *System {
	sys := &System{
		vars:  append([]string(nil), spec.Vars...),
		evals: make([]evalFunc, len(spec.RHS)),
	}
	for i, rhs := range spec.RHS {
		sys.evals[i] = compileNode(rhs, spec)
	}
	return sys
}

// BuildSystem parses, binds and compiles equation source text in one
// step. Callers that fan out over initial conditions should go through
// a Cache instead of calling this per request.
func BuildSystem(source string, params map[string]float64) (*System, error) {
	eq, err := expr.Parse(source)
	if err != nil {
		return nil, err
	}
	spec, err := Bind(eq, params)
	if err != nil {
		return nil, err
	}
	return Compile(spec), nil
}

func compileNode(n expr.Node, spec *SystemSpec) evalFunc {
	switch v := n.(type) {
	case *expr.Number:
		c := v.Value
		return func(_ float64, _ []float64) float64 { return c }

	case *expr.Ident:
		if v.Name == IndepVar {
			return func(t float64, _ []float64) float64 { return t }
		}
		if i, ok := spec.index[v.Name]; ok {
			return func(_ float64, y []float64) float64 { return y[i] }
		}
		c := spec.Params[v.Name]
		return func(_ float64, _ []float64) float64 { return c }

	case *expr.Unary:
		x := compileNode(v.X, spec)
		return func(t float64, y []float64) float64 { return -x(t, y) }

	case *expr.Binary:
		l := compileNode(v.L, spec)
		r := compileNode(v.R, spec)
		switch v.Op {
		case '+':
			return func(t float64, y []float64) float64 { return l(t, y) + r(t, y) }
		case '-':
			return func(t float64, y []float64) float64 { return l(t, y) - r(t, y) }
		case '*':
			return func(t float64, y []float64) float64 { return l(t, y) * r(t, y) }
		case '/':
			return func(t float64, y []float64) float64 { return l(t, y) / r(t, y) }
		default: // '^'
			return func(t float64, y []float64) float64 { return math.Pow(l(t, y), r(t, y)) }
		}

	case *expr.Call:
		name := strings.ToLower(v.Name)
		if _, ok := builtins[name]; !ok {
			// state variable access x(t)
			i := spec.index[v.Name]
			return func(_ float64, y []float64) float64 { return y[i] }
		}
		if len(v.Args) == 1 {
			arg := compileNode(v.Args[0], spec)
			var f func(float64) float64
			switch name {
			case "sin":
				f = math.Sin
			case "cos":
				f = math.Cos
			case "exp":
				f = math.Exp
			case "log":
				f = math.Log
			case "sqrt":
				f = math.Sqrt
			default: // abs
				f = math.Abs
			}
			return func(t float64, y []float64) float64 { return f(arg(t, y)) }
		}
		a := compileNode(v.Args[0], spec)
		b := compileNode(v.Args[1], spec)
		switch name {
		case "min":
			return func(t float64, y []float64) float64 { return math.Min(a(t, y), b(t, y)) }
		case "max":
			return func(t float64, y []float64) float64 { return math.Max(a(t, y), b(t, y)) }
		default: // pow
			return func(t float64, y []float64) float64 { return math.Pow(a(t, y), b(t, y)) }
		}

	default:
		// unreachable: Bind admits only the closed node set
		return func(_ float64, _ []float64) float64 { return math.NaN() }
	}
}
