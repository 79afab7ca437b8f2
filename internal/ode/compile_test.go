package ode

import (
	"math"
	"sync"
	"testing"
)

func buildTest(t *testing.T, src string, params map[string]float64) *System {
	t.Helper()
	sys, err := BuildSystem(src, params)
	if err != nil {
		t.Fatalf("build %q: %v", src, err)
	}
	return sys
}

func TestCompileLinearSystem(t *testing.T) {
	sys := buildTest(t, "{D(x), D(y)} == {x - y, x*y}", nil)

	dydt := make([]float64, 2)
	sys.Eval(0, []float64{1, 0}, dydt)
	if dydt[0] != 1 || dydt[1] != 0 {
		t.Errorf("f(0, [1,0]) = %v, want [1 0]", dydt)
	}
	sys.Eval(0, []float64{0.5, 0.5}, dydt)
	if dydt[0] != 0 || dydt[1] != 0.25 {
		t.Errorf("f(0, [0.5,0.5]) = %v, want [0 0.25]", dydt)
	}
}

func TestCompileTimeDependence(t *testing.T) {
	sys := buildTest(t, "D(x) == t*x", nil)
	dydt := make([]float64, 1)
	sys.Eval(3, []float64{2}, dydt)
	if dydt[0] != 6 {
		t.Errorf("f(3, [2]) = %v, want 6", dydt[0])
	}
}

func TestCompileParameterFolding(t *testing.T) {
	sys := buildTest(t, "D(x) == -k*x", map[string]float64{"k": 0.25})
	dydt := make([]float64, 1)
	sys.Eval(0, []float64{4}, dydt)
	if dydt[0] != -1 {
		t.Errorf("f(0, [4]) = %v, want -1", dydt[0])
	}
}

func TestCompileFunctions(t *testing.T) {
	tests := []struct {
		src  string
		y    float64
		want float64
	}{
		{"D(x) == sin(x)", 0, 0},
		{"D(x) == cos(x)", 0, 1},
		{"D(x) == exp(x)", 0, 1},
		{"D(x) == sqrt(x)", 4, 2},
		{"D(x) == abs(x)", -3, 3},
		{"D(x) == min(x, 2)", 5, 2},
		{"D(x) == max(x, 2)", 5, 5},
		{"D(x) == pow(x, 3)", 2, 8},
		{"D(x) == x^2", 3, 9},
		{"D(x) == -x^2", 3, -9},
	}
	dydt := make([]float64, 1)
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			sys := buildTest(t, tt.src, nil)
			sys.Eval(0, []float64{tt.y}, dydt)
			if dydt[0] != tt.want {
				t.Errorf("got %v, want %v", dydt[0], tt.want)
			}
		})
	}
}

func TestCompileStateAccessCalls(t *testing.T) {
	// x(t) and x[t] compile to plain state reads, alongside builtins
	sys := buildTest(t, "{D(x), D(y)} == {y(t) - x(t), sin(x[t]) + max(y[t], 0)}", nil)
	dydt := make([]float64, 2)
	sys.Eval(0, []float64{0.5, 2}, dydt)
	if dydt[0] != 1.5 {
		t.Errorf("dydt[0] = %v, want 1.5", dydt[0])
	}
	if want := math.Sin(0.5) + 2; dydt[1] != want {
		t.Errorf("dydt[1] = %v, want %v", dydt[1], want)
	}
}

func TestCompileNaNSemantics(t *testing.T) {
	tests := []struct {
		name string
		src  string
		y    float64
	}{
		{"log of negative", "D(x) == log(x)", -1},
		{"sqrt of negative", "D(x) == sqrt(x)", -1},
		{"pow negative base fractional exponent", "D(x) == pow(x, 0.5)", -2},
	}
	dydt := make([]float64, 1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys := buildTest(t, tt.src, nil)
			sys.Eval(0, []float64{tt.y}, dydt)
			if !math.IsNaN(dydt[0]) {
				t.Errorf("expected NaN, got %v", dydt[0])
			}
		})
	}
}

func TestCompileDeterminism(t *testing.T) {
	// compiling the same normalized text twice must produce
	// bit-identical outputs for any fixed input
	const src = "{D(x), D(y)} == {sin(x)*y - t/3, exp(-x) + y^2}"
	a := buildTest(t, src, nil)
	b := buildTest(t, "  {D(x),D(y)}  ==  {sin(x)*y - t/3, exp(-x) + y^2}", nil)

	da := make([]float64, 2)
	db := make([]float64, 2)
	for _, in := range [][3]float64{{0, 1, 2}, {1.5, -0.3, 0.7}, {100, 1e-8, 42}} {
		a.Eval(in[0], []float64{in[1], in[2]}, da)
		b.Eval(in[0], []float64{in[1], in[2]}, db)
		if math.Float64bits(da[0]) != math.Float64bits(db[0]) ||
			math.Float64bits(da[1]) != math.Float64bits(db[1]) {
			t.Errorf("outputs differ for input %v: %v vs %v", in, da, db)
		}
	}
}

func TestCompileConcurrentEval(t *testing.T) {
	sys := buildTest(t, "{D(x), D(y)} == {x - y, x*y}", nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dydt := make([]float64, 2)
			for i := 0; i < 1000; i++ {
				sys.Eval(float64(i), []float64{1, 2}, dydt)
				if dydt[0] != -1 || dydt[1] != 2 {
					t.Errorf("concurrent eval corrupted: %v", dydt)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestCacheSharesSystems(t *testing.T) {
	cache := NewCache()
	build := func() (*System, error) { return BuildSystem("D(x) == -x", nil) }

	a, err := cache.Build("D(x) == -x", nil, build)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	b, err := cache.Build("D(x)  ==  -x", nil, build)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if a != b {
		t.Error("normalized-equal sources must share one compiled system")
	}

	c, err := cache.Build("D(x) == -x", map[string]float64{"k": 1}, build)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if a == c {
		t.Error("different parameter values must not share a cache entry")
	}
}

func BenchmarkEval(b *testing.B) {
	sys, err := BuildSystem("{D(x), D(y)} == {sin(x)*y - t/3, exp(-x) + y^2}", nil)
	if err != nil {
		b.Fatal(err)
	}
	y := []float64{1.0, 0.5}
	dydt := make([]float64, 2)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sys.Eval(float64(i), y, dydt)
	}
}
