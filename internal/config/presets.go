package config

// Preset is a named, ready-to-run equation system.
type Preset struct {
	Source string             `yaml:"source"`
	Params map[string]float64 `yaml:"params,omitempty"`
	ICs    [][]float64        `yaml:"initial_conditions"`
	T0     float64            `yaml:"t0"`
	Tf     float64            `yaml:"tf"`
}

var Presets = map[string]*Preset{
	"decay": {
		Source: "D(x) == -k*x",
		Params: map[string]float64{"k": 1},
		ICs:    [][]float64{{1}, {2}, {5}},
		Tf:     5,
	},
	"oscillator": {
		Source: "{D(x), D(v)} == {v, -x}",
		ICs:    [][]float64{{1, 0}, {2, 0}, {0, 1}},
		Tf:     20,
	},
	"logistic": {
		Source: "D(x) == r*x*(1 - x/k)",
		Params: map[string]float64{"r": 1.5, "k": 10},
		ICs:    [][]float64{{0.1}, {1}, {15}},
		Tf:     10,
	},
	"vanderpol": {
		Source: "{D(x), D(v)} == {v, mu*(1 - x^2)*v - x}",
		Params: map[string]float64{"mu": 2},
		ICs:    [][]float64{{0.5, 0}, {2, 0}},
		Tf:     30,
	},
	"lotka": {
		Source: "{D(x), D(y)} == {a*x - b*x*y, c*x*y - d*y}",
		Params: map[string]float64{"a": 1.1, "b": 0.4, "c": 0.1, "d": 0.4},
		ICs:    [][]float64{{10, 10}, {20, 5}},
		Tf:     50,
	},
	"saddle": {
		Source: "{D(x), D(y)} == {x - y, x*y}",
		ICs:    [][]float64{{1, 0}, {0.5, 0.5}, {-1, 0.2}},
		Tf:     10,
	},
}

func GetPreset(name string) *Preset {
	return Presets[name]
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	return names
}
