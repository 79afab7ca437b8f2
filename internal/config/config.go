// Package config loads and saves the YAML configuration file and
// carries named equation presets.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultWorkers    = 4
	DefaultQueueDepth = 64
	DefaultRelTol     = 1e-6
	DefaultAbsTol     = 1e-9
	DefaultMaxSteps   = 1_000_000
	DefaultMaxWall    = 30 * time.Second
	DefaultPoints     = 201
	DefaultBound      = 1e6
)

type Config struct {
	Solver  string       `yaml:"solver"`
	Workers int          `yaml:"workers"`
	Queue   int          `yaml:"queue_depth"`
	DataDir string       `yaml:"data_dir"`
	Tol     TolConfig    `yaml:"tolerances"`
	Limits  LimitsConfig `yaml:"limits"`
	Log     LogConfig    `yaml:"log"`
}

type TolConfig struct {
	Rel float64 `yaml:"rel"`
	Abs float64 `yaml:"abs"`
}

type LimitsConfig struct {
	MaxSteps int           `yaml:"max_steps"`
	MaxWall  time.Duration `yaml:"max_wall"`
	Points   int           `yaml:"points"`
	Bound    float64       `yaml:"divergence_bound"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

func DefaultConfig() *Config {
	return &Config{
		Solver:  "rk45",
		Workers: DefaultWorkers,
		Queue:   DefaultQueueDepth,
		DataDir: "data",
		Tol: TolConfig{
			Rel: DefaultRelTol,
			Abs: DefaultAbsTol,
		},
		Limits: LimitsConfig{
			MaxSteps: DefaultMaxSteps,
			MaxWall:  DefaultMaxWall,
			Points:   DefaultPoints,
			Bound:    DefaultBound,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load reads a config file, layering it over the defaults so a partial
// file only overrides what it names.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
