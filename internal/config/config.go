// Package config holds the run-level configuration shared by the command
// line tools: which model to load, where the runner and attack services
// live, and how calibration and evaluation are parameterized.
package config

import (
	"fmt"
	"time"
)

// #region run-config
// Run is the immutable configuration of one calibration or evaluation
// session. Built once at startup from flags and environment, then passed
// down by value.
type Run struct {
	// Model selection.
	ModelKind  string // "resnet" | "sdim"
	Layers     int    // ResNet depth, e.g. 18
	Dataset    string // "cifar10" | "svhn" | ...
	NumClasses int
	RepSize    int // SDIM representation size, ignored for resnet

	// Services.
	RunnerURL string // model runner bridge
	AttackURL string // attack service bridge

	// Data.
	BatchSize int

	// Calibration.
	Percentiles []float64

	// Evaluation.
	AttackTimeout time.Duration

	// Persistence and observability.
	DBPath      string
	MetricsAddr string // empty disables the metrics listener
}

// DefaultRun returns the defaults matching the original experiments:
// ResNet-18 on CIFAR-10 with 1st/2nd percentile thresholds.
func DefaultRun() Run {
	return Run{
		ModelKind:     "resnet",
		Layers:        18,
		Dataset:       "cifar10",
		NumClasses:    10,
		RepSize:       128,
		RunnerURL:     "http://127.0.0.1:8781",
		AttackURL:     "http://127.0.0.1:8782",
		BatchSize:     200,
		Percentiles:   []float64{0.01, 0.02},
		AttackTimeout: 10 * time.Minute,
		DBPath:        "robusteval.db",
	}
}

// Validate checks the configuration for values no session can run with.
func (r Run) Validate() error {
	if r.ModelKind != "resnet" && r.ModelKind != "sdim" {
		return fmt.Errorf("config: unknown model kind %q", r.ModelKind)
	}
	if r.Layers <= 0 {
		return fmt.Errorf("config: layers must be positive, got %d", r.Layers)
	}
	if r.Dataset == "" {
		return fmt.Errorf("config: dataset is required")
	}
	if r.NumClasses <= 0 {
		return fmt.Errorf("config: num classes must be positive, got %d", r.NumClasses)
	}
	if r.ModelKind == "sdim" && r.RepSize <= 0 {
		return fmt.Errorf("config: rep size must be positive for sdim, got %d", r.RepSize)
	}
	if r.RunnerURL == "" {
		return fmt.Errorf("config: runner URL is required")
	}
	if r.BatchSize <= 0 {
		return fmt.Errorf("config: batch size must be positive, got %d", r.BatchSize)
	}
	if len(r.Percentiles) == 0 {
		return fmt.Errorf("config: at least one percentile is required")
	}
	for _, p := range r.Percentiles {
		if p <= 0 || p >= 1 {
			return fmt.Errorf("config: percentile %g out of (0, 1)", p)
		}
	}
	if r.AttackTimeout <= 0 {
		return fmt.Errorf("config: attack timeout must be positive")
	}
	return nil
}

// #endregion run-config
