package replay

import (
	"encoding/json"
	"fmt"
	"os"
)

// #region fixture-types

// Fixture is the top-level JSON structure for an offline replay: recorded
// batches of clean and adversarial traffic, the threshold sets in force,
// and optionally the counters the original session produced.
type Fixture struct {
	Description string                `json:"description"`
	NumClasses  int                   `json:"num_classes"`
	RowWidth    int                   `json:"row_width"`
	Sets        []FixtureThresholdSet `json:"threshold_sets"`
	Batches     []FixtureBatch        `json:"batches"`
	Expected    *FixtureExpected      `json:"expected,omitempty"`
}

// FixtureThresholdSet is a named per-class threshold vector.
type FixtureThresholdSet struct {
	Name       string    `json:"name"`
	Thresholds []float64 `json:"thresholds"`
}

// FixtureBatch records one batch as the evaluator saw it. CleanScores
// covers the full batch; AdvInputs/AdvScores cover only the correctly
// classified subset that was actually attacked, in filter order.
type FixtureBatch struct {
	Inputs      [][]float64 `json:"inputs"`
	Labels      []int       `json:"labels"`
	CleanScores [][]float64 `json:"clean_scores"`
	AdvInputs   [][]float64 `json:"adv_inputs"`
	AdvScores   [][]float64 `json:"adv_scores"`
}

// FixtureExpected captures the counters the recorded session produced,
// for regression comparison after replay.
type FixtureExpected struct {
	NCorrect       int   `json:"n_correct"`
	NSuccessfulAdv int   `json:"n_successful_adv"`
	NRejected      []int `json:"n_rejected"`
}

// #endregion fixture-types

// #region load
// LoadFixture reads and validates a fixture JSON file.
func LoadFixture(path string) (Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("read fixture: %w", err)
	}

	var f Fixture
	if err := json.Unmarshal(raw, &f); err != nil {
		return Fixture{}, fmt.Errorf("parse fixture: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Fixture{}, fmt.Errorf("fixture %s: %w", path, err)
	}
	return f, nil
}

// #endregion load

// #region validate
// Validate checks the fixture's internal shape consistency.
func (f Fixture) Validate() error {
	if f.NumClasses <= 0 {
		return fmt.Errorf("num_classes %d", f.NumClasses)
	}
	if len(f.Sets) == 0 {
		return fmt.Errorf("no threshold sets")
	}
	for _, s := range f.Sets {
		if len(s.Thresholds) != f.NumClasses {
			return fmt.Errorf("threshold set %q has %d entries, expected %d", s.Name, len(s.Thresholds), f.NumClasses)
		}
	}
	for i, b := range f.Batches {
		if len(b.Inputs) != len(b.Labels) || len(b.Inputs) != len(b.CleanScores) {
			return fmt.Errorf("batch %d: inputs/labels/clean_scores length mismatch", i)
		}
		if len(b.AdvInputs) != len(b.AdvScores) {
			return fmt.Errorf("batch %d: adv_inputs/adv_scores length mismatch", i)
		}
		for j, row := range b.CleanScores {
			if len(row) != f.NumClasses {
				return fmt.Errorf("batch %d: clean score row %d has %d classes", i, j, len(row))
			}
		}
		for j, row := range b.AdvScores {
			if len(row) != f.NumClasses {
				return fmt.Errorf("batch %d: adv score row %d has %d classes", i, j, len(row))
			}
		}
	}
	if f.Expected != nil && len(f.Expected.NRejected) != len(f.Sets) {
		return fmt.Errorf("expected has %d rejection counts for %d sets", len(f.Expected.NRejected), len(f.Sets))
	}
	return nil
}

// #endregion validate
