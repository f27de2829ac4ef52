// Package replay recomputes rejection reports offline from recorded
// fixtures: the real evaluator runs against scripted classifier and attack
// stand-ins that play back the recorded score matrices and perturbations.
package replay

import (
	"context"
	"fmt"

	"github.com/wangxin0716/robust-generative-classifier/internal/calibrate"
	"github.com/wangxin0716/robust-generative-classifier/internal/data"
	"github.com/wangxin0716/robust-generative-classifier/internal/model"
	"github.com/wangxin0716/robust-generative-classifier/internal/reject"
)

// #region replay
// Replay feeds the fixture through the real rejection evaluator and returns
// the recomputed report. Fully deterministic and in-memory: no model runner
// or attack bridge involved.
func Replay(ctx context.Context, fixture Fixture, config reject.Config) (reject.Report, error) {
	if err := checkAdvCoverage(fixture); err != nil {
		return reject.Report{}, err
	}

	sets := make([]reject.ThresholdSet, len(fixture.Sets))
	for i, s := range fixture.Sets {
		sets[i] = reject.ThresholdSet{
			Name:       s.Name,
			Thresholds: calibrate.ThresholdVector(s.Thresholds),
		}
	}

	clf := &scriptedClassifier{numClasses: fixture.NumClasses}
	adv := &scriptedAttack{}
	for _, b := range fixture.Batches {
		clf.queue = append(clf.queue, b.CleanScores)
		if len(b.AdvInputs) > 0 {
			clf.queue = append(clf.queue, b.AdvScores)
			adv.queue = append(adv.queue, b.AdvInputs)
		}
	}

	loader := &fixtureLoader{fixture: fixture}
	evaluator := reject.NewEvaluator(config)
	return evaluator.Run(ctx, clf, adv, loader, sets)
}

// checkAdvCoverage verifies that each batch's recorded adversarial subset
// matches the correctly classified subset the evaluator will recompute, so
// the scripted playback stays aligned with the evaluator's filtering.
func checkAdvCoverage(fixture Fixture) error {
	for i, b := range fixture.Batches {
		correct := 0
		for j, row := range b.CleanScores {
			if model.Argmax(row) == b.Labels[j] {
				correct++
			}
		}
		if correct != len(b.AdvInputs) {
			return fmt.Errorf("replay: batch %d records %d adversarial rows but %d samples classify correctly", i, len(b.AdvInputs), correct)
		}
	}
	return nil
}

// #endregion replay

// #region compare
// Compare checks a recomputed report against the fixture's expected
// counters. A nil expected passes trivially.
func Compare(report reject.Report, expected *FixtureExpected) error {
	if expected == nil {
		return nil
	}
	if report.NCorrect != expected.NCorrect {
		return fmt.Errorf("replay mismatch: n_correct %d, expected %d", report.NCorrect, expected.NCorrect)
	}
	if report.NSuccessfulAdv != expected.NSuccessfulAdv {
		return fmt.Errorf("replay mismatch: n_successful_adv %d, expected %d", report.NSuccessfulAdv, expected.NSuccessfulAdv)
	}
	for i, want := range expected.NRejected {
		if report.NRejected[i] != want {
			return fmt.Errorf("replay mismatch: set %q rejected %d, expected %d", report.SetNames[i], report.NRejected[i], want)
		}
	}
	return nil
}

// #endregion compare

// #region scripted-collaborators

// scriptedClassifier pops recorded score matrices in call order: clean
// scores first, then adversarial scores for batches that were attacked.
type scriptedClassifier struct {
	numClasses int
	queue      [][][]float64
}

func (c *scriptedClassifier) Forward(_ context.Context, inputs [][]float64) ([][]float64, error) {
	if len(c.queue) == 0 {
		return nil, fmt.Errorf("scripted classifier: no recorded scores left")
	}
	scores := c.queue[0]
	c.queue = c.queue[1:]
	if len(scores) != len(inputs) {
		return nil, fmt.Errorf("scripted classifier: recorded %d rows, got %d inputs", len(scores), len(inputs))
	}
	return scores, nil
}

func (c *scriptedClassifier) NumClasses() int {
	return c.numClasses
}

// scriptedAttack pops recorded perturbed batches in call order.
type scriptedAttack struct {
	queue [][][]float64
}

func (a *scriptedAttack) Name() string {
	return "recorded"
}

func (a *scriptedAttack) Perturb(_ context.Context, inputs [][]float64, _ []int) ([][]float64, error) {
	if len(a.queue) == 0 {
		return nil, fmt.Errorf("scripted attack: no recorded perturbations left")
	}
	perturbed := a.queue[0]
	a.queue = a.queue[1:]
	if len(perturbed) != len(inputs) {
		return nil, fmt.Errorf("scripted attack: recorded %d rows, got %d inputs", len(perturbed), len(inputs))
	}
	return perturbed, nil
}

// fixtureLoader yields the fixture's recorded batches verbatim, preserving
// the original batch boundaries.
type fixtureLoader struct {
	fixture Fixture
	pos     int
}

func (l *fixtureLoader) Next(_ context.Context) (data.Batch, error) {
	if l.pos >= len(l.fixture.Batches) {
		return data.Batch{}, data.End
	}
	b := l.fixture.Batches[l.pos]
	l.pos++
	return data.Batch{
		Inputs:   b.Inputs,
		Labels:   b.Labels,
		RowWidth: l.fixture.RowWidth,
	}, nil
}

func (l *fixtureLoader) Reset() error {
	l.pos = 0
	return nil
}

// #endregion scripted-collaborators
