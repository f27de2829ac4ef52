// Package calibrate derives per-class confidence thresholds from
// in-distribution data. For each class the classifier's true-class score is
// pooled over correctly classified calibration samples, and low percentiles
// of the sorted pool become the rejection thresholds.
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/wangxin0716/robust-generative-classifier/internal/data"
	"github.com/wangxin0716/robust-generative-classifier/internal/model"
)

// #region calibrator
// Calibrator computes threshold vectors for a fixed percentile choice.
type Calibrator struct {
	config Config
}

// NewCalibrator creates a calibrator with the given configuration.
func NewCalibrator(config Config) *Calibrator {
	return &Calibrator{config: config}
}

// #endregion calibrator

// #region calibrate
// Calibrate streams every class's in-distribution samples through the
// classifier and extracts one ThresholdVector per configured percentile.
// The returned slice is parallel to Config.Percentiles; each vector has
// exactly numClasses entries. Misclassified calibration samples are
// excluded — thresholds reflect only confidently-correct behavior.
// An empty pool for any class aborts with a CalibrationError.
func (c *Calibrator) Calibrate(ctx context.Context, clf model.Classifier, loaderFor data.PerClass, numClasses int) ([]ThresholdVector, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("calibrate: numClasses %d", numClasses)
	}
	if len(c.config.Percentiles) == 0 {
		return nil, fmt.Errorf("calibrate: no percentiles configured")
	}
	for _, p := range c.config.Percentiles {
		if p <= 0 || p >= 1 {
			return nil, fmt.Errorf("calibrate: percentile %g outside (0, 1)", p)
		}
	}

	vectors := make([]ThresholdVector, len(c.config.Percentiles))
	for i := range vectors {
		vectors[i] = make(ThresholdVector, numClasses)
	}

	for class := 0; class < numClasses; class++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pool, err := c.scorePool(ctx, clf, loaderFor, class)
		if err != nil {
			return nil, err
		}
		if len(pool) == 0 {
			return nil, &CalibrationError{Class: class}
		}

		sort.Float64s(pool)
		for i, p := range c.config.Percentiles {
			vectors[i][class] = pool[PercentileIndex(p, len(pool))]
		}

		log.Debug().
			Int("class", class).
			Int("pool_size", len(pool)).
			Floats64("thresholds", thresholdsForClass(vectors, class)).
			Msg("calibrated class thresholds")
	}

	return vectors, nil
}

// #endregion calibrate

// #region score-pool
// scorePool collects the true-class score of every correctly classified
// in-distribution sample of the given class. The pool is consumed by the
// caller and not retained.
func (c *Calibrator) scorePool(ctx context.Context, clf model.Classifier, loaderFor data.PerClass, class int) ([]float64, error) {
	loader, err := loaderFor(class)
	if err != nil {
		return nil, fmt.Errorf("calibrate class %d: %w", class, err)
	}
	if err := loader.Reset(); err != nil {
		return nil, fmt.Errorf("calibrate class %d: reset: %w", class, err)
	}

	var pool []float64
	for {
		batch, err := loader.Next(ctx)
		if errors.Is(err, data.End) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("calibrate class %d: %w", class, err)
		}

		scores, err := clf.Forward(ctx, batch.Inputs)
		if err != nil {
			return nil, fmt.Errorf("calibrate class %d: %w", class, err)
		}

		for i, row := range scores {
			if batch.Labels[i] != class {
				return nil, fmt.Errorf("calibrate class %d: loader yielded label %d", class, batch.Labels[i])
			}
			if model.Argmax(row) == class {
				pool = append(pool, row[class])
			}
		}
	}
	return pool, nil
}

// #endregion score-pool

// #region percentile-index
// PercentileIndex maps a percentile to a 0-indexed position in a sorted
// pool of size n: floor(p*n), clamped to [0, n-1].
func PercentileIndex(p float64, n int) int {
	idx := int(p * float64(n))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// #endregion percentile-index

// #region helpers
func thresholdsForClass(vectors []ThresholdVector, class int) []float64 {
	out := make([]float64, len(vectors))
	for i, v := range vectors {
		out[i] = v[class]
	}
	return out
}

// #endregion helpers
