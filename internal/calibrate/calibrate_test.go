package calibrate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangxin0716/robust-generative-classifier/internal/data"
)

// encodedClassifier reads samples of the form [score, class] and returns a
// score row with `score` at that class. Negative scores force a
// misclassification since the zero entries then win the argmax.
type encodedClassifier struct {
	classes int
}

func (c *encodedClassifier) Forward(_ context.Context, inputs [][]float64) ([][]float64, error) {
	scores := make([][]float64, len(inputs))
	for i, in := range inputs {
		row := make([]float64, c.classes)
		row[int(in[1])] = in[0]
		scores[i] = row
	}
	return scores, nil
}

func (c *encodedClassifier) NumClasses() int {
	return c.classes
}

// classSamples builds n samples of the class with the given scores.
func classSamples(class int, scores []float64) ([][]float64, []int) {
	inputs := make([][]float64, len(scores))
	labels := make([]int, len(scores))
	for i, s := range scores {
		inputs[i] = []float64{s, float64(class)}
		labels[i] = class
	}
	return inputs, labels
}

func perClass(pools map[int][]float64, batchSize int) data.PerClass {
	return func(class int) (data.Loader, error) {
		inputs, labels := classSamples(class, pools[class])
		return data.NewSliceLoader(inputs, labels, batchSize)
	}
}

// #region percentile-index-tests

func TestPercentileIndex(t *testing.T) {
	tests := []struct {
		p    float64
		n    int
		want int
	}{
		{0.01, 100, 1},
		{0.02, 100, 2},
		{0.01, 50, 0},  // floor(0.5) = 0
		{0.02, 50, 1},
		{0.99, 10, 9},
		{0.5, 4, 2},
		{0.01, 1, 0},
		{0.999, 1000, 999}, // clamp upper
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("p=%g,n=%d", tt.p, tt.n), func(t *testing.T) {
			assert.Equal(t, tt.want, PercentileIndex(tt.p, tt.n))
		})
	}
}

// #endregion percentile-index-tests

// #region calibrate-tests

func TestCalibrate_KnownPool(t *testing.T) {
	// Class pools with exactly 100 scores 0.01..1.00: the 1st percentile
	// threshold is the second-lowest score, the 2nd the third-lowest.
	pool := make([]float64, 100)
	for i := range pool {
		pool[i] = float64(i+1) / 100
	}
	// Unsorted input order must not matter.
	shuffled := append([]float64{pool[99], pool[50]}, pool[:50]...)
	shuffled = append(shuffled, pool[51:99]...)

	pools := map[int][]float64{0: shuffled, 1: pool}
	clf := &encodedClassifier{classes: 2}

	c := NewCalibrator(DefaultConfig())
	vectors, err := c.Calibrate(context.Background(), clf, perClass(pools, 7), 2)
	require.NoError(t, err)
	require.Len(t, vectors, 2)

	for class := 0; class < 2; class++ {
		assert.InDelta(t, 0.02, vectors[0][class], 1e-12, "1st percentile, class %d", class)
		assert.InDelta(t, 0.03, vectors[1][class], 1e-12, "2nd percentile, class %d", class)
	}
}

func TestCalibrate_MonotonicAcrossPercentiles(t *testing.T) {
	pools := map[int][]float64{}
	for class := 0; class < 3; class++ {
		scores := make([]float64, 60)
		for i := range scores {
			scores[i] = float64((i*37+class)%60+1) / 61
		}
		pools[class] = scores
	}
	clf := &encodedClassifier{classes: 3}

	c := NewCalibrator(Config{Percentiles: []float64{0.01, 0.02, 0.1}})
	vectors, err := c.Calibrate(context.Background(), clf, perClass(pools, 16), 3)
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	for class := 0; class < 3; class++ {
		assert.LessOrEqual(t, vectors[0][class], vectors[1][class])
		assert.LessOrEqual(t, vectors[1][class], vectors[2][class])
	}
}

// Misclassified calibration samples must not enter the pool: a negative
// encoded score loses the argmax, so only the 0.5 sample survives.
func TestCalibrate_ExcludesMisclassified(t *testing.T) {
	pools := map[int][]float64{
		0: {-0.9, 0.5, -0.1},
		1: {0.7},
	}
	clf := &encodedClassifier{classes: 2}

	c := NewCalibrator(Config{Percentiles: []float64{0.01}})
	vectors, err := c.Calibrate(context.Background(), clf, perClass(pools, 4), 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, vectors[0][0], 1e-12)
	assert.InDelta(t, 0.7, vectors[0][1], 1e-12)
}

func TestCalibrate_EmptyPoolFatal(t *testing.T) {
	// Class 1 has only misclassified samples.
	pools := map[int][]float64{
		0: {0.5, 0.6},
		1: {-0.5, -0.6},
	}
	clf := &encodedClassifier{classes: 2}

	c := NewCalibrator(DefaultConfig())
	_, err := c.Calibrate(context.Background(), clf, perClass(pools, 4), 2)
	require.Error(t, err)

	var calErr *CalibrationError
	require.True(t, errors.As(err, &calErr))
	assert.Equal(t, 1, calErr.Class)
}

// A classifier that is always fully confident pins every threshold to 1.0
// regardless of percentile.
func TestCalibrate_FullyConfidentClassifier(t *testing.T) {
	pools := map[int][]float64{0: {1, 1, 1, 1}, 1: {1, 1}}
	clf := &encodedClassifier{classes: 2}

	c := NewCalibrator(DefaultConfig())
	vectors, err := c.Calibrate(context.Background(), clf, perClass(pools, 3), 2)
	require.NoError(t, err)
	for _, v := range vectors {
		for class := range v {
			assert.Equal(t, 1.0, v[class])
		}
	}
}

func TestCalibrate_Idempotent(t *testing.T) {
	pools := map[int][]float64{0: {0.3, 0.1, 0.9, 0.2}, 1: {0.8, 0.4}}
	clf := &encodedClassifier{classes: 2}
	c := NewCalibrator(DefaultConfig())

	first, err := c.Calibrate(context.Background(), clf, perClass(pools, 2), 2)
	require.NoError(t, err)
	second, err := c.Calibrate(context.Background(), clf, perClass(pools, 2), 2)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCalibrate_BadInputs(t *testing.T) {
	clf := &encodedClassifier{classes: 2}
	loaderFor := perClass(map[int][]float64{0: {0.5}, 1: {0.5}}, 2)

	_, err := NewCalibrator(DefaultConfig()).Calibrate(context.Background(), clf, loaderFor, 0)
	assert.Error(t, err)

	_, err = NewCalibrator(Config{}).Calibrate(context.Background(), clf, loaderFor, 2)
	assert.Error(t, err)

	_, err = NewCalibrator(Config{Percentiles: []float64{1.5}}).Calibrate(context.Background(), clf, loaderFor, 2)
	assert.Error(t, err)
}

// A loader that yields samples of the wrong class is a wiring bug and must
// abort calibration.
func TestCalibrate_LoaderLabelMismatch(t *testing.T) {
	clf := &encodedClassifier{classes: 2}
	loaderFor := data.PerClass(func(class int) (data.Loader, error) {
		inputs, labels := classSamples(1-class, []float64{0.5})
		return data.NewSliceLoader(inputs, labels, 1)
	})

	_, err := NewCalibrator(DefaultConfig()).Calibrate(context.Background(), clf, loaderFor, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yielded label")
}

func TestCalibrate_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	clf := &encodedClassifier{classes: 2}
	loaderFor := perClass(map[int][]float64{0: {0.5}, 1: {0.5}}, 2)
	_, err := NewCalibrator(DefaultConfig()).Calibrate(ctx, clf, loaderFor, 2)
	require.ErrorIs(t, err, context.Canceled)
}

// #endregion calibrate-tests

// #region set-name-tests

func TestSetName(t *testing.T) {
	assert.Equal(t, "1st percentile", SetName(0.01))
	assert.Equal(t, "2nd percentile", SetName(0.02))
	assert.Equal(t, "5th percentile", SetName(0.05))
}

// #endregion set-name-tests
