// Package data provides finite, restartable batch sources for evaluation runs.
package data

import (
	"context"
	"io"
)

// #region batch
// Batch is one (inputs, labels) pair drawn from a data source.
// Inputs is N×D with D the flattened feature length. RowWidth is the length
// of the innermost image axis before flattening; it must divide D and is
// carried so distortion can be computed per innermost row. Zero means the
// whole feature vector is a single row.
type Batch struct {
	Inputs   [][]float64
	Labels   []int
	RowWidth int
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	return len(b.Inputs)
}

// #endregion batch

// #region loader
// Loader yields batches until exhausted, then returns io.EOF.
// Reset rewinds the source so the same sequence can be consumed again.
type Loader interface {
	Next(ctx context.Context) (Batch, error)
	Reset() error
}

// PerClass builds a loader over the in-distribution samples of one class.
// Used by calibration and by the targeted sweep.
type PerClass func(class int) (Loader, error)

// #endregion loader

// #region end
// End is the sentinel a Loader returns once the sequence is exhausted.
var End = io.EOF

// #endregion end
