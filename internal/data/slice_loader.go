package data

import (
	"context"
	"fmt"
)

// #region slice-loader
// SliceLoader serves batches from in-memory slices. Restartable; used by
// tests and fixture replays.
type SliceLoader struct {
	inputs    [][]float64
	labels    []int
	batchSize int
	rowWidth  int
	pos       int
}

// NewSliceLoader creates a loader over the given samples.
func NewSliceLoader(inputs [][]float64, labels []int, batchSize int) (*SliceLoader, error) {
	if len(inputs) != len(labels) {
		return nil, fmt.Errorf("slice loader: %d inputs but %d labels", len(inputs), len(labels))
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("slice loader: batch size %d", batchSize)
	}
	return &SliceLoader{inputs: inputs, labels: labels, batchSize: batchSize}, nil
}

// NewClassLoader creates a loader over only the samples labeled class.
func NewClassLoader(inputs [][]float64, labels []int, batchSize, class int) (*SliceLoader, error) {
	var fi [][]float64
	var fl []int
	for i, y := range labels {
		if y == class {
			fi = append(fi, inputs[i])
			fl = append(fl, y)
		}
	}
	return NewSliceLoader(fi, fl, batchSize)
}

// SetRowWidth sets the innermost-axis width stamped onto every batch.
func (l *SliceLoader) SetRowWidth(w int) {
	l.rowWidth = w
}

// Next returns the next batch, or End when the slice is exhausted.
func (l *SliceLoader) Next(_ context.Context) (Batch, error) {
	if l.pos >= len(l.inputs) {
		return Batch{}, End
	}
	end := l.pos + l.batchSize
	if end > len(l.inputs) {
		end = len(l.inputs)
	}
	b := Batch{
		Inputs:   l.inputs[l.pos:end],
		Labels:   l.labels[l.pos:end],
		RowWidth: l.rowWidth,
	}
	l.pos = end
	return b, nil
}

// Reset rewinds to the first batch.
func (l *SliceLoader) Reset() error {
	l.pos = 0
	return nil
}

// #endregion slice-loader
