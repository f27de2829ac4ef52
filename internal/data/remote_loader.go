package data

import (
	"context"
	"fmt"

	"github.com/wangxin0716/robust-generative-classifier/internal/bridge"
)

// #region remote-spec
// RemoteSpec selects which dataset split the runner should serve.
// LabelID < 0 serves the full split; >= 0 restricts to one class.
// Augment controls train-time crop/flip augmentation; calibration always
// fetches with Augment false.
type RemoteSpec struct {
	Dataset   string
	Train     bool
	LabelID   int
	Augment   bool
	BatchSize int
}

// #endregion remote-spec

// #region remote-loader
// RemoteLoader streams dataset batches from the model-runner service.
// Restartable by rewinding the offset; the runner serves splits in a
// fixed order so two passes see identical batches.
type RemoteLoader struct {
	client *bridge.Client
	spec   RemoteSpec
	offset int
	done   bool
}

// NewRemoteLoader creates a loader for the split described by spec.
func NewRemoteLoader(client *bridge.Client, spec RemoteSpec) (*RemoteLoader, error) {
	if spec.BatchSize <= 0 {
		return nil, fmt.Errorf("remote loader: batch size %d", spec.BatchSize)
	}
	if spec.Dataset == "" {
		return nil, fmt.Errorf("remote loader: empty dataset name")
	}
	return &RemoteLoader{client: client, spec: spec}, nil
}

// Next fetches the next batch from the runner, or End once the split is done.
func (l *RemoteLoader) Next(ctx context.Context) (Batch, error) {
	if l.done {
		return Batch{}, End
	}
	result, err := l.client.FetchBatch(ctx, l.spec.Dataset, l.spec.Train, l.spec.LabelID, l.spec.Augment, l.spec.BatchSize, l.offset)
	if err != nil {
		return Batch{}, fmt.Errorf("remote loader: %w", err)
	}
	if result.Done && len(result.Inputs) == 0 {
		l.done = true
		return Batch{}, End
	}
	l.offset += len(result.Inputs)
	if result.Done {
		l.done = true
	}
	return Batch{
		Inputs:   result.Inputs,
		Labels:   result.Labels,
		RowWidth: result.RowWidth,
	}, nil
}

// Reset rewinds the loader to the start of the split.
func (l *RemoteLoader) Reset() error {
	l.offset = 0
	l.done = false
	return nil
}

// #endregion remote-loader
