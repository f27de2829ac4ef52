package model

import (
	"context"
	"fmt"

	"github.com/wangxin0716/robust-generative-classifier/internal/bridge"
)

// #region kind
// Kind identifies a model family. Dispatch is by enum, never by name prefix.
type Kind int

const (
	KindResNet Kind = iota
	KindSDIM
)

// String returns the runner-side identifier for the model kind.
func (k Kind) String() string {
	switch k {
	case KindResNet:
		return "resnet"
	case KindSDIM:
		return "sdim"
	default:
		return "unknown"
	}
}

// #endregion kind

// #region classifier
// Classifier exposes pure forward inference over batches.
// Forward returns an N×C matrix of raw scores (logits or log-likelihoods);
// no normalization is guaranteed.
type Classifier interface {
	Forward(ctx context.Context, inputs [][]float64) ([][]float64, error)
	NumClasses() int
}

// #endregion classifier

// #region load-error
// LoadError reports a missing or incompatible checkpoint. Fatal for the run.
type LoadError struct {
	Checkpoint string
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load checkpoint %s: %v", e.Checkpoint, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// #endregion load-error

// #region remote
// Remote is a Classifier backed by the model-runner service.
type Remote struct {
	client     *bridge.Client
	kind       Kind
	checkpoint string
	numClasses int
}

// LoadResNet loads a plain ResNet classifier checkpoint on the runner.
// layers selects the resnet depth; dataset picks the checkpoint file.
func LoadResNet(ctx context.Context, client *bridge.Client, layers int, dataset string, numClasses int) (*Remote, error) {
	checkpoint := fmt.Sprintf("resnet%d_%s.pth", layers, dataset)
	return load(ctx, client, KindResNet, checkpoint, numClasses)
}

// LoadSDIM loads an SDIM encoder/detector checkpoint on the runner.
// repSize is the global representation size the checkpoint was trained with.
func LoadSDIM(ctx context.Context, client *bridge.Client, layers int, dataset string, repSize, numClasses int) (*Remote, error) {
	checkpoint := fmt.Sprintf("sdim_resnet%d_%s_d%d.pth", layers, dataset, repSize)
	return load(ctx, client, KindSDIM, checkpoint, numClasses)
}

func load(ctx context.Context, client *bridge.Client, kind Kind, checkpoint string, numClasses int) (*Remote, error) {
	result, err := client.LoadModel(ctx, kind.String(), checkpoint, numClasses)
	if err != nil {
		return nil, &LoadError{Checkpoint: checkpoint, Err: err}
	}
	if result.NumClasses != numClasses {
		return nil, &LoadError{
			Checkpoint: checkpoint,
			Err:        fmt.Errorf("checkpoint has %d classes, expected %d", result.NumClasses, numClasses),
		}
	}
	return &Remote{
		client:     client,
		kind:       kind,
		checkpoint: checkpoint,
		numClasses: numClasses,
	}, nil
}

// Forward implements Classifier via the runner's inference endpoint.
func (r *Remote) Forward(ctx context.Context, inputs [][]float64) ([][]float64, error) {
	return r.client.Forward(ctx, inputs)
}

// NumClasses implements Classifier.
func (r *Remote) NumClasses() int {
	return r.numClasses
}

// Kind returns the model family of the loaded checkpoint.
func (r *Remote) Kind() Kind {
	return r.kind
}

// Checkpoint returns the runner-side checkpoint file name.
func (r *Remote) Checkpoint() string {
	return r.checkpoint
}

// #endregion remote
