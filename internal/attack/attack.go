// Package attack defines the black-box adversary capability consumed by the
// rejection evaluator, plus thin adapters for the two external attack
// libraries (advertorch and ART) served behind HTTP bridges.
package attack

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// #region attack-interface
// Attack is an opaque adversary. Perturb moves inputs toward misclassification
// (untargeted) or toward the supplied labels (targeted); hyperparameters are
// fixed at construction. Output shape equals input shape.
type Attack interface {
	Name() string
	Perturb(ctx context.Context, inputs [][]float64, labels []int) ([][]float64, error)
}

// #endregion attack-interface

// #region timeout
// ErrAttackTimeout reports that an attack exceeded its wall-clock budget.
var ErrAttackTimeout = errors.New("attack timed out")

// WithTimeout wraps an attack with a per-call wall-clock deadline. A zero
// duration returns the attack unchanged.
func WithTimeout(a Attack, d time.Duration) Attack {
	if d <= 0 {
		return a
	}
	return &timeoutAttack{inner: a, budget: d}
}

type timeoutAttack struct {
	inner  Attack
	budget time.Duration
}

func (t *timeoutAttack) Name() string {
	return t.inner.Name()
}

func (t *timeoutAttack) Perturb(ctx context.Context, inputs [][]float64, labels []int) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.budget)
	defer cancel()

	out, err := t.inner.Perturb(ctx, inputs, labels)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s: %v", ErrAttackTimeout, t.budget, err)
	}
	return out, err
}

// #endregion timeout
