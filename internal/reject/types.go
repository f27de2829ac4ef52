package reject

import (
	"math"
	"time"

	"github.com/wangxin0716/robust-generative-classifier/internal/calibrate"
)

// #region threshold-set
// ThresholdSet is one named per-class threshold vector, e.g. the
// "1st percentile" set. Read-only during evaluation; only the calibrator
// writes threshold vectors.
type ThresholdSet struct {
	Name       string
	Thresholds calibrate.ThresholdVector
}

// #endregion threshold-set

// #region config
// Config holds evaluator knobs.
type Config struct {
	// AttackTimeout bounds each Perturb call; zero disables the bound.
	AttackTimeout time.Duration
}

// DefaultConfig returns an evaluator config with no attack timeout,
// matching the original blocking behavior.
func DefaultConfig() Config {
	return Config{}
}

// #endregion config

// #region report
// Report aggregates one evaluation session. Counters are monotonically
// non-decreasing and committed only at batch boundaries.
type Report struct {
	Targeted bool
	SetNames []string // threshold set names, parallel to NRejected

	NSeen           int // clean samples examined
	NCorrect        int // cleanly correct samples (the attack substrate)
	NTotalAttempted int // targeted sweeps: attack attempts across targets
	NSuccessfulAdv  int // successful adversarial examples
	NRejected       []int
	SkippedBatches  int

	// Per-batch mean L2 distortions, in batch order.
	BatchDistortions []float64
}

// #endregion report

// #region derived-rates

// MeanL2Distortion returns the mean of the per-batch mean distortions —
// a mean of means, not sample-weighted, reproduced for compatibility with
// the original aggregation. NaN when no batch was attacked.
func (r *Report) MeanL2Distortion() float64 {
	if len(r.BatchDistortions) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, d := range r.BatchDistortions {
		sum += d
	}
	return sum / float64(len(r.BatchDistortions))
}

// CleanAccuracy returns NCorrect/NSeen, or nil when no samples were seen.
func (r *Report) CleanAccuracy() *float64 {
	return ratio(r.NCorrect, r.NSeen)
}

// SuccessRate returns the adversarial success rate. The denominator is
// NCorrect for untargeted runs and NTotalAttempted for targeted sweeps.
// Nil when the denominator is zero: the rate is undefined, never 0.
func (r *Report) SuccessRate() *float64 {
	if r.Targeted {
		return ratio(r.NSuccessfulAdv, r.NTotalAttempted)
	}
	return ratio(r.NSuccessfulAdv, r.NCorrect)
}

// RejectRate returns n_rejected/n_successful_adv for one threshold set,
// or nil when no adversarial example succeeded.
func (r *Report) RejectRate(set int) *float64 {
	if set < 0 || set >= len(r.NRejected) {
		return nil
	}
	return ratio(r.NRejected[set], r.NSuccessfulAdv)
}

func ratio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	v := float64(num) / float64(den)
	return &v
}

// #endregion derived-rates
