// Package reject runs adversarial attacks against a classifier and measures
// how often a per-class confidence-threshold rule catches the successful
// adversarial examples.
package reject

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/wangxin0716/robust-generative-classifier/internal/attack"
	"github.com/wangxin0716/robust-generative-classifier/internal/data"
	"github.com/wangxin0716/robust-generative-classifier/internal/model"
)

// #region evaluator
// Evaluator drives one evaluation session. Stateless across sessions: every
// Run builds fresh counters.
type Evaluator struct {
	config Config
}

// NewEvaluator creates an evaluator with the given configuration.
func NewEvaluator(config Config) *Evaluator {
	return &Evaluator{config: config}
}

// #endregion evaluator

// #region batch-delta
// batchDelta stages one batch's counter increments so the report only ever
// commits at batch boundaries.
type batchDelta struct {
	seen       int
	correct    int
	attempted  int
	successful int
	rejected   []int
	distortion *float64
	skipped    bool
}

func (r *Report) commit(d batchDelta) {
	if d.skipped {
		r.SkippedBatches++
		evalSkippedBatches.Inc()
		return
	}
	r.NSeen += d.seen
	r.NCorrect += d.correct
	r.NTotalAttempted += d.attempted
	r.NSuccessfulAdv += d.successful
	for i, n := range d.rejected {
		r.NRejected[i] += n
	}
	if d.distortion != nil {
		r.BatchDistortions = append(r.BatchDistortions, *d.distortion)
		evalBatchDistortion.Set(*d.distortion)
	}
	evalBatchesTotal.Inc()
	evalCorrectTotal.Add(float64(d.correct))
	evalSuccessfulAdvTotal.Add(float64(d.successful))
}

// #endregion batch-delta

// #region run
// Run evaluates an untargeted attack over the test loader. Per batch: clean
// inputs are classified, misclassified samples are dropped (attack-induced
// failure must be isolated from baseline error), survivors are perturbed and
// reclassified; a perturbed sample counts as a successful adversarial
// example iff its prediction moved off the true label. A successful sample
// is rejected under a threshold set iff its predicted-class score is
// strictly below that class's threshold.
//
// Classifier or attack failure on a batch skips the batch with a warning;
// the skip count lands in the report. Context cancellation aborts cleanly
// at the next batch boundary, returning the partial report with ctx.Err().
func (e *Evaluator) Run(ctx context.Context, clf model.Classifier, adv attack.Attack, loader data.Loader, sets []ThresholdSet) (Report, error) {
	report, err := newReport(sets, clf.NumClasses(), false)
	if err != nil {
		return Report{}, err
	}
	adv = attack.WithTimeout(adv, e.config.AttackTimeout)

	if err := loader.Reset(); err != nil {
		return report, fmt.Errorf("evaluate: reset loader: %w", err)
	}

	batchID := 0
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		batch, err := loader.Next(ctx)
		if errors.Is(err, data.End) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("evaluate: batch %d: %w", batchID, err)
		}

		report.commit(e.evalBatch(ctx, clf, adv, batch, sets, batchID))
		batchID++
	}

	e.warnUndefinedRates(&report)
	return report, nil
}

// evalBatch processes one batch and returns its staged counter delta.
func (e *Evaluator) evalBatch(ctx context.Context, clf model.Classifier, adv attack.Attack, batch data.Batch, sets []ThresholdSet, batchID int) batchDelta {
	delta := batchDelta{rejected: make([]int, len(sets))}

	scores, err := clf.Forward(ctx, batch.Inputs)
	if err != nil {
		log.Warn().Err(err).Int("batch", batchID).Msg("clean forward failed, skipping batch")
		delta.skipped = true
		return delta
	}

	// Only attack samples the clean classifier already got right.
	preds := model.Predictions(scores)
	var x [][]float64
	var y []int
	for i, p := range preds {
		if p == batch.Labels[i] {
			x = append(x, batch.Inputs[i])
			y = append(y, batch.Labels[i])
		}
	}
	delta.seen = batch.Len()
	delta.correct = len(x)
	if len(x) == 0 {
		return delta
	}

	advX, err := adv.Perturb(ctx, x, y)
	if err != nil {
		log.Warn().Err(err).Int("batch", batchID).Str("attack", adv.Name()).Msg("attack failed, skipping batch")
		delta.skipped = true
		return delta
	}

	advScores, err := clf.Forward(ctx, advX)
	if err != nil {
		log.Warn().Err(err).Int("batch", batchID).Msg("adversarial forward failed, skipping batch")
		delta.skipped = true
		return delta
	}

	advPreds := model.Predictions(advScores)
	for i, p := range advPreds {
		if p == y[i] {
			continue // attack failed on this sample
		}
		delta.successful++
		countRejections(delta.rejected, sets, advScores[i], p)
	}

	d := meanLastAxisNorm(x, advX, batch.RowWidth)
	delta.distortion = &d
	return delta
}

// #endregion run

// #region targeted-sweep
// RunTargetedSweep evaluates a targeted attack exhaustively: for each true
// class, the first batch of correctly classified test samples is attacked
// once per target label != true label. Success means the perturbed
// prediction equals the target. Rejection counting conditions on success,
// as in the untargeted run.
func (e *Evaluator) RunTargetedSweep(ctx context.Context, clf model.Classifier, adv attack.Attack, loaderFor data.PerClass, sets []ThresholdSet, numClasses int) (Report, error) {
	report, err := newReport(sets, clf.NumClasses(), true)
	if err != nil {
		return Report{}, err
	}
	if numClasses != clf.NumClasses() {
		return report, fmt.Errorf("evaluate: sweep over %d classes but classifier has %d", numClasses, clf.NumClasses())
	}
	adv = attack.WithTimeout(adv, e.config.AttackTimeout)

	for class := 0; class < numClasses; class++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		x, y, rowWidth, err := e.firstCorrectBatch(ctx, clf, loaderFor, class)
		if err != nil {
			log.Warn().Err(err).Int("class", class).Msg("class batch failed, skipping class")
			report.commit(batchDelta{skipped: true})
			continue
		}
		report.commit(batchDelta{seen: len(y), correct: len(x), rejected: make([]int, len(sets))})
		if len(x) == 0 {
			continue
		}

		for target := 0; target < numClasses; target++ {
			if target == class {
				continue
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.commit(e.evalTarget(ctx, clf, adv, x, target, rowWidth, sets))
		}
		log.Info().Int("class", class).Msg("evaluated targeted attacks for class")
	}

	e.warnUndefinedRates(&report)
	return report, nil
}

// firstCorrectBatch loads one batch of the class's test samples and keeps
// the correctly classified subset. The sweep deliberately attacks only one
// batch per class to keep exhaustive target enumeration tractable.
func (e *Evaluator) firstCorrectBatch(ctx context.Context, clf model.Classifier, loaderFor data.PerClass, class int) ([][]float64, []int, int, error) {
	loader, err := loaderFor(class)
	if err != nil {
		return nil, nil, 0, err
	}
	if err := loader.Reset(); err != nil {
		return nil, nil, 0, err
	}
	batch, err := loader.Next(ctx)
	if errors.Is(err, data.End) {
		return nil, nil, 0, nil
	}
	if err != nil {
		return nil, nil, 0, err
	}

	scores, err := clf.Forward(ctx, batch.Inputs)
	if err != nil {
		return nil, nil, 0, err
	}
	preds := model.Predictions(scores)

	var x [][]float64
	for i, p := range preds {
		if p == batch.Labels[i] {
			x = append(x, batch.Inputs[i])
		}
	}
	return x, batch.Labels, batch.RowWidth, nil
}

// evalTarget perturbs x toward one target label and stages the counters.
func (e *Evaluator) evalTarget(ctx context.Context, clf model.Classifier, adv attack.Attack, x [][]float64, target, rowWidth int, sets []ThresholdSet) batchDelta {
	delta := batchDelta{rejected: make([]int, len(sets))}

	targets := make([]int, len(x))
	for i := range targets {
		targets[i] = target
	}

	advX, err := adv.Perturb(ctx, x, targets)
	if err != nil {
		log.Warn().Err(err).Int("target", target).Str("attack", adv.Name()).Msg("targeted attack failed, skipping target")
		delta.skipped = true
		return delta
	}

	advScores, err := clf.Forward(ctx, advX)
	if err != nil {
		log.Warn().Err(err).Int("target", target).Msg("adversarial forward failed, skipping target")
		delta.skipped = true
		return delta
	}

	delta.attempted = len(x)
	advPreds := model.Predictions(advScores)
	for i, p := range advPreds {
		if p != target {
			continue
		}
		delta.successful++
		countRejections(delta.rejected, sets, advScores[i], p)
	}

	d := meanLastAxisNorm(x, advX, rowWidth)
	delta.distortion = &d
	return delta
}

// #endregion targeted-sweep

// #region rejection
// countRejections applies every threshold set to one successful adversarial
// sample. The rejection rule is strict: a predicted-class score exactly at
// the threshold is NOT rejected.
func countRejections(rejected []int, sets []ThresholdSet, scores []float64, pred int) {
	for s, set := range sets {
		if scores[pred] < set.Thresholds[pred] {
			rejected[s]++
			evalRejectedTotal.WithLabelValues(set.Name).Inc()
		}
	}
}

// #endregion rejection

// #region distortion
// meanLastAxisNorm computes the batch's mean L2 distortion the way the
// original experiments did: the Euclidean norm of (perturbed - original) is
// taken along the innermost image axis (rowWidth), and the resulting row
// norms are averaged across every row of every sample. For multi-row images
// this is not the true per-image L2 norm; the behavior is preserved for
// compatibility. rowWidth <= 0 treats each sample as a single row.
func meanLastAxisNorm(original, perturbed [][]float64, rowWidth int) float64 {
	if len(original) == 0 {
		return math.NaN()
	}
	var sum float64
	var rows int
	for i := range original {
		width := rowWidth
		if width <= 0 || width > len(original[i]) {
			width = len(original[i])
		}
		for start := 0; start < len(original[i]); start += width {
			end := start + width
			if end > len(original[i]) {
				end = len(original[i])
			}
			var sq float64
			for j := start; j < end; j++ {
				diff := perturbed[i][j] - original[i][j]
				sq += diff * diff
			}
			sum += math.Sqrt(sq)
			rows++
		}
	}
	return sum / float64(rows)
}

// #endregion distortion

// #region helpers
func newReport(sets []ThresholdSet, numClasses int, targeted bool) (Report, error) {
	if len(sets) == 0 {
		return Report{}, fmt.Errorf("evaluate: no threshold sets")
	}
	names := make([]string, len(sets))
	for i, s := range sets {
		if len(s.Thresholds) != numClasses {
			return Report{}, fmt.Errorf("evaluate: threshold set %q has %d entries, classifier has %d classes", s.Name, len(s.Thresholds), numClasses)
		}
		names[i] = s.Name
	}
	return Report{
		Targeted:  targeted,
		SetNames:  names,
		NRejected: make([]int, len(sets)),
	}, nil
}

// warnUndefinedRates logs when a derived rate has a zero denominator, so the
// undefined sentinel in the report is never mistaken for silence.
func (e *Evaluator) warnUndefinedRates(r *Report) {
	if r.SuccessRate() == nil {
		log.Warn().Msg("success rate undefined: zero attack attempts survived clean classification")
	}
	if r.NSuccessfulAdv == 0 {
		log.Warn().Msg("reject rates undefined: no successful adversarial examples")
	}
}

// #endregion helpers
