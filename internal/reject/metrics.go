package reject

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	evalBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "robusteval",
			Subsystem: "reject",
			Name:      "batches_total",
			Help:      "Total number of evaluated batches.",
		},
	)

	evalSkippedBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "robusteval",
			Subsystem: "reject",
			Name:      "skipped_batches_total",
			Help:      "Batches skipped after a classifier or attack failure.",
		},
	)

	evalCorrectTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "robusteval",
			Subsystem: "reject",
			Name:      "clean_correct_total",
			Help:      "Cleanly correctly classified samples handed to the attack.",
		},
	)

	evalSuccessfulAdvTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "robusteval",
			Subsystem: "reject",
			Name:      "successful_adversarial_total",
			Help:      "Successful adversarial examples across the session.",
		},
	)

	evalRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "robusteval",
			Subsystem: "reject",
			Name:      "rejected_total",
			Help:      "Successful adversarial examples rejected, per threshold set.",
		},
		[]string{"threshold_set"},
	)

	evalBatchDistortion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "robusteval",
			Subsystem: "reject",
			Name:      "batch_mean_l2_distortion",
			Help:      "Mean L2 distortion of the most recent attacked batch.",
		},
	)
)

func init() {
	// Safe register; ignore duplicate registration across test binaries
	_ = prometheus.Register(evalBatchesTotal)
	_ = prometheus.Register(evalSkippedBatches)
	_ = prometheus.Register(evalCorrectTotal)
	_ = prometheus.Register(evalSuccessfulAdvTotal)
	_ = prometheus.Register(evalRejectedTotal)
	_ = prometheus.Register(evalBatchDistortion)
}
