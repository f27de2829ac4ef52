package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wangxin0716/robust-generative-classifier/internal/attack"
	"github.com/wangxin0716/robust-generative-classifier/internal/bridge"
	"github.com/wangxin0716/robust-generative-classifier/internal/calibrate"
	"github.com/wangxin0716/robust-generative-classifier/internal/config"
	"github.com/wangxin0716/robust-generative-classifier/internal/data"
	"github.com/wangxin0716/robust-generative-classifier/internal/model"
	"github.com/wangxin0716/robust-generative-classifier/internal/reject"
	"github.com/wangxin0716/robust-generative-classifier/internal/results"
)

// #region main
func main() {
	cfg := config.DefaultRun()

	flag.StringVar(&cfg.ModelKind, "model", envOr("ROBUSTEVAL_MODEL", cfg.ModelKind), "model kind: resnet | sdim")
	flag.IntVar(&cfg.Layers, "layers", cfg.Layers, "resnet depth")
	flag.StringVar(&cfg.Dataset, "dataset", envOr("ROBUSTEVAL_DATASET", cfg.Dataset), "dataset name")
	flag.IntVar(&cfg.NumClasses, "classes", cfg.NumClasses, "number of classes")
	flag.IntVar(&cfg.RepSize, "rep-size", cfg.RepSize, "sdim representation size")
	flag.StringVar(&cfg.RunnerURL, "runner", envOr("ROBUSTEVAL_RUNNER", cfg.RunnerURL), "model runner base URL")
	flag.StringVar(&cfg.AttackURL, "attacks", envOr("ROBUSTEVAL_ATTACKS", cfg.AttackURL), "attack service base URL")
	flag.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "dataset batch size")
	flag.StringVar(&cfg.DBPath, "db", envOr("ROBUSTEVAL_DB", cfg.DBPath), "results database path")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "prometheus listen address (empty disables)")
	flag.DurationVar(&cfg.AttackTimeout, "attack-timeout", cfg.AttackTimeout, "per-call attack timeout")
	percentiles := flag.String("percentiles", "0.01,0.02", "comma-separated calibration percentiles")

	family := flag.String("family", "advertorch", "attack family: advertorch | art")
	name := flag.String("attack", "fgsm", "attack name within the family")
	params := flag.String("params", "", "attack params, comma-separated k=v pairs")
	targeted := flag.Bool("targeted", false, "run the exhaustive targeted sweep")
	suitePath := flag.String("suite", "", "YAML attack suite (overrides -family/-attack)")
	thresholdsRun := flag.String("thresholds-run", "", "reuse calibrated thresholds from a previous run id")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	setupLogging(*verbose)

	var err error
	cfg.Percentiles, err = parseFloats(*percentiles)
	if err != nil {
		log.Fatal().Err(err).Msg("bad -percentiles")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	specs, err := attackSpecs(*suitePath, *family, *name, *params, *targeted)
	if err != nil {
		log.Fatal().Err(err).Msg("bad attack selection")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	if err := run(ctx, cfg, specs, *thresholdsRun); err != nil {
		if ctx.Err() != nil {
			log.Warn().Msg("interrupted, partial results discarded")
			return
		}
		log.Fatal().Err(err).Msg("evaluation failed")
	}
}

// #endregion main

// #region run
func run(ctx context.Context, cfg config.Run, specs []attack.Spec, thresholdsRun string) error {
	store, err := results.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	client := bridge.NewClient(cfg.RunnerURL)
	clf, err := loadModel(ctx, client, cfg)
	if err != nil {
		return err
	}
	log.Info().Str("checkpoint", clf.Checkpoint()).Int("classes", clf.NumClasses()).Msg("model loaded")

	sets, err := thresholdSets(ctx, cfg, client, clf, store, thresholdsRun)
	if err != nil {
		return err
	}
	for _, set := range sets {
		log.Info().Str("set", set.Name).Floats64("thresholds", set.Thresholds).Msg("threshold set")
	}

	evaluator := reject.NewEvaluator(reject.Config{AttackTimeout: cfg.AttackTimeout})
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := runAttack(ctx, cfg, spec, client, clf, evaluator, store, sets); err != nil {
			return err
		}
	}
	return nil
}

// runAttack evaluates one attack spec and persists its run and report.
func runAttack(ctx context.Context, cfg config.Run, spec attack.Spec, client *bridge.Client, clf *model.Remote, evaluator *reject.Evaluator, store *results.Store, sets []reject.ThresholdSet) error {
	adv, err := attack.Build(spec, cfg.AttackURL)
	if err != nil {
		return err
	}

	paramsJSON, _ := json.Marshal(spec.Params)
	runID, err := store.CreateRun(results.RunRecord{
		ModelKind:    clf.Kind().String(),
		Checkpoint:   clf.Checkpoint(),
		Dataset:      cfg.Dataset,
		AttackFamily: string(spec.Family),
		AttackName:   spec.Name,
		ParamsJSON:   string(paramsJSON),
		Targeted:     spec.Targeted,
	})
	if err != nil {
		return err
	}
	if err := store.SaveThresholds(runID, sets); err != nil {
		return err
	}
	_ = store.LogEvent(results.EventRecord{RunID: runID, Stage: "evaluate", Message: "attack started"})

	log.Info().
		Str("run", runID).
		Str("family", string(spec.Family)).
		Str("attack", spec.Name).
		Bool("targeted", spec.Targeted).
		Msg("evaluating attack")

	var report reject.Report
	if spec.Targeted {
		report, err = evaluator.RunTargetedSweep(ctx, clf, adv, testLoaderPerClass(client, cfg), sets, cfg.NumClasses)
	} else {
		loader, lerr := testLoader(client, cfg)
		if lerr != nil {
			return lerr
		}
		report, err = evaluator.Run(ctx, clf, adv, loader, sets)
	}
	if err != nil {
		return err
	}

	printReport(spec, report)

	if err := store.SaveReport(results.NewReportRecord(runID, &report)); err != nil {
		return err
	}
	if err := store.FinishRun(runID); err != nil {
		return err
	}
	_ = store.LogEvent(results.EventRecord{RunID: runID, Stage: "persist", Message: "report saved"})
	return nil
}

// #endregion run

// #region wiring
func loadModel(ctx context.Context, client *bridge.Client, cfg config.Run) (*model.Remote, error) {
	switch cfg.ModelKind {
	case "sdim":
		return model.LoadSDIM(ctx, client, cfg.Layers, cfg.Dataset, cfg.RepSize, cfg.NumClasses)
	default:
		return model.LoadResNet(ctx, client, cfg.Layers, cfg.Dataset, cfg.NumClasses)
	}
}

// thresholdSets either reuses a previous run's calibrated thresholds or
// calibrates fresh ones on the clean training split.
func thresholdSets(ctx context.Context, cfg config.Run, client *bridge.Client, clf *model.Remote, store *results.Store, thresholdsRun string) ([]reject.ThresholdSet, error) {
	if thresholdsRun != "" {
		log.Info().Str("run", thresholdsRun).Msg("reusing calibrated thresholds")
		return store.LoadThresholds(thresholdsRun)
	}

	calibrator := calibrate.NewCalibrator(calibrate.Config{Percentiles: cfg.Percentiles})
	vectors, err := calibrator.Calibrate(ctx, clf, trainLoaderPerClass(client, cfg), cfg.NumClasses)
	if err != nil {
		return nil, err
	}

	sets := make([]reject.ThresholdSet, len(vectors))
	for i, v := range vectors {
		sets[i] = reject.ThresholdSet{Name: calibrate.SetName(cfg.Percentiles[i]), Thresholds: v}
	}
	return sets, nil
}

// Calibration streams the clean training split class by class, without
// augmentation.
func trainLoaderPerClass(client *bridge.Client, cfg config.Run) data.PerClass {
	return func(class int) (data.Loader, error) {
		return data.NewRemoteLoader(client, data.RemoteSpec{
			Dataset:   cfg.Dataset,
			Train:     true,
			LabelID:   class,
			BatchSize: cfg.BatchSize,
		})
	}
}

func testLoaderPerClass(client *bridge.Client, cfg config.Run) data.PerClass {
	return func(class int) (data.Loader, error) {
		return data.NewRemoteLoader(client, data.RemoteSpec{
			Dataset:   cfg.Dataset,
			Train:     false,
			LabelID:   class,
			BatchSize: cfg.BatchSize,
		})
	}
}

func testLoader(client *bridge.Client, cfg config.Run) (data.Loader, error) {
	return data.NewRemoteLoader(client, data.RemoteSpec{
		Dataset:   cfg.Dataset,
		Train:     false,
		LabelID:   -1,
		BatchSize: cfg.BatchSize,
	})
}

func attackSpecs(suitePath, family, name, params string, targeted bool) ([]attack.Spec, error) {
	if suitePath != "" {
		suite, specs, err := config.LoadSuite(suitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("suite", suite.Name).Int("attacks", len(specs)).Msg("loaded attack suite")
		return specs, nil
	}

	p, err := parseParams(params)
	if err != nil {
		return nil, err
	}
	return []attack.Spec{{
		Family:   attack.Family(family),
		Name:     name,
		Params:   p,
		Targeted: targeted,
	}}, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics listener stopped")
	}
}

// #endregion wiring

// #region report-output
// printReport writes the session summary in the layout the original
// experiment scripts used.
func printReport(spec attack.Spec, report reject.Report) {
	fmt.Printf("\n=== %s/%s", spec.Family, spec.Name)
	if eps, ok := spec.Params["eps"]; ok {
		fmt.Printf(" eps=%g", eps)
	}
	if spec.Targeted {
		fmt.Printf(" (targeted)")
	}
	fmt.Println(" ===")

	fmt.Printf("Test set, clean classification accuracy: %d/%d=%s\n",
		report.NCorrect, report.NSeen, rateString(report.CleanAccuracy()))

	denom := report.NCorrect
	if report.Targeted {
		denom = report.NTotalAttempted
	}
	fmt.Printf("success rate of adv examples generation: %d/%d=%s\n",
		report.NSuccessfulAdv, denom, rateString(report.SuccessRate()))

	if d := report.MeanL2Distortion(); !math.IsNaN(d) {
		fmt.Printf("Mean L2 distortion of Adv Examples: %.4f\n", d)
	}

	for i, setName := range report.SetNames {
		fmt.Printf("%s, reject success rate: %d/%d=%s\n",
			setName, report.NRejected[i], report.NSuccessfulAdv, rateString(report.RejectRate(i)))
	}
	if report.SkippedBatches > 0 {
		fmt.Printf("skipped batches: %d\n", report.SkippedBatches)
	}
}

func rateString(rate *float64) string {
	if rate == nil {
		return "undefined"
	}
	return fmt.Sprintf("%.4f", *rate)
}

// #endregion report-output

// #region helpers
func setupLogging(verbose bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", part, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func parseParams(s string) (map[string]float64, error) {
	params := map[string]float64{}
	if s == "" {
		return params, nil
	}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("param %q is not k=v", pair)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", pair, err)
		}
		params[strings.TrimSpace(kv[0])] = f
	}
	return params, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
