package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

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
	flag.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "dataset batch size")
	flag.StringVar(&cfg.DBPath, "db", envOr("ROBUSTEVAL_DB", cfg.DBPath), "results database path")
	percentiles := flag.String("percentiles", "0.01,0.02", "comma-separated calibration percentiles")
	jsonOut := flag.Bool("json", false, "print thresholds as JSON")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var err error
	cfg.Percentiles, err = parseFloats(*percentiles)
	if err != nil {
		log.Fatal().Err(err).Msg("bad -percentiles")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *jsonOut); err != nil {
		if ctx.Err() != nil {
			log.Warn().Msg("interrupted")
			return
		}
		log.Fatal().Err(err).Msg("calibration failed")
	}
}

// #endregion main

// #region run
func run(ctx context.Context, cfg config.Run, jsonOut bool) error {
	store, err := results.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	client := bridge.NewClient(cfg.RunnerURL)
	var clf *model.Remote
	if cfg.ModelKind == "sdim" {
		clf, err = model.LoadSDIM(ctx, client, cfg.Layers, cfg.Dataset, cfg.RepSize, cfg.NumClasses)
	} else {
		clf, err = model.LoadResNet(ctx, client, cfg.Layers, cfg.Dataset, cfg.NumClasses)
	}
	if err != nil {
		return err
	}
	log.Info().Str("checkpoint", clf.Checkpoint()).Msg("model loaded")

	loaderFor := data.PerClass(func(class int) (data.Loader, error) {
		return data.NewRemoteLoader(client, data.RemoteSpec{
			Dataset:   cfg.Dataset,
			Train:     true,
			LabelID:   class,
			BatchSize: cfg.BatchSize,
		})
	})

	calibrator := calibrate.NewCalibrator(calibrate.Config{Percentiles: cfg.Percentiles})
	vectors, err := calibrator.Calibrate(ctx, clf, loaderFor, cfg.NumClasses)
	if err != nil {
		return err
	}

	sets := make([]reject.ThresholdSet, len(vectors))
	for i, v := range vectors {
		sets[i] = reject.ThresholdSet{Name: calibrate.SetName(cfg.Percentiles[i]), Thresholds: v}
	}

	runID, err := store.CreateRun(results.RunRecord{
		ModelKind:    clf.Kind().String(),
		Checkpoint:   clf.Checkpoint(),
		Dataset:      cfg.Dataset,
		AttackFamily: "none",
		AttackName:   "calibration",
	})
	if err != nil {
		return err
	}
	if err := store.SaveThresholds(runID, sets); err != nil {
		return err
	}
	if err := store.FinishRun(runID); err != nil {
		return err
	}
	_ = store.LogEvent(results.EventRecord{RunID: runID, Stage: "calibrate", Message: "thresholds saved"})

	if jsonOut {
		out, err := json.MarshalIndent(sets, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		fmt.Printf("run: %s\n", runID)
		for _, set := range sets {
			fmt.Printf("%s:\n", set.Name)
			for class, threshold := range set.Thresholds {
				fmt.Printf("  class %2d: %.6f\n", class, threshold)
			}
		}
	}
	log.Info().Str("run", runID).Msg("thresholds persisted; reuse with evaluate -thresholds-run")
	return nil
}

// #endregion run

// #region helpers
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

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
