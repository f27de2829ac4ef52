package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/wangxin0716/robust-generative-classifier/internal/results"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to results database")
	last := flag.Int("last", 20, "show N most recent runs")
	runID := flag.String("run", "", "show single run detail")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/robusteval.db [--last N] [--run id] [--json]")
		os.Exit(2)
	}

	store, err := results.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if *runID != "" {
		err = runDetailMode(store, *runID, *jsonOut)
	} else {
		err = runListMode(store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

func runListMode(store *results.Store, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	if jsonOut {
		return printJSON(runs)
	}

	fmt.Printf("%-10s  %-8s  %-8s  %-18s  %-8s  %8s  %s\n",
		"Run", "Model", "Dataset", "Attack", "Targeted", "SuccRate", "Started")
	fmt.Printf("%-10s+-%-8s+-%-8s+-%-18s+-%-8s+-%8s+-%s\n",
		"----------", "--------", "--------", "------------------", "--------", "--------", "--------------------")

	for _, r := range runs {
		attackLabel := r.AttackFamily + "/" + r.AttackName
		succ := "—"
		if r.Report != nil {
			succ = rateString(r.Report.SuccessRate)
		}
		fmt.Printf("%-10s  %-8s  %-8s  %-18s  %-8v  %8s  %s\n",
			shortID(r.RunID), r.ModelKind, r.Dataset, attackLabel,
			r.Targeted, succ, r.StartedAt.Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

func runDetailMode(store *results.Store, runID string, jsonOut bool) error {
	run, err := store.GetRun(runID)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(run)
	}

	fmt.Printf("Run:        %s\n", run.RunID)
	fmt.Printf("Model:      %s (%s)\n", run.ModelKind, run.Checkpoint)
	fmt.Printf("Dataset:    %s\n", run.Dataset)
	fmt.Printf("Attack:     %s/%s targeted=%v\n", run.AttackFamily, run.AttackName, run.Targeted)
	if run.ParamsJSON != "" {
		fmt.Printf("Params:     %s\n", run.ParamsJSON)
	}
	fmt.Printf("Started:    %s\n", run.StartedAt.Format("2006-01-02T15:04:05Z"))
	if run.FinishedAt != nil {
		fmt.Printf("Finished:   %s\n", run.FinishedAt.Format("2006-01-02T15:04:05Z"))
	} else {
		fmt.Printf("Finished:   (still running or aborted)\n")
	}

	if sets, err := store.LoadThresholds(runID); err == nil {
		fmt.Printf("\nCalibrated thresholds:\n")
		for _, set := range sets {
			fmt.Printf("  %s: %v\n", set.Name, []float64(set.Thresholds))
		}
	}

	if run.Report == nil {
		fmt.Println("\nNo report saved for this run.")
		return nil
	}

	r := run.Report
	fmt.Printf("\nSeen:              %d\n", r.NSeen)
	fmt.Printf("Clean correct:     %d\n", r.NCorrect)
	if run.Targeted {
		fmt.Printf("Attack attempts:   %d\n", r.NTotalAttempted)
	}
	fmt.Printf("Successful adv:    %d\n", r.NSuccessfulAdv)
	fmt.Printf("Skipped batches:   %d\n", r.SkippedBatches)
	fmt.Printf("Success rate:      %s\n", rateString(r.SuccessRate))
	if r.MeanL2Distortion != nil {
		fmt.Printf("Mean L2 dist:      %.4f\n", *r.MeanL2Distortion)
	}

	fmt.Printf("\nRejection by threshold set:\n")
	for _, entry := range r.Rejections {
		fmt.Printf("  %-16s %4d rejected, rate %s\n", entry.Set, entry.Count, rateString(entry.Rate))
	}
	return nil
}

// #endregion detail-mode

// #region output

func rateString(rate *float64) string {
	if rate == nil {
		return "undefined"
	}
	return fmt.Sprintf("%.4f", *rate)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
