package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wangxin0716/robust-generative-classifier/internal/reject"
	"github.com/wangxin0716/robust-generative-classifier/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json")
		os.Exit(2)
	}

	os.Exit(runFixture(*fixturePath))
}

// #endregion main

// #region fixture-mode

func runFixture(path string) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	report, err := replay.Replay(context.Background(), f, reject.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}

	printReport(f, report)

	if err := replay.Compare(report, f.Expected); err != nil {
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
		return 1
	}
	if f.Expected != nil {
		fmt.Println("\nexpected counters match")
	}
	return 0
}

func printReport(f replay.Fixture, report reject.Report) {
	if f.Description != "" {
		fmt.Printf("fixture: %s\n\n", f.Description)
	}

	fmt.Printf("Test set, clean classification accuracy: %d/%d=%s\n",
		report.NCorrect, report.NSeen, rateString(report.CleanAccuracy()))
	fmt.Printf("success rate of adv examples generation: %d/%d=%s\n",
		report.NSuccessfulAdv, report.NCorrect, rateString(report.SuccessRate()))
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

// #endregion fixture-mode
