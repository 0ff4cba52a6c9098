// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pdiddy/trip-trainer/internal/dataset"
	"github.com/pdiddy/trip-trainer/internal/logger"
	"github.com/pdiddy/trip-trainer/internal/metrics"
	"github.com/pdiddy/trip-trainer/internal/pipeline"
	"github.com/pdiddy/trip-trainer/internal/tracking"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the training flow for one training and one validation month",
	Long: `Run reads the training and validation trip files, builds features,
searches hyperparameters, trains and registers the best model, and moves
the champion alias. pipeline.stages selects a subset of stages.

A failing stage stops the flow; the error names the stage, its kind and the
number of attempts.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("year", "2024", "year of both trip files")
	runCmd.Flags().String("train-month", "01", "two-digit month of the training file")
	runCmd.Flags().String("val-month", "02", "two-digit month of the validation file")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) (err error) {
	year, _ := cmd.Flags().GetString("year")
	trainMonth, _ := cmd.Flags().GetString("train-month")
	valMonth, _ := cmd.Flags().GetString("val-month")
	params := pipeline.Params{Year: year, TrainMonth: trainMonth, ValMonth: valMonth}
	if err := params.Validate(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	store, err := tracking.NewStore(cfg.Tracking)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := metrics.New()
	p := pipeline.New(cfg, dataset.NewCSVSource(log), store, log, rec)
	res, err := p.Run(ctx, params)
	printResult(os.Stdout, res)

	if cfg.Metrics.Textfile != "" {
		if werr := rec.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			log.Error("writing metrics textfile", zap.String("path", cfg.Metrics.Textfile), zap.Error(werr))
			err = multierr.Append(err, werr)
		}
	}
	return err
}

func printResult(w io.Writer, res pipeline.Result) {
	for _, st := range res.Report.Stages {
		fmt.Fprintf(w, "%-16s %-9s attempts=%d elapsed=%s\n", st.Name, st.State, st.Attempts, st.Duration)
	}
	if res.Tuning.SearchRunID != "" {
		fmt.Fprintf(w, "search run %s: %d trials, %d failed, best rmse %.4f\n",
			res.Tuning.SearchRunID, len(res.Tuning.Result.History), res.Tuning.Result.Failures(), res.Tuning.Result.BestLoss)
	}
	if res.Model.RunID != "" {
		fmt.Fprintf(w, "best model run %s: rmse %.4f, registered %s v%d\n",
			res.Model.RunID, res.Model.Loss, res.Model.Version.Name, res.Model.Version.Version)
	}
	if res.Promotion.ModelName != "" {
		fmt.Fprintf(w, "%s@%s -> v%d (run %s)\n",
			res.Promotion.ModelName, res.Promotion.Alias, res.Promotion.Version.Version, res.Promotion.Version.RunID)
	}
}
