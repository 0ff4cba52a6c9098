// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/trip-trainer/internal/dataset"
)

var generateCmd = &cobra.Command{
	Use:   "generate-data",
	Short: "Write a synthetic trip file for one month",
	Long: `Generate-data writes synthetic trips in the trip file format to
data.dir, named like the files read by run. Distance grows with duration so
the target is learnable. The same seed yields the same file.`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().String("year", "2024", "year of the file")
	generateCmd.Flags().String("month", "01", "two-digit month of the file")
	generateCmd.Flags().Int("records", 1000, "number of trips")
	generateCmd.Flags().Uint64("seed", 1, "random seed")

	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	year, _ := cmd.Flags().GetString("year")
	month, _ := cmd.Flags().GetString("month")
	n, _ := cmd.Flags().GetInt("records")
	seed, _ := cmd.Flags().GetUint64("seed")

	start, err := time.Parse("2006-01", year+"-"+month)
	if err != nil {
		return fmt.Errorf("invalid year or month: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return err
	}

	path := dataset.Path(cfg.Data.Dir, cfg.Data.Color, year, month)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := dataset.WriteCSV(f, dataset.Synthetic(n, seed, start)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Wrote %d trips to %s\n", n, path)
	return nil
}
