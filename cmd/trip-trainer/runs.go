// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/trip-trainer/internal/tracking"
	"github.com/pdiddy/trip-trainer/pkg/types"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect tracked runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked runs, optionally ordered by a metric",
	Long: `List prints the runs of the tracking store. --metric orders them by the
given metric, lowest first; runs without the metric come last.`,
	RunE: runRunsList,
}

func init() {
	runsListCmd.Flags().Bool("all-experiments", false, "include runs of every experiment, not only tracking.experiment")
	runsListCmd.Flags().String("name", "", "filter by run name (e.g. best-model)")
	runsListCmd.Flags().String("parent", "", "filter by parent run ID")
	runsListCmd.Flags().Bool("top-level", false, "only runs without a parent")
	runsListCmd.Flags().String("status", "", "filter by status: RUNNING, FINISHED, FAILED")
	runsListCmd.Flags().String("metric", "", "order by this metric, ascending")
	runsListCmd.Flags().Int("limit", 0, "maximum number of runs (0 for all)")
	runsListCmd.Flags().Bool("json", false, "output runs as JSON")
	runsListCmd.Flags().Bool("yaml", false, "output runs as YAML")

	runsCmd.AddCommand(runsListCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	q := tracking.RunQuery{}
	q.Name, _ = cmd.Flags().GetString("name")
	q.ParentID, _ = cmd.Flags().GetString("parent")
	q.TopLevel, _ = cmd.Flags().GetBool("top-level")
	status, _ := cmd.Flags().GetString("status")
	q.Status = types.RunStatus(strings.ToUpper(status))
	q.Metric, _ = cmd.Flags().GetString("metric")
	q.Limit, _ = cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")
	asYAML, _ := cmd.Flags().GetBool("yaml")
	all, _ := cmd.Flags().GetBool("all-experiments")

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	if !all {
		q.Experiment = store.Experiment()
	}

	runs, err := store.SearchRuns(context.Background(), q)
	if err != nil {
		return err
	}

	switch {
	case asJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	case asYAML:
		return yaml.NewEncoder(os.Stdout).Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-12s %-9s %s", r.ID, r.Name, r.Status, r.StartTime.Format("2006-01-02 15:04:05"))
		if q.Metric != "" {
			if v, ok := r.Metric(q.Metric); ok {
				line += fmt.Sprintf("  %s=%.4f", q.Metric, v)
			}
		}
		fmt.Println(line)
	}
	return nil
}

// openStore opens the tracking store of the effective configuration.
func openStore() (*tracking.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return tracking.NewStore(cfg.Tracking)
}
