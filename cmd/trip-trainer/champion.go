// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/trip-trainer/internal/tracking"
)

var championCmd = &cobra.Command{
	Use:   "champion",
	Short: "Inspect the champion alias of the registered model",
}

var championShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the version the champion alias points at",
	RunE:  runChampionShow,
}

func init() {
	championShowCmd.Flags().Bool("history", false, "also print every reassignment of the alias")

	championCmd.AddCommand(championShowCmd)
	rootCmd.AddCommand(championCmd)
}

func runChampionShow(cmd *cobra.Command, args []string) error {
	history, _ := cmd.Flags().GetBool("history")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := tracking.NewStore(cfg.Tracking)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	name, alias := cfg.Registry.ModelName, cfg.Registry.Alias
	mv, err := store.AliasVersion(ctx, name, alias)
	if errors.Is(err, tracking.ErrAliasNotFound) {
		fmt.Printf("%s@%s is not set.\n", name, alias)
		return nil
	}
	if err != nil {
		return err
	}

	run, err := store.GetRun(ctx, mv.RunID)
	if err != nil {
		return err
	}
	fmt.Printf("%s@%s -> v%d\n", name, alias, mv.Version)
	fmt.Printf("  run:     %s (%s)\n", run.ID, run.Name)
	fmt.Printf("  source:  %s\n", store.ArtifactPath(mv.RunID, mv.Source))
	if v, ok := run.Metric(cfg.Registry.Metric); ok {
		fmt.Printf("  %s:    %.4f\n", cfg.Registry.Metric, v)
	}

	if !history {
		return nil
	}
	changes, err := store.AliasHistory(ctx, name, alias)
	if err != nil {
		return err
	}
	fmt.Println("history:")
	for _, c := range changes {
		fmt.Printf("  %s  v%d\n", c.SetAt.Format("2006-01-02 15:04:05"), c.Version)
	}
	return nil
}
