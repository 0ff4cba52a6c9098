//go:build mage

// Package main contains Mage build targets for trip-trainer developer tooling.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"

	"github.com/pdiddy/trip-trainer/internal/tracking"
	"github.com/pdiddy/trip-trainer/pkg/types"
)

// projectDirs lists the working directories the pipeline expects.
var projectDirs = []string{
	"data",
	"mlruns",
	"models",
}

// Init creates the project directory structure for the pipeline.
func Init() error {
	for _, dir := range projectDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	fmt.Println("Project directories initialized.")
	return nil
}

const (
	binDir  = "bin"
	binName = "trip-trainer"
	cmdPkg  = "./cmd/trip-trainer"
)

func binPath() string {
	return filepath.Join(binDir, binName)
}

// Build compiles the CLI binary into bin/.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	version, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil {
		version = "dev"
	}
	ldflags := "-X main.version=" + strings.TrimSpace(version)
	if err := sh.RunV("go", "build", "-ldflags", ldflags, "-o", binPath(), cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", binPath())
	return nil
}

// Test runs the unit tests with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

// Data writes synthetic training (January) and validation (February) trip files.
func Data() error {
	mg.Deps(Build, Init)
	for i, month := range []string{"01", "02"} {
		err := sh.RunV(binPath(), "generate-data",
			"--year", "2024", "--month", month, "--seed", fmt.Sprint(i+1))
		if err != nil {
			return err
		}
	}
	return nil
}

// Train runs the full training flow on the synthetic files.
func Train() error {
	mg.SerialDeps(Data)
	return sh.RunV(binPath(), "run", "--year", "2024", "--train-month", "01", "--val-month", "02")
}

// Clean removes build output and pipeline state.
func Clean() error {
	for _, dir := range append([]string{binDir}, projectDirs...) {
		if err := sh.Rm(dir); err != nil {
			return err
		}
	}
	return nil
}

// Stats summarises the local tracking store: runs by status, registered
// versions, the champion and the size of the artifact tree.
func Stats() error {
	cfg := types.DefaultConfig()
	if _, err := os.Stat(cfg.Tracking.Dir); os.IsNotExist(err) {
		fmt.Printf("No tracking store at %s; run mage train first.\n", cfg.Tracking.Dir)
		return nil
	}
	store, err := tracking.NewStore(cfg.Tracking)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	runs, err := store.SearchRuns(ctx, tracking.RunQuery{})
	if err != nil {
		return err
	}
	byStatus := make(map[types.RunStatus]int)
	for _, r := range runs {
		byStatus[r.Status]++
	}
	versions, err := store.SearchModelVersions(ctx, cfg.Registry.ModelName)
	if err != nil {
		return err
	}
	size, err := dirSize(filepath.Join(cfg.Tracking.Dir, "artifacts"))
	if err != nil {
		return err
	}

	fmt.Printf("Runs:            %d (finished %d, failed %d, running %d)\n", len(runs),
		byStatus[types.RunFinished], byStatus[types.RunFailed], byStatus[types.RunRunning])
	fmt.Printf("Model versions:  %d (%s)\n", len(versions), cfg.Registry.ModelName)
	if mv, err := store.AliasVersion(ctx, cfg.Registry.ModelName, cfg.Registry.Alias); err == nil {
		fmt.Printf("Champion:        v%d (run %s)\n", mv.Version, mv.RunID)
	}
	fmt.Printf("Artifacts:       %.1f KiB\n", float64(size)/1024)
	return nil
}

// dirSize returns the total size of the regular files under root.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
