// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package champion moves a registry alias to the model version that should
// serve as champion, judged over the whole tracking history.
package champion

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/pdiddy/trip-trainer/internal/tracking"
	"github.com/pdiddy/trip-trainer/pkg/types"
)

var (
	// ErrNoRuns is returned when the tracking store holds no run with the
	// ranking metric.
	ErrNoRuns = errors.New("no runs recorded")

	// ErrNoVersions is returned when the model has no registered versions,
	// or when no registered version belongs to a ranked run.
	ErrNoVersions = errors.New("no registered model versions")
)

// Registry is the subset of the tracking store used for promotion.
type Registry interface {
	SearchRuns(ctx context.Context, q tracking.RunQuery) ([]types.RunSummary, error)
	SearchModelVersions(ctx context.Context, name string) ([]types.ModelVersion, error)
	SetAlias(ctx context.Context, name, alias string, version int) error
}

// Options selects the model, alias and strategy of a promotion.
type Options struct {
	ModelName string
	Alias     string
	Target    types.PromotionTarget
	// Metric ranks runs; lower is better.
	Metric string
}

// Promotion describes an alias reassignment.
type Promotion struct {
	ModelName string
	Alias     string
	Version   types.ModelVersion
	// BestRun is the lowest-loss run of the whole history, which may be a
	// trial without a registered version.
	BestRun types.RunSummary
	// Loss is the metric of the promoted version's run, NaN when the
	// latest-version target promoted a run without the metric.
	Loss float64
}

// Promote reassigns opts.Alias. With the min-loss-run target (the default)
// the alias moves to the version whose run has the lowest metric among runs
// that own a version. With latest-version it moves to the highest version.
func Promote(ctx context.Context, reg Registry, opts Options, log *zap.Logger) (Promotion, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Metric == "" {
		opts.Metric = "rmse"
	}
	if opts.Target == "" {
		opts.Target = types.PromoteMinLossRun
	}

	runs, err := reg.SearchRuns(ctx, tracking.RunQuery{Metric: opts.Metric})
	if err != nil {
		return Promotion{}, fmt.Errorf("searching runs: %w", err)
	}
	var ranked []types.RunSummary
	for _, r := range runs {
		if _, ok := r.Metric(opts.Metric); ok {
			ranked = append(ranked, r)
		}
	}
	if len(ranked) == 0 {
		return Promotion{}, fmt.Errorf("%w with metric %q", ErrNoRuns, opts.Metric)
	}

	versions, err := reg.SearchModelVersions(ctx, opts.ModelName)
	if err != nil {
		return Promotion{}, fmt.Errorf("searching versions of %s: %w", opts.ModelName, err)
	}
	if len(versions) == 0 {
		return Promotion{}, fmt.Errorf("%w for %s", ErrNoVersions, opts.ModelName)
	}

	p := Promotion{ModelName: opts.ModelName, Alias: opts.Alias, BestRun: ranked[0]}
	switch opts.Target {
	case types.PromoteLatestVersion:
		p.Version = versions[len(versions)-1]
		p.Loss = lossOf(runs, p.Version.RunID, opts.Metric)
	case types.PromoteMinLossRun:
		v, loss, ok := minLossVersion(ranked, versions, opts.Metric)
		if !ok {
			return Promotion{}, fmt.Errorf("%w: none of %d versions of %s belongs to a run with metric %q",
				ErrNoVersions, len(versions), opts.ModelName, opts.Metric)
		}
		p.Version, p.Loss = v, loss
	default:
		return Promotion{}, fmt.Errorf("unknown promotion target %q", opts.Target)
	}

	if p.Version.RunID != p.BestRun.ID {
		best, _ := p.BestRun.Metric(opts.Metric)
		log.Warn("best run has no registered version",
			zap.String("best_run", p.BestRun.ID),
			zap.String("best_run_name", p.BestRun.Name),
			zap.Float64(opts.Metric, best),
			zap.Int("promoted_version", p.Version.Version),
		)
	}

	if err := reg.SetAlias(ctx, opts.ModelName, opts.Alias, p.Version.Version); err != nil {
		return Promotion{}, fmt.Errorf("setting alias %s: %w", opts.Alias, err)
	}

	log.Info("champion updated",
		zap.String("model", opts.ModelName),
		zap.String("alias", opts.Alias),
		zap.Int("version", p.Version.Version),
		zap.String("run_id", p.Version.RunID),
		zap.Float64(opts.Metric, p.Loss),
	)
	return p, nil
}

// minLossVersion walks runs in ascending metric order and returns the
// first version owned by one of them. A run with several versions yields
// its latest.
func minLossVersion(ranked []types.RunSummary, versions []types.ModelVersion, metric string) (types.ModelVersion, float64, bool) {
	byRun := make(map[string]types.ModelVersion, len(versions))
	for _, v := range versions {
		byRun[v.RunID] = v
	}
	for _, r := range ranked {
		if v, ok := byRun[r.ID]; ok {
			loss, _ := r.Metric(metric)
			return v, loss, true
		}
	}
	return types.ModelVersion{}, 0, false
}

func lossOf(runs []types.RunSummary, runID, metric string) float64 {
	for _, r := range runs {
		if r.ID == runID {
			if v, ok := r.Metric(metric); ok {
				return v
			}
		}
	}
	return math.NaN()
}
