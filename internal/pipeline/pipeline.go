// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline assembles the training flow: read-data, add-features,
// tune, train-best and update-champion, in that order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/pdiddy/trip-trainer/internal/boost"
	"github.com/pdiddy/trip-trainer/internal/champion"
	"github.com/pdiddy/trip-trainer/internal/dataset"
	"github.com/pdiddy/trip-trainer/internal/features"
	"github.com/pdiddy/trip-trainer/internal/flow"
	"github.com/pdiddy/trip-trainer/internal/hpo"
	"github.com/pdiddy/trip-trainer/internal/metrics"
	"github.com/pdiddy/trip-trainer/internal/tracking"
	"github.com/pdiddy/trip-trainer/internal/trainer"
	"github.com/pdiddy/trip-trainer/pkg/types"
)

// FlowName names the training flow in logs.
const FlowName = "nyc-taxi-training"

// MetricBestRMSE is logged on the search run.
const MetricBestRMSE = "best_rmse"

// ErrAllTrialsFailed is returned by the tune stage when no trial produced
// a usable loss.
var ErrAllTrialsFailed = errors.New("every trial failed")

var (
	yearPattern  = regexp.MustCompile(`^\d{4}$`)
	monthPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])$`)
)

// Params are the per-execution inputs of the flow.
type Params struct {
	Year       string
	TrainMonth string
	ValMonth   string
}

// Validate checks the year and month formats.
func (p Params) Validate() error {
	if !yearPattern.MatchString(p.Year) {
		return fmt.Errorf("year %q must have four digits", p.Year)
	}
	for _, m := range []string{p.TrainMonth, p.ValMonth} {
		if !monthPattern.MatchString(m) {
			return fmt.Errorf("month %q must be two digits between 01 and 12", m)
		}
	}
	return nil
}

// Tuning is the output of the tune stage.
type Tuning struct {
	SearchRunID string
	Result      hpo.Result
	Best        types.Hyperparams
}

// Result collects the stage outputs of one execution. Fields of stages
// that did not run are zero.
type Result struct {
	Report    flow.Report
	Split     dataset.Split
	Tuning    Tuning
	Model     trainer.BestModel
	Promotion champion.Promotion
}

// Pipeline builds and runs the training flow.
type Pipeline struct {
	cfg     types.Config
	source  dataset.Source
	store   *tracking.Store
	log     *zap.Logger
	metrics *metrics.Recorder
	space   hpo.Space

	// Runner executes the flow. Tests replace its Sleep.
	Runner *flow.Runner
}

// New returns a pipeline reading from source and tracking into store.
func New(cfg types.Config, source dataset.Source, store *tracking.Store, log *zap.Logger, rec *metrics.Recorder) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		cfg:     cfg,
		source:  source,
		store:   store,
		log:     log,
		metrics: rec,
		space:   hpo.DefaultSpace(),
		Runner:  flow.NewRunner(log, rec),
	}
}

// Flow returns the flow definition for params.
func (p *Pipeline) Flow(params Params) flow.Flow {
	var enabled []string
	if len(p.cfg.Pipeline.Stages) > 0 {
		enabled = p.cfg.Pipeline.Stages
	}
	return flow.Flow{
		Name:    FlowName,
		Enabled: enabled,
		Tasks: []flow.Task{
			{
				Name: types.StageReadData,
				Kind: flow.KindIngestion,
				Retry: flow.RetryPolicy{
					MaxRetries: p.cfg.Pipeline.IngestRetries,
					Delay:      p.cfg.Pipeline.IngestRetryDelay,
				},
				Run: func(ctx context.Context, _ flow.Inputs) (any, error) {
					return p.readData(ctx, params)
				},
			},
			{
				Name:   types.StageAddFeatures,
				Kind:   flow.KindFeatures,
				Inputs: []string{types.StageReadData},
				Run:    p.addFeatures,
			},
			{
				Name:   types.StageTune,
				Kind:   flow.KindTraining,
				Inputs: []string{types.StageAddFeatures},
				Run:    p.tune,
			},
			{
				Name:   types.StageTrainBest,
				Kind:   flow.KindTraining,
				Inputs: []string{types.StageAddFeatures, types.StageTune},
				Run:    p.trainBest,
			},
			{
				// reads the whole tracking history, so it declares no inputs
				Name: types.StageUpdateChampion,
				Kind: flow.KindPromotion,
				Run:  p.updateChampion,
			},
		},
	}
}

// Run executes the flow for params.
func (p *Pipeline) Run(ctx context.Context, params Params) (Result, error) {
	if err := params.Validate(); err != nil {
		return Result{}, err
	}
	report, err := p.Runner.Run(ctx, p.Flow(params))
	res := Result{Report: report}
	if v, ok := report.Output(types.StageReadData); ok {
		res.Split = v.(dataset.Split)
	}
	if v, ok := report.Output(types.StageTune); ok {
		res.Tuning = v.(Tuning)
	}
	if v, ok := report.Output(types.StageTrainBest); ok {
		res.Model = v.(trainer.BestModel)
	}
	if v, ok := report.Output(types.StageUpdateChampion); ok {
		res.Promotion = v.(champion.Promotion)
	}
	return res, err
}

func (p *Pipeline) readData(ctx context.Context, params Params) (dataset.Split, error) {
	trainPath := dataset.Path(p.cfg.Data.Dir, p.cfg.Data.Color, params.Year, params.TrainMonth)
	valPath := dataset.Path(p.cfg.Data.Dir, p.cfg.Data.Color, params.Year, params.ValMonth)
	split, err := dataset.ReadSplit(ctx, p.source, trainPath, valPath)
	if err != nil {
		return dataset.Split{}, err
	}
	p.log.Info("data read",
		zap.String("train", trainPath),
		zap.Int("train_records", len(split.Train)),
		zap.String("validation", valPath),
		zap.Int("validation_records", len(split.Validation)),
	)
	return split, nil
}

func (p *Pipeline) addFeatures(_ context.Context, in flow.Inputs) (any, error) {
	split, err := flow.Input[dataset.Split](in, types.StageReadData)
	if err != nil {
		return nil, err
	}
	ds, err := features.Build(split.Train, split.Validation)
	if err != nil {
		return nil, err
	}
	p.log.Info("features built",
		zap.Int("features", ds.Train.NumFeatures),
		zap.Int("train_rows", ds.Train.NumRows()),
		zap.Int("validation_rows", ds.Validation.NumRows()),
	)
	return ds, nil
}

func (p *Pipeline) scorer(ds features.Dataset) *trainer.Scorer {
	opts := boost.Options{
		NumRounds:           p.cfg.Training.NumRounds,
		EarlyStoppingRounds: p.cfg.Training.EarlyStoppingRounds,
	}
	return trainer.NewScorer(ds, p.store, opts, p.log)
}

func (p *Pipeline) tune(ctx context.Context, in flow.Inputs) (any, error) {
	ds, err := flow.Input[features.Dataset](in, types.StageAddFeatures)
	if err != nil {
		return nil, err
	}
	scorer := p.scorer(ds)

	var out Tuning
	err = tracking.WithRun(ctx, p.store, trainer.SearchRunName, "", func(parent *tracking.Run) error {
		out.SearchRunID = parent.ID()
		res, err := hpo.Minimize(ctx, trainer.Objective(scorer, p.space, parent), p.space, hpo.Options{
			MaxEvals: p.cfg.Search.MaxEvals,
			Proposer: hpo.NewTPE(p.cfg.Search),
			OnTrial: func(o hpo.Observation) {
				p.metrics.ObserveTrial(o.Loss, o.Failed)
			},
		})
		if err != nil {
			return err
		}
		out.Result = res
		if res.Failures() == len(res.History) {
			return fmt.Errorf("%w: %d trials", ErrAllTrialsFailed, len(res.History))
		}

		out.Best = p.space.Hyperparams(res.Best)
		p.metrics.SetBestLoss(res.BestLoss)
		if err := parent.LogParams(ctx, out.Best.Params()); err != nil {
			return err
		}
		return parent.LogMetric(ctx, MetricBestRMSE, res.BestLoss)
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("search finished",
		zap.String("run_id", out.SearchRunID),
		zap.Int("trials", len(out.Result.History)),
		zap.Int("failed", out.Result.Failures()),
		zap.Int("best_trial", out.Result.BestTrial),
		zap.Float64("best_rmse", out.Result.BestLoss),
		zap.Any("best_params", out.Best),
	)
	return out, nil
}

func (p *Pipeline) trainBest(ctx context.Context, in flow.Inputs) (any, error) {
	ds, err := flow.Input[features.Dataset](in, types.StageAddFeatures)
	if err != nil {
		return nil, err
	}
	tuning, err := flow.Input[Tuning](in, types.StageTune)
	if err != nil {
		return nil, err
	}
	return p.scorer(ds).TrainBest(ctx, tuning.Best, p.cfg.Pipeline.ModelsDir, p.cfg.Registry.ModelName)
}

func (p *Pipeline) updateChampion(ctx context.Context, _ flow.Inputs) (any, error) {
	promotion, err := champion.Promote(ctx, p.store, champion.Options{
		ModelName: p.cfg.Registry.ModelName,
		Alias:     p.cfg.Registry.Alias,
		Target:    p.cfg.Registry.PromotionTarget,
		Metric:    p.cfg.Registry.Metric,
	}, p.log)
	if err != nil {
		return nil, err
	}
	p.metrics.Promotion(promotion.ModelName, promotion.Alias, promotion.Version.Version)
	return promotion, nil
}
