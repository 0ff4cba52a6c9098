// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package trainer trains and scores booster configurations inside tracked
// runs. Every trial is a nested run under the search run; the final fit is a
// top-level run that also persists the fitted encoder and registers a model
// version.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pdiddy/trip-trainer/internal/boost"
	"github.com/pdiddy/trip-trainer/internal/features"
	"github.com/pdiddy/trip-trainer/internal/hpo"
	"github.com/pdiddy/trip-trainer/internal/tracking"
	"github.com/pdiddy/trip-trainer/pkg/types"
)

// Run names, tags, metrics and artifact locations written by the trainer.
const (
	SearchRunName = "tpe-search"
	BestRunName   = "best-model"

	MetricRMSE          = "rmse"
	MetricBestIteration = "best_iteration"

	TagModelFamily = "model_family"
	ModelFamily    = "gbtree"

	ModelArtifactPath        = "model"
	PreprocessorArtifactPath = "preprocessor"
	ModelFile                = "model.msgpack"
	PreprocessorFile         = "preprocessor.msgpack"
)

// ErrNonFiniteLoss is returned when a trained model scores NaN or Inf.
var ErrNonFiniteLoss = errors.New("non-finite validation loss")

// Scorer trains a booster for a configuration on a fixed dataset and
// reports the validation RMSE.
type Scorer struct {
	data    features.Dataset
	store   *tracking.Store
	options boost.Options
	log     *zap.Logger
}

// Score is the outcome of one scored configuration.
type Score struct {
	RunID         string
	Loss          float64
	BestIteration int
	ModelSource   string
}

// NewScorer returns a scorer over data that records into store.
func NewScorer(data features.Dataset, store *tracking.Store, opts boost.Options, log *zap.Logger) *Scorer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scorer{data: data, store: store, options: opts, log: log}
}

// Score trains params in a run named name nested under parent. The run gets
// the model_family tag, the parameters, the rmse metric and the model
// artifact. A training failure fails the run and is returned.
func (s *Scorer) Score(ctx context.Context, parent *tracking.Run, name string, params types.Hyperparams) (Score, error) {
	parentID := ""
	if parent != nil {
		parentID = parent.ID()
	}

	var sc Score
	err := tracking.WithRun(ctx, s.store, name, parentID, func(r *tracking.Run) error {
		sc.RunID = r.ID()
		if err := r.SetTag(ctx, TagModelFamily, ModelFamily); err != nil {
			return err
		}
		var err error
		sc, err = s.fit(ctx, r, params)
		return err
	})
	return sc, err
}

// fit trains params, logs the result on r and returns the score.
func (s *Scorer) fit(ctx context.Context, r *tracking.Run, params types.Hyperparams) (Score, error) {
	sc := Score{RunID: r.ID()}
	if err := r.LogParams(ctx, params.Params()); err != nil {
		return sc, err
	}

	b, err := boost.Train(s.data.Train, s.data.TrainY, s.data.Validation, s.data.ValY, params, s.options)
	if err != nil {
		return sc, fmt.Errorf("training: %w", err)
	}
	loss := boost.RMSE(s.data.ValY, b.PredictMatrix(s.data.Validation))
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return sc, fmt.Errorf("%w: %v", ErrNonFiniteLoss, loss)
	}
	sc.Loss = loss
	sc.BestIteration = b.BestIteration

	if err := r.LogMetric(ctx, MetricRMSE, loss); err != nil {
		return sc, err
	}
	if err := r.LogMetric(ctx, MetricBestIteration, float64(b.BestIteration)); err != nil {
		return sc, err
	}
	if sc.ModelSource, err = logModel(ctx, r, b); err != nil {
		return sc, err
	}

	s.log.Debug("scored configuration",
		zap.String("run_id", r.ID()),
		zap.Int("max_depth", params.MaxDepth),
		zap.Float64("learning_rate", params.LearningRate),
		zap.Float64("rmse", loss),
		zap.Int("best_iteration", b.BestIteration),
	)
	return sc, nil
}

// logModel saves b to a scratch file and logs it under the model artifact
// path. It returns the artifact's relative path.
func logModel(ctx context.Context, r *tracking.Run, b *boost.Booster) (string, error) {
	dir, err := os.MkdirTemp("", "trip-trainer-model-")
	if err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, ModelFile)
	if err := b.Save(path); err != nil {
		return "", err
	}
	return r.LogArtifact(ctx, path, ModelArtifactPath)
}

// Objective adapts s into a search objective whose trials are nested
// under parent. A failed trial is logged and returned as an error, which
// the search records as a sentinel loss.
func Objective(s *Scorer, space hpo.Space, parent *tracking.Run) hpo.Objective {
	return func(ctx context.Context, trial int, cfg hpo.Configuration) (float64, error) {
		params := space.Hyperparams(cfg)
		sc, err := s.Score(ctx, parent, fmt.Sprintf("trial-%d", trial), params)
		if err != nil {
			s.log.Warn("trial failed",
				zap.Int("trial", trial),
				zap.Any("params", params),
				zap.Error(err),
			)
			return hpo.SentinelLoss, err
		}
		s.log.Info("trial finished",
			zap.Int("trial", trial),
			zap.String("run_id", sc.RunID),
			zap.Float64("rmse", sc.Loss),
		)
		return sc.Loss, nil
	}
}

// BestModel is the outcome of the final fit.
type BestModel struct {
	RunID            string
	Loss             float64
	Version          types.ModelVersion
	PreprocessorPath string
}

// TrainBest fits params in a top-level best-model run, writes the fitted
// encoder to modelsDir/preprocessor.msgpack, logs it and the model as
// artifacts, and registers a new version of modelName for the run.
func (s *Scorer) TrainBest(ctx context.Context, params types.Hyperparams, modelsDir, modelName string) (BestModel, error) {
	var best BestModel
	err := tracking.WithRun(ctx, s.store, BestRunName, "", func(r *tracking.Run) error {
		best.RunID = r.ID()
		sc, err := s.fit(ctx, r, params)
		if err != nil {
			return err
		}
		best.Loss = sc.Loss

		best.PreprocessorPath = filepath.Join(modelsDir, PreprocessorFile)
		if err := s.data.Vectorizer.Save(best.PreprocessorPath); err != nil {
			return fmt.Errorf("saving preprocessor: %w", err)
		}
		if _, err := r.LogArtifact(ctx, best.PreprocessorPath, PreprocessorArtifactPath); err != nil {
			return err
		}

		best.Version, err = s.store.RegisterModelVersion(ctx, modelName, r.ID(), sc.ModelSource)
		return err
	})
	if err != nil {
		return best, err
	}

	s.log.Info("best model trained",
		zap.String("run_id", best.RunID),
		zap.Float64("rmse", best.Loss),
		zap.String("model", modelName),
		zap.Int("version", best.Version.Version),
	)
	return best, nil
}
