// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package trainer

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pdiddy/trip-trainer/internal/boost"
	"github.com/pdiddy/trip-trainer/internal/dataset"
	"github.com/pdiddy/trip-trainer/internal/features"
	"github.com/pdiddy/trip-trainer/internal/hpo"
	"github.com/pdiddy/trip-trainer/internal/tracking"
	"github.com/pdiddy/trip-trainer/pkg/types"
)

func testScorer(t *testing.T) (*Scorer, *tracking.Store) {
	t.Helper()
	month := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ds, err := features.Build(dataset.Synthetic(300, 1, month), dataset.Synthetic(100, 2, month.AddDate(0, 1, 0)))
	require.NoError(t, err)

	store, err := tracking.NewStore(types.TrackingConfig{Dir: t.TempDir(), Experiment: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewScorer(ds, store, boost.Options{NumRounds: 20, EarlyStoppingRounds: 5}, zaptest.NewLogger(t)), store
}

func goodParams() types.Hyperparams {
	return types.Hyperparams{
		MaxDepth:       6,
		LearningRate:   0.3,
		RegAlpha:       0.01,
		RegLambda:      0.1,
		MinChildWeight: 1,
		Objective:      boost.ObjectiveSquaredError,
		Seed:           42,
	}
}

func TestScoreLogsNestedRun(t *testing.T) {
	ctx := context.Background()
	s, store := testScorer(t)

	parent, err := store.StartRun(ctx, SearchRunName, "")
	require.NoError(t, err)

	sc, err := s.Score(ctx, parent, "trial-0", goodParams())
	require.NoError(t, err)
	assert.Greater(t, sc.Loss, 0.0)
	assert.False(t, math.IsInf(sc.Loss, 0))
	assert.Equal(t, "model/model.msgpack", sc.ModelSource)

	run, err := store.GetRun(ctx, sc.RunID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID(), run.ParentID)
	assert.Equal(t, types.RunFinished, run.Status)
	assert.Equal(t, ModelFamily, run.Tags[TagModelFamily])
	assert.Equal(t, "6", run.Params["max_depth"])
	assert.Equal(t, "reg:squarederror", run.Params["objective"])
	assert.Equal(t, sc.Loss, run.Metrics[MetricRMSE])

	artifacts, err := store.Artifacts(ctx, sc.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{"model/model.msgpack"}, artifacts)
}

func TestScoreFailureFailsRun(t *testing.T) {
	ctx := context.Background()
	s, store := testScorer(t)

	bad := goodParams()
	bad.LearningRate = 0
	sc, err := s.Score(ctx, nil, "trial-0", bad)
	assert.ErrorIs(t, err, boost.ErrInvalidParams)

	run, err := store.GetRun(ctx, sc.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Status)
	_, ok := run.Metric(MetricRMSE)
	assert.False(t, ok)
}

func TestObjectiveSentinelOnFailure(t *testing.T) {
	ctx := context.Background()
	s, store := testScorer(t)
	parent, err := store.StartRun(ctx, SearchRunName, "")
	require.NoError(t, err)

	space := hpo.DefaultSpace()
	obj := Objective(s, space, parent)

	cfg := hpo.Configuration{
		hpo.MaxDepth:       0,
		hpo.LearningRate:   0.1,
		hpo.RegAlpha:       0.01,
		hpo.RegLambda:      0.01,
		hpo.MinChildWeight: 1,
		hpo.Seed:           42,
	}
	loss, err := obj(ctx, 3, cfg)
	assert.Error(t, err)
	assert.Equal(t, hpo.SentinelLoss, loss)

	cfg[hpo.MaxDepth] = 5
	loss, err = obj(ctx, 4, cfg)
	require.NoError(t, err)
	assert.Less(t, loss, hpo.SentinelLoss)

	trials, err := store.SearchRuns(ctx, tracking.RunQuery{ParentID: parent.ID()})
	require.NoError(t, err)
	require.Len(t, trials, 2)
	assert.Equal(t, "trial-3", trials[0].Name)
	assert.Equal(t, types.RunFailed, trials[0].Status)
	assert.Equal(t, "trial-4", trials[1].Name)
	assert.Equal(t, types.RunFinished, trials[1].Status)
}

func TestTrainBestRegistersVersion(t *testing.T) {
	ctx := context.Background()
	s, store := testScorer(t)
	modelsDir := filepath.Join(t.TempDir(), "models")

	best, err := s.TrainBest(ctx, goodParams(), modelsDir, "nyc-taxi-model")
	require.NoError(t, err)
	assert.Equal(t, 1, best.Version.Version)
	assert.Equal(t, best.RunID, best.Version.RunID)
	assert.Equal(t, filepath.Join(modelsDir, PreprocessorFile), best.PreprocessorPath)

	_, err = os.Stat(best.PreprocessorPath)
	require.NoError(t, err)
	loaded, err := features.LoadVectorizer(best.PreprocessorPath)
	require.NoError(t, err)
	assert.True(t, loaded.Fitted())

	run, err := store.GetRun(ctx, best.RunID)
	require.NoError(t, err)
	assert.Equal(t, BestRunName, run.Name)
	assert.Empty(t, run.ParentID)
	assert.Equal(t, best.Loss, run.Metrics[MetricRMSE])

	artifacts, err := store.Artifacts(ctx, best.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{"model/model.msgpack", "preprocessor/preprocessor.msgpack"}, artifacts)

	again, err := s.TrainBest(ctx, goodParams(), modelsDir, "nyc-taxi-model")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Version.Version)
}
