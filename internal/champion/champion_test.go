// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package champion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pdiddy/trip-trainer/internal/tracking"
	"github.com/pdiddy/trip-trainer/pkg/types"
)

const model = "nyc-taxi-model"

func testStore(t *testing.T) *tracking.Store {
	t.Helper()
	s, err := tracking.NewStore(types.TrackingConfig{Dir: t.TempDir(), Experiment: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// logRun records a finished run with the given rmse and returns its ID.
func logRun(t *testing.T, s *tracking.Store, name string, rmse float64) string {
	t.Helper()
	ctx := context.Background()
	var id string
	require.NoError(t, tracking.WithRun(ctx, s, name, "", func(r *tracking.Run) error {
		id = r.ID()
		return r.LogMetric(ctx, "rmse", rmse)
	}))
	return id
}

func register(t *testing.T, s *tracking.Store, runID string) types.ModelVersion {
	t.Helper()
	mv, err := s.RegisterModelVersion(context.Background(), model, runID, "model/model.msgpack")
	require.NoError(t, err)
	return mv
}

func opts(target types.PromotionTarget) Options {
	return Options{ModelName: model, Alias: "champion", Target: target, Metric: "rmse"}
}

func TestPromoteMinLossRun(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	first := logRun(t, s, "best-model", 5.5)
	register(t, s, first)
	second := logRun(t, s, "best-model", 6.0)
	register(t, s, second)

	p, err := Promote(ctx, s, opts(types.PromoteMinLossRun), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version.Version)
	assert.Equal(t, first, p.Version.RunID)
	assert.Equal(t, 5.5, p.Loss)

	current, err := s.AliasVersion(ctx, model, "champion")
	require.NoError(t, err)
	assert.Equal(t, 1, current.Version)
}

func TestPromoteLatestVersion(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	register(t, s, logRun(t, s, "best-model", 5.5))
	second := logRun(t, s, "best-model", 6.0)
	register(t, s, second)

	p, err := Promote(ctx, s, opts(types.PromoteLatestVersion), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version.Version)
	assert.Equal(t, 6.0, p.Loss)
}

func TestPromoteWarnsWhenBestRunHasNoVersion(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	trial := logRun(t, s, "trial-0", 4.0)
	best := logRun(t, s, "best-model", 4.5)
	register(t, s, best)

	core, logs := observer.New(zap.WarnLevel)
	p, err := Promote(ctx, s, opts(""), zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, best, p.Version.RunID)
	assert.Equal(t, trial, p.BestRun.ID)

	warnings := logs.FilterMessage("best run has no registered version").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, trial, warnings[0].ContextMap()["best_run"])
}

func TestPromoteIsIdempotentAcrossRuns(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	// two pipeline executions; the earlier one scored better
	register(t, s, logRun(t, s, "best-model", 3.0))
	_, err := Promote(ctx, s, opts(types.PromoteMinLossRun), nil)
	require.NoError(t, err)
	register(t, s, logRun(t, s, "best-model", 3.2))
	_, err = Promote(ctx, s, opts(types.PromoteMinLossRun), nil)
	require.NoError(t, err)

	current, err := s.AliasVersion(ctx, model, "champion")
	require.NoError(t, err)
	assert.Equal(t, 1, current.Version)

	history, err := s.AliasHistory(ctx, model, "champion")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestPromoteErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("no runs", func(t *testing.T) {
		_, err := Promote(ctx, testStore(t), opts(""), nil)
		assert.ErrorIs(t, err, ErrNoRuns)
	})

	t.Run("runs without metric", func(t *testing.T) {
		s := testStore(t)
		require.NoError(t, tracking.WithRun(ctx, s, "empty", "", func(*tracking.Run) error { return nil }))
		_, err := Promote(ctx, s, opts(""), nil)
		assert.ErrorIs(t, err, ErrNoRuns)
	})

	t.Run("no versions", func(t *testing.T) {
		s := testStore(t)
		logRun(t, s, "best-model", 1)
		_, err := Promote(ctx, s, opts(""), nil)
		assert.ErrorIs(t, err, ErrNoVersions)
		assert.NotErrorIs(t, err, ErrNoRuns)
	})

	t.Run("versions without ranked runs", func(t *testing.T) {
		s := testStore(t)
		logRun(t, s, "trial-0", 1)
		var unranked string
		require.NoError(t, tracking.WithRun(ctx, s, "best-model", "", func(r *tracking.Run) error {
			unranked = r.ID()
			return nil
		}))
		register(t, s, unranked)
		_, err := Promote(ctx, s, opts(types.PromoteMinLossRun), nil)
		assert.ErrorIs(t, err, ErrNoVersions)
	})

	t.Run("unknown target", func(t *testing.T) {
		s := testStore(t)
		register(t, s, logRun(t, s, "best-model", 1))
		_, err := Promote(ctx, s, opts("newest"), nil)
		assert.Error(t, err)
	})

	t.Run("registry failure", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := Promote(ctx, failingRegistry{err: boom}, opts(""), nil)
		assert.ErrorIs(t, err, boom)
	})
}

type failingRegistry struct {
	err error
}

func (f failingRegistry) SearchRuns(context.Context, tracking.RunQuery) ([]types.RunSummary, error) {
	return nil, f.err
}

func (f failingRegistry) SearchModelVersions(context.Context, string) ([]types.ModelVersion, error) {
	return nil, f.err
}

func (f failingRegistry) SetAlias(context.Context, string, string, int) error {
	return f.err
}
