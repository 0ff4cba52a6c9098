// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package hpo

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/trip-trainer/pkg/types"
)

// bowl is minimised at learning_rate=0.1 and max_depth=10.
func bowl(_ context.Context, _ int, cfg Configuration) (float64, error) {
	lr := math.Log(cfg[LearningRate]) - math.Log(0.1)
	d := (cfg[MaxDepth] - 10) / 10
	return lr*lr + d*d, nil
}

func TestDefaultSpace(t *testing.T) {
	s := DefaultSpace()
	require.NoError(t, s.Validate())
	assert.Len(t, s.Dimensions, 6)

	hp := s.Hyperparams(Configuration{
		MaxDepth:       37.4,
		LearningRate:   0.2,
		RegAlpha:       0.01,
		RegLambda:      0.02,
		MinChildWeight: 3,
		Seed:           42,
	})
	assert.Equal(t, types.Hyperparams{
		MaxDepth:       37,
		LearningRate:   0.2,
		RegAlpha:       0.01,
		RegLambda:      0.02,
		MinChildWeight: 3,
		Objective:      "reg:squarederror",
		Seed:           42,
	}, hp)
}

func TestSpaceValidate(t *testing.T) {
	tests := []struct {
		name string
		dims []Dimension
	}{
		{"empty", nil},
		{"unnamed", []Dimension{{Kind: Uniform, Low: 0, High: 1}}},
		{"duplicate", []Dimension{{Name: "a", Kind: Uniform, High: 1}, {Name: "a", Kind: Uniform, High: 1}}},
		{"inverted", []Dimension{{Name: "a", Kind: Uniform, Low: 2, High: 1}}},
		{"log zero", []Dimension{{Name: "a", Kind: LogUniform, Low: 0, High: 1}}},
		{"no quantum", []Dimension{{Name: "a", Kind: QUniform, Low: 0, High: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Space{Dimensions: tt.dims}.Validate()
			assert.ErrorIs(t, err, ErrInvalidSpace)
		})
	}
}

func TestTPEEmptyHistoryUsesPrior(t *testing.T) {
	s := DefaultSpace()
	for seed := uint64(0); seed < 20; seed++ {
		cfg, err := NewTPE(types.SearchConfig{Seed: seed}).Propose(s, nil)
		require.NoError(t, err)
		assert.True(t, s.Contains(cfg), "prior draw out of bounds: %v", cfg)
		assert.Equal(t, math.Round(cfg[MaxDepth]), cfg[MaxDepth])
		assert.Equal(t, 42.0, cfg[Seed])
	}
}

func TestTPEProposalsStayInBounds(t *testing.T) {
	s := DefaultSpace()
	tpe := NewTPE(types.SearchConfig{Seed: 7})
	var history []Observation
	for i := 0; i < 30; i++ {
		cfg, err := tpe.Propose(s, history)
		require.NoError(t, err)
		require.True(t, s.Contains(cfg), "trial %d out of bounds: %v", i, cfg)
		loss, _ := bowl(context.Background(), i, cfg)
		history = append(history, Observation{Trial: i, Config: cfg, Loss: loss})
	}
}

func TestTPEDefaults(t *testing.T) {
	tpe := NewTPE(types.SearchConfig{})
	assert.Equal(t, 0.25, tpe.Gamma)
	assert.Equal(t, 24, tpe.Candidates)
	assert.Equal(t, 1, tpe.Startup)
}

func TestTPESplit(t *testing.T) {
	tpe := NewTPE(types.SearchConfig{})
	var history []Observation
	for i, loss := range []float64{5, 1, 3, 1, 9, 2, 8, 7, 6, 4, 10, 11, 12, 13, 14, 15, 16} {
		history = append(history, Observation{Trial: i, Loss: loss})
	}
	good, bad := tpe.split(history)

	// ceil(0.25 * sqrt(17)) = 2
	require.Len(t, good, 2)
	assert.Len(t, bad, 15)
	assert.Equal(t, 1, good[0].Trial)
	assert.Equal(t, 3, good[1].Trial)
	// the input order is untouched
	assert.Equal(t, 0, history[0].Trial)
}

func TestTPESplitSkipsFailed(t *testing.T) {
	tpe := NewTPE(types.SearchConfig{})
	history := []Observation{
		{Trial: 0, Loss: SentinelLoss, Failed: true},
		{Trial: 1, Loss: 4},
		{Trial: 2, Loss: SentinelLoss, Failed: true},
		{Trial: 3, Loss: 2},
	}
	good, bad := tpe.split(history)
	require.Len(t, good, 1)
	assert.Equal(t, 3, good[0].Trial)
	require.Len(t, bad, 1)
	assert.Equal(t, 1, bad[0].Trial)
}

func TestTPEOnlyFailuresUsesPrior(t *testing.T) {
	s := Space{Dimensions: []Dimension{{Name: "x", Kind: QUniform, Low: 4, High: 100, Q: 1}}}
	var failed []Observation
	for i := 0; i < 9; i++ {
		failed = append(failed, Observation{Trial: i, Config: Configuration{"x": 100}, Loss: SentinelLoss, Failed: true})
	}

	withFailures := NewTPE(types.SearchConfig{Seed: 11})
	fresh := NewTPE(types.SearchConfig{Seed: 11})
	high := 0
	for i := 0; i < 200; i++ {
		got, err := withFailures.Propose(s, failed)
		require.NoError(t, err)
		want, err := fresh.Propose(s, nil)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		if got["x"] >= 90 {
			high++
		}
	}
	assert.Greater(t, high, 5)
}

func TestTPEConcentratesNearGoodObservations(t *testing.T) {
	s := Space{Dimensions: []Dimension{{Name: "x", Kind: Uniform, Low: 0, High: 100}}}
	history := []Observation{
		{Trial: 0, Config: Configuration{"x": 29}, Loss: 1},
		{Trial: 1, Config: Configuration{"x": 31}, Loss: 1},
	}
	for i := 0; i < 14; i++ {
		x := 52 + float64(i)*3.5
		history = append(history, Observation{Trial: i + 2, Config: Configuration{"x": x}, Loss: x})
	}
	tpe := NewTPE(types.SearchConfig{Gamma: 0.5, Seed: 3})
	near := 0
	for i := 0; i < 50; i++ {
		cfg, err := tpe.Propose(s, history)
		require.NoError(t, err)
		if math.Abs(cfg["x"]-30) < 20 {
			near++
		}
	}
	assert.Greater(t, near, 40)
}

func TestMinimizeBestIsMinimum(t *testing.T) {
	res, err := Minimize(context.Background(), bowl, DefaultSpace(), Options{
		MaxEvals: 10,
		Proposer: NewTPE(types.SearchConfig{Seed: 42}),
	})
	require.NoError(t, err)
	require.Len(t, res.History, 10)
	for i, o := range res.History {
		assert.Equal(t, i, o.Trial)
		assert.LessOrEqual(t, res.BestLoss, o.Loss)
		assert.False(t, math.IsNaN(o.Loss))
		assert.GreaterOrEqual(t, o.Loss, 0.0)
	}
	assert.Equal(t, res.History[res.BestTrial].Config, res.Best)
	assert.Equal(t, res.History[res.BestTrial].Loss, res.BestLoss)
}

func TestMinimizeFailedTrialsGetSentinel(t *testing.T) {
	boom := errors.New("boom")
	obj := func(_ context.Context, trial int, _ Configuration) (float64, error) {
		switch trial {
		case 0:
			return 0, boom
		case 1:
			return math.NaN(), nil
		case 2:
			return math.Inf(1), nil
		case 3:
			return -1, nil
		}
		return float64(trial), nil
	}
	var seen []Observation
	res, err := Minimize(context.Background(), obj, DefaultSpace(), Options{
		MaxEvals: 6,
		Proposer: NewRandomProposer(1),
		OnTrial:  func(o Observation) { seen = append(seen, o) },
	})
	require.NoError(t, err)
	require.Len(t, seen, 6)

	for _, o := range res.History[:4] {
		assert.True(t, o.Failed)
		assert.Equal(t, SentinelLoss, o.Loss)
		assert.Error(t, o.Err)
	}
	assert.ErrorIs(t, res.History[0].Err, boom)
	assert.Equal(t, 4, res.Failures())
	assert.Equal(t, 4, res.BestTrial)
	assert.Equal(t, 4.0, res.BestLoss)
}

func TestMinimizeAllFailed(t *testing.T) {
	obj := func(context.Context, int, Configuration) (float64, error) {
		return 0, errors.New("always")
	}
	res, err := Minimize(context.Background(), obj, DefaultSpace(), Options{MaxEvals: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, res.BestTrial)
	assert.Equal(t, SentinelLoss, res.BestLoss)
	assert.NotNil(t, res.Best)
}

func TestMinimizeTiesKeepEarliest(t *testing.T) {
	obj := func(context.Context, int, Configuration) (float64, error) { return 1, nil }
	res, err := Minimize(context.Background(), obj, DefaultSpace(), Options{
		MaxEvals: 5,
		Proposer: NewRandomProposer(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.BestTrial)
	assert.Equal(t, res.History[0].Config, res.Best)
}

func TestMinimizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	obj := func(_ context.Context, trial int, _ Configuration) (float64, error) {
		if trial == 1 {
			cancel()
		}
		return 1, nil
	}
	res, err := Minimize(ctx, obj, DefaultSpace(), Options{MaxEvals: 10})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, res.History, 2)
}

func TestMinimizeRejectsBadOptions(t *testing.T) {
	_, err := Minimize(context.Background(), bowl, DefaultSpace(), Options{})
	assert.Error(t, err)

	_, err = Minimize(context.Background(), nil, DefaultSpace(), Options{MaxEvals: 1})
	assert.Error(t, err)

	_, err = Minimize(context.Background(), bowl, Space{}, Options{MaxEvals: 1})
	assert.ErrorIs(t, err, ErrInvalidSpace)
}

func TestObjectiveReceivesCopy(t *testing.T) {
	obj := func(_ context.Context, _ int, cfg Configuration) (float64, error) {
		cfg[MaxDepth] = -1
		return 1, nil
	}
	res, err := Minimize(context.Background(), obj, DefaultSpace(), Options{MaxEvals: 2})
	require.NoError(t, err)
	for _, o := range res.History {
		assert.GreaterOrEqual(t, o.Config[MaxDepth], 4.0)
	}
}
