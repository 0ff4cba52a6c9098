// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pdiddy/trip-trainer/internal/metrics"
)

var errTransient = errors.New("source unreachable")

// testRunner records requested delays instead of sleeping.
func testRunner(t *testing.T) (*Runner, *[]time.Duration) {
	t.Helper()
	var delays []time.Duration
	r := NewRunner(zaptest.NewLogger(t), metrics.New())
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return r, &delays
}

// flaky fails the first n calls.
func flaky(n int, calls *int) TaskFunc {
	return func(context.Context, Inputs) (any, error) {
		*calls++
		if *calls <= n {
			return nil, errTransient
		}
		return "records", nil
	}
}

func ingestFlow(run TaskFunc, downstream *bool) Flow {
	return Flow{
		Name: "training",
		Tasks: []Task{
			{Name: "read", Kind: KindIngestion, Retry: RetryPolicy{MaxRetries: 4, Delay: 10 * time.Second}, Run: run},
			{Name: "train", Kind: KindTraining, Inputs: []string{"read"}, Run: func(_ context.Context, in Inputs) (any, error) {
				*downstream = true
				return Input[string](in, "read")
			}},
		},
	}
}

func TestRetryThenSucceed(t *testing.T) {
	r, delays := testRunner(t)
	calls := 0
	ran := false

	report, err := r.Run(context.Background(), ingestFlow(flaky(3, &calls), &ran))
	require.NoError(t, err)

	assert.Equal(t, 4, calls)
	read, _ := report.Stage("read")
	assert.Equal(t, 4, read.Attempts)
	assert.Equal(t, StateSuccess, read.State)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second}, *delays)
	assert.True(t, ran)

	out, ok := report.Output("train")
	require.True(t, ok)
	assert.Equal(t, "records", out)

	expected := `
# HELP trip_trainer_stage_attempts_total Total number of stage attempts by outcome
# TYPE trip_trainer_stage_attempts_total counter
trip_trainer_stage_attempts_total{outcome="retry",stage="read"} 3
trip_trainer_stage_attempts_total{outcome="success",stage="read"} 1
trip_trainer_stage_attempts_total{outcome="success",stage="train"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(r.metrics.Registry(), strings.NewReader(expected),
		"trip_trainer_stage_attempts_total"))
}

func TestRetryExhausted(t *testing.T) {
	r, delays := testRunner(t)
	calls := 0
	ran := false

	report, err := r.Run(context.Background(), ingestFlow(flaky(100, &calls), &ran))
	require.Error(t, err)

	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "read", serr.Stage)
	assert.Equal(t, KindIngestion, serr.Kind)
	assert.Equal(t, 5, serr.Attempts)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, "stage read (ingestion) failed after 5 attempt(s): source unreachable", err.Error())

	assert.Equal(t, 5, calls)
	assert.Len(t, *delays, 4)
	assert.False(t, ran)

	read, _ := report.Stage("read")
	assert.Equal(t, StateFailed, read.State)
	train, _ := report.Stage("train")
	assert.Equal(t, StatePending, train.State)
	assert.Equal(t, 0, train.Attempts)
}

func TestNonRetriedFailureStopsRun(t *testing.T) {
	r, delays := testRunner(t)
	boom := errors.New("boom")
	promoted := false

	f := Flow{Tasks: []Task{
		{Name: "train", Kind: KindTraining, Run: func(context.Context, Inputs) (any, error) { return nil, boom }},
		{Name: "promote", Kind: KindPromotion, Inputs: []string{"train"}, Run: func(context.Context, Inputs) (any, error) {
			promoted = true
			return nil, nil
		}},
	}}
	_, err := r.Run(context.Background(), f)

	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindTraining, serr.Kind)
	assert.Equal(t, 1, serr.Attempts)
	assert.Empty(t, *delays)
	assert.False(t, promoted)
}

func TestStateTransitions(t *testing.T) {
	r, _ := testRunner(t)
	var seen []State
	r.OnTransition = func(stage string, _, to State) {
		if stage == "read" {
			seen = append(seen, to)
		}
	}
	calls := 0
	ran := false
	_, err := r.Run(context.Background(), ingestFlow(flaky(1, &calls), &ran))
	require.NoError(t, err)
	assert.Equal(t, []State{StateRunning, StateRetrying, StateRunning, StateSuccess}, seen)
}

func TestSkippedStages(t *testing.T) {
	r, _ := testRunner(t)
	var ran []string
	task := func(name string, inputs ...string) Task {
		return Task{Name: name, Inputs: inputs, Run: func(context.Context, Inputs) (any, error) {
			ran = append(ran, name)
			return name, nil
		}}
	}
	f := Flow{
		Tasks:   []Task{task("a"), task("b", "a"), task("c")},
		Enabled: []string{"a", "c"},
	}

	report, err := r.Run(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ran)
	b, _ := report.Stage("b")
	assert.Equal(t, StateSkipped, b.State)
	_, ok := report.Output("b")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	noop := func(context.Context, Inputs) (any, error) { return nil, nil }
	tests := []struct {
		name string
		flow Flow
		want error
	}{
		{"empty", Flow{}, ErrInvalidFlow},
		{"unnamed", Flow{Tasks: []Task{{Run: noop}}}, ErrInvalidFlow},
		{"duplicate", Flow{Tasks: []Task{{Name: "a", Run: noop}, {Name: "a", Run: noop}}}, ErrInvalidFlow},
		{"no func", Flow{Tasks: []Task{{Name: "a"}}}, ErrInvalidFlow},
		{"negative retries", Flow{Tasks: []Task{{Name: "a", Run: noop, Retry: RetryPolicy{MaxRetries: -1}}}}, ErrInvalidFlow},
		{"forward input", Flow{Tasks: []Task{{Name: "a", Inputs: []string{"b"}, Run: noop}, {Name: "b", Run: noop}}}, ErrInvalidFlow},
		{"unknown enabled", Flow{Tasks: []Task{{Name: "a", Run: noop}}, Enabled: []string{"z"}}, ErrInvalidFlow},
		{"disabled input", Flow{
			Tasks:   []Task{{Name: "a", Run: noop}, {Name: "b", Inputs: []string{"a"}, Run: noop}},
			Enabled: []string{"b"},
		}, ErrMissingInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.flow.Validate(), tt.want)
		})
	}
}

func TestInvalidFlowRunsNothing(t *testing.T) {
	r, _ := testRunner(t)
	ran := false
	f := Flow{
		Tasks: []Task{
			{Name: "a", Run: func(context.Context, Inputs) (any, error) { ran = true; return nil, nil }},
			{Name: "b", Inputs: []string{"a"}, Run: func(context.Context, Inputs) (any, error) { return nil, nil }},
		},
		Enabled: []string{"b"},
	}
	_, err := r.Run(context.Background(), f)
	assert.ErrorIs(t, err, ErrMissingInput)
	assert.False(t, ran)
}

func TestInputTypeMismatch(t *testing.T) {
	in := Inputs{task: "t", values: map[string]any{"a": 1}}
	_, err := Input[string](in, "a")
	assert.Error(t, err)
	_, err = Input[int](in, "missing")
	assert.ErrorIs(t, err, ErrMissingInput)
	v, err := Input[int](in, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestCancelledDuringRetry(t *testing.T) {
	r := NewRunner(zaptest.NewLogger(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	f := Flow{Tasks: []Task{{
		Name:  "read",
		Kind:  KindIngestion,
		Retry: RetryPolicy{MaxRetries: 4, Delay: time.Hour},
		Run: func(context.Context, Inputs) (any, error) {
			calls++
			cancel()
			return nil, errTransient
		},
	}}}

	_, err := r.Run(ctx, f)
	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errTransient)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleep(context.Background(), time.Millisecond))
}
