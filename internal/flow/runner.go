// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package flow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/trip-trainer/internal/metrics"
)

// Runner executes flows sequentially on the calling goroutine.
type Runner struct {
	log     *zap.Logger
	metrics *metrics.Recorder

	// Sleep waits d between attempts. It returns early with ctx.Err() when
	// ctx is cancelled. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnTransition, when set, is called on every stage state change.
	OnTransition func(stage string, from, to State)

	now func() time.Time
}

// NewRunner returns a runner that logs to log and records attempts in rec.
// Both may be nil.
func NewRunner(log *zap.Logger, rec *metrics.Recorder) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		log:     log,
		metrics: rec,
		Sleep:   sleep,
		now:     time.Now,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run validates f and executes its enabled tasks in order. Each task sees
// only the outputs of its declared inputs. The first task that exhausts its
// attempts stops the run with a *StageError; later tasks stay PENDING.
func (r *Runner) Run(ctx context.Context, f Flow) (Report, error) {
	report := Report{Flow: f.Name, outputs: make(map[string]any)}
	if err := f.Validate(); err != nil {
		return report, err
	}

	enabled := f.enabledSet()
	report.Stages = make([]StageReport, len(f.Tasks))
	for i, t := range f.Tasks {
		report.Stages[i] = StageReport{Name: t.Name, State: StatePending}
		if !enabled[t.Name] {
			r.transition(&report.Stages[i], StateSkipped)
		}
	}

	r.log.Info("flow started", zap.String("flow", f.Name), zap.Strings("enabled", enabledNames(f, enabled)))
	start := r.now()

	for i, t := range f.Tasks {
		stage := &report.Stages[i]
		if stage.State == StateSkipped {
			r.log.Info("stage skipped", zap.String("stage", t.Name))
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("flow %s cancelled before %s: %w", f.Name, t.Name, err)
		}

		in := Inputs{task: t.Name, values: make(map[string]any, len(t.Inputs))}
		for _, name := range t.Inputs {
			in.values[name] = report.outputs[name]
		}

		out, err := r.runTask(ctx, t, in, stage)
		if err != nil {
			serr := &StageError{Stage: t.Name, Kind: t.Kind, Attempts: stage.Attempts, Err: err}
			r.log.Error("flow failed",
				zap.String("flow", f.Name),
				zap.String("stage", t.Name),
				zap.String("kind", string(t.Kind)),
				zap.Int("attempts", stage.Attempts),
				zap.Error(err),
			)
			return report, serr
		}
		report.outputs[t.Name] = out
	}

	r.log.Info("flow finished", zap.String("flow", f.Name), zap.Duration("elapsed", r.now().Sub(start)))
	return report, nil
}

// runTask drives one task through RUNNING, RETRYING and its final state.
func (r *Runner) runTask(ctx context.Context, t Task, in Inputs, stage *StageReport) (any, error) {
	start := r.now()
	defer func() {
		stage.Duration = r.now().Sub(start)
		r.metrics.StageDuration(t.Name, stage.Duration)
	}()

	maxAttempts := t.Retry.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		r.transition(stage, StateRunning)
		stage.Attempts = attempt
		r.log.Info("stage started", zap.String("stage", t.Name), zap.Int("attempt", attempt))

		out, err := t.Run(ctx, in)
		if err == nil {
			r.transition(stage, StateSuccess)
			r.metrics.StageAttempt(t.Name, metrics.OutcomeOK)
			r.log.Info("stage succeeded", zap.String("stage", t.Name), zap.Int("attempts", attempt))
			return out, nil
		}

		if attempt >= maxAttempts || ctx.Err() != nil {
			stage.Err = err
			r.transition(stage, StateFailed)
			r.metrics.StageAttempt(t.Name, metrics.OutcomeFailed)
			return nil, err
		}

		r.transition(stage, StateRetrying)
		r.metrics.StageAttempt(t.Name, metrics.OutcomeRetry)
		r.log.Warn("stage attempt failed, retrying",
			zap.String("stage", t.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", t.Retry.Delay),
			zap.Error(err),
		)
		if serr := r.Sleep(ctx, t.Retry.Delay); serr != nil {
			stage.Err = err
			r.transition(stage, StateFailed)
			return nil, fmt.Errorf("%w (retry interrupted: %v)", err, serr)
		}
	}
}

func (r *Runner) transition(stage *StageReport, to State) {
	from := stage.State
	stage.State = to
	if r.OnTransition != nil {
		r.OnTransition(stage.Name, from, to)
	}
}

func enabledNames(f Flow, enabled map[string]bool) []string {
	var names []string
	for _, t := range f.Tasks {
		if enabled[t.Name] {
			names = append(names, t.Name)
		}
	}
	return names
}
