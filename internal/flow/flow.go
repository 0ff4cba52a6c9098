// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package flow runs a fixed sequence of named stages. Each stage declares
// the earlier stages whose outputs it consumes and an optional retry policy.
// The first stage that fails ends the run; stages are not resumable.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of one stage within a run.
type State string

const (
	StatePending  State = "PENDING"
	StateRunning  State = "RUNNING"
	StateRetrying State = "RETRYING"
	StateSuccess  State = "SUCCESS"
	StateFailed   State = "FAILED"
	StateSkipped  State = "SKIPPED"
)

// ErrorKind classifies a stage failure for operators.
type ErrorKind string

const (
	KindIngestion ErrorKind = "ingestion"
	KindFeatures  ErrorKind = "features"
	KindTraining  ErrorKind = "training"
	KindPromotion ErrorKind = "promotion"
)

var (
	// ErrInvalidFlow is returned when a flow definition is inconsistent.
	ErrInvalidFlow = errors.New("invalid flow")

	// ErrMissingInput is returned when an enabled stage consumes the output
	// of a stage that is not enabled.
	ErrMissingInput = errors.New("stage input is not produced")
)

// RetryPolicy bounds re-execution of a failing stage. The zero value runs a
// stage exactly once.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
}

// TaskFunc executes a stage. in exposes only the declared inputs.
type TaskFunc func(ctx context.Context, in Inputs) (any, error)

// Task is one stage of a flow.
type Task struct {
	Name   string
	Inputs []string
	Retry  RetryPolicy
	Kind   ErrorKind
	Run    TaskFunc
}

// Flow is an ordered list of tasks. The order must be topological: a task
// may only consume tasks declared before it.
type Flow struct {
	Name  string
	Tasks []Task
	// Enabled lists the tasks that execute. Nil enables every task; the
	// others are reported SKIPPED.
	Enabled []string
}

// Validate checks names, input references and the enable list.
func (f Flow) Validate() error {
	if len(f.Tasks) == 0 {
		return fmt.Errorf("%w: no tasks", ErrInvalidFlow)
	}
	declared := make(map[string]bool, len(f.Tasks))
	for _, t := range f.Tasks {
		if t.Name == "" {
			return fmt.Errorf("%w: unnamed task", ErrInvalidFlow)
		}
		if declared[t.Name] {
			return fmt.Errorf("%w: duplicate task %q", ErrInvalidFlow, t.Name)
		}
		if t.Run == nil {
			return fmt.Errorf("%w: task %q has no function", ErrInvalidFlow, t.Name)
		}
		if t.Retry.MaxRetries < 0 || t.Retry.Delay < 0 {
			return fmt.Errorf("%w: task %q has a negative retry policy", ErrInvalidFlow, t.Name)
		}
		for _, in := range t.Inputs {
			if !declared[in] {
				return fmt.Errorf("%w: task %q consumes %q which is not declared before it", ErrInvalidFlow, t.Name, in)
			}
		}
		declared[t.Name] = true
	}

	enabled := f.enabledSet()
	for name := range enabled {
		if !declared[name] {
			return fmt.Errorf("%w: unknown enabled task %q", ErrInvalidFlow, name)
		}
	}
	for _, t := range f.Tasks {
		if !enabled[t.Name] {
			continue
		}
		for _, in := range t.Inputs {
			if !enabled[in] {
				return fmt.Errorf("%w: %q needs %q, which is disabled", ErrMissingInput, t.Name, in)
			}
		}
	}
	return nil
}

func (f Flow) enabledSet() map[string]bool {
	set := make(map[string]bool, len(f.Tasks))
	if f.Enabled == nil {
		for _, t := range f.Tasks {
			set[t.Name] = true
		}
		return set
	}
	for _, name := range f.Enabled {
		set[name] = true
	}
	return set
}

// Inputs is the read-only view of upstream outputs handed to a task.
type Inputs struct {
	task   string
	values map[string]any
}

// Input returns the output of the named upstream task as T.
func Input[T any](in Inputs, name string) (T, error) {
	var zero T
	v, ok := in.values[name]
	if !ok {
		return zero, fmt.Errorf("%w: %q is not an input of %q", ErrMissingInput, name, in.task)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("input %q of %q has type %T, want %T", name, in.task, v, zero)
	}
	return t, nil
}

// StageError reports the stage that failed a run.
type StageError struct {
	Stage    string
	Kind     ErrorKind
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (%s) failed after %d attempt(s): %v", e.Stage, e.Kind, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageReport is the final state of one stage.
type StageReport struct {
	Name     string        `json:"name" yaml:"name"`
	State    State         `json:"state" yaml:"state"`
	Attempts int           `json:"attempts" yaml:"attempts"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Err      error         `json:"-" yaml:"-"`
}

// Report is the outcome of a flow run.
type Report struct {
	Flow    string
	Stages  []StageReport
	outputs map[string]any
}

// Stage returns the report of the named stage.
func (r Report) Stage(name string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageReport{}, false
}

// Output returns the output of a successful stage.
func (r Report) Output(name string) (any, bool) {
	v, ok := r.outputs[name]
	return v, ok
}
