// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// RunStatus is the lifecycle state of a tracked run.
type RunStatus string

const (
	RunRunning  RunStatus = "RUNNING"
	RunFinished RunStatus = "FINISHED"
	RunFailed   RunStatus = "FAILED"
)

// RunSummary is a read-only view of a tracked run and its logged values.
type RunSummary struct {
	// ID is the unique run identifier.
	ID string `json:"id" yaml:"id"`

	// Name is the human-readable run name.
	Name string `json:"name" yaml:"name"`

	// Experiment is the experiment the run belongs to.
	Experiment string `json:"experiment" yaml:"experiment"`

	// ParentID is the enclosing run for nested runs, empty otherwise.
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`

	// Status is the final (or current) run status.
	Status RunStatus `json:"status" yaml:"status"`

	// StartTime is when the run was started.
	StartTime time.Time `json:"start_time" yaml:"start_time"`

	// EndTime is when the run was closed; zero while running.
	EndTime time.Time `json:"end_time,omitempty" yaml:"end_time,omitempty"`

	// Params holds logged parameters.
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`

	// Metrics holds the latest value of each logged metric.
	Metrics map[string]float64 `json:"metrics,omitempty" yaml:"metrics,omitempty"`

	// Tags holds run tags.
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Metric returns the value of the named metric and whether it was logged.
func (r RunSummary) Metric(name string) (float64, bool) {
	v, ok := r.Metrics[name]
	return v, ok
}

// ModelVersion is one registered version of a named model.
type ModelVersion struct {
	// Name is the registered model name.
	Name string `json:"name" yaml:"name"`

	// Version is the 1-based version number, increasing per model name.
	Version int `json:"version" yaml:"version"`

	// RunID is the run that produced the model.
	RunID string `json:"run_id" yaml:"run_id"`

	// Source is the artifact location of the model within the run.
	Source string `json:"source" yaml:"source"`

	// CreatedAt is the registration time.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
