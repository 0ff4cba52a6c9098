// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the trip-trainer pipeline:
// trip records, hyperparameters, tracked runs and registered model versions.
package types

import (
	"strconv"
	"time"
)

// Duration bounds (minutes) a record must satisfy to be kept.
const (
	MinDuration = 1.0
	MaxDuration = 60.0
)

// Record is one trip observation. Records are immutable once read.
type Record struct {
	// PickupTime is when the meter was engaged.
	PickupTime time.Time `json:"pickup_time" yaml:"pickup_time"`

	// DropoffTime is when the meter was disengaged.
	DropoffTime time.Time `json:"dropoff_time" yaml:"dropoff_time"`

	// PULocationID is the pickup zone, kept as a categorical string.
	PULocationID string `json:"pu_location_id" yaml:"pu_location_id"`

	// DOLocationID is the dropoff zone, kept as a categorical string.
	DOLocationID string `json:"do_location_id" yaml:"do_location_id"`

	// TripDistance is the trip length in miles.
	TripDistance float64 `json:"trip_distance" yaml:"trip_distance"`

	// Duration is the derived target in minutes.
	Duration float64 `json:"duration" yaml:"duration"`
}

// ValidDuration reports whether d lies within [MinDuration, MaxDuration].
func ValidDuration(d float64) bool {
	return d >= MinDuration && d <= MaxDuration
}

// Hyperparams is the typed configuration handed to the booster.
type Hyperparams struct {
	MaxDepth       int     `json:"max_depth" yaml:"max_depth"`
	LearningRate   float64 `json:"learning_rate" yaml:"learning_rate"`
	RegAlpha       float64 `json:"reg_alpha" yaml:"reg_alpha"`
	RegLambda      float64 `json:"reg_lambda" yaml:"reg_lambda"`
	MinChildWeight float64 `json:"min_child_weight" yaml:"min_child_weight"`
	Objective      string  `json:"objective" yaml:"objective"`
	Seed           int     `json:"seed" yaml:"seed"`
}

// Params renders h as the string parameters logged on a run.
func (h Hyperparams) Params() map[string]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return map[string]string{
		"max_depth":        strconv.Itoa(h.MaxDepth),
		"learning_rate":    f(h.LearningRate),
		"reg_alpha":        f(h.RegAlpha),
		"reg_lambda":       f(h.RegLambda),
		"min_child_weight": f(h.MinChildWeight),
		"objective":        h.Objective,
		"seed":             strconv.Itoa(h.Seed),
	}
}
