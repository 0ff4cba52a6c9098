// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package hpo implements sequential model-based hyperparameter search. The
// Minimize loop asks a pluggable Proposer for the next configuration given
// the append-only history of observations, evaluates it, and records the
// result. TPE is the default proposer.
package hpo

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/pdiddy/trip-trainer/pkg/types"
)

// Kind describes how a dimension is sampled.
type Kind int

const (
	// Uniform samples uniformly in [Low, High].
	Uniform Kind = iota
	// QUniform samples uniformly then rounds to a multiple of Q.
	QUniform
	// LogUniform samples uniformly in [log Low, log High] and exponentiates.
	LogUniform
	// Constant always takes Low.
	Constant
)

func (k Kind) String() string {
	switch k {
	case Uniform:
		return "uniform"
	case QUniform:
		return "quniform"
	case LogUniform:
		return "loguniform"
	case Constant:
		return "constant"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Dimension names on the search space used for the trip duration model.
const (
	MaxDepth       = "max_depth"
	LearningRate   = "learning_rate"
	RegAlpha       = "reg_alpha"
	RegLambda      = "reg_lambda"
	MinChildWeight = "min_child_weight"
	Seed           = "seed"
)

// ErrInvalidSpace is returned for a space that cannot be sampled.
var ErrInvalidSpace = errors.New("invalid search space")

// Dimension is one named axis of a search space. Bounds are given in the
// natural scale even for log-uniform dimensions.
type Dimension struct {
	Name string
	Kind Kind
	Low  float64
	High float64
	Q    float64
}

// Configuration maps dimension names to values.
type Configuration map[string]float64

// Space is an ordered set of dimensions plus the fixed objective name that
// is reattached when a configuration is turned into hyperparameters.
type Space struct {
	Dimensions []Dimension
	Objective  string
}

// DefaultSpace returns the search space of the trip duration regressor.
func DefaultSpace() Space {
	return Space{
		Dimensions: []Dimension{
			{Name: MaxDepth, Kind: QUniform, Low: 4, High: 100, Q: 1},
			{Name: LearningRate, Kind: LogUniform, Low: math.Exp(-3), High: 1},
			{Name: RegAlpha, Kind: LogUniform, Low: math.Exp(-5), High: math.Exp(-1)},
			{Name: RegLambda, Kind: LogUniform, Low: math.Exp(-6), High: math.Exp(-1)},
			{Name: MinChildWeight, Kind: LogUniform, Low: math.Exp(-1), High: math.Exp(3)},
			{Name: Seed, Kind: Constant, Low: 42},
		},
		Objective: "reg:squarederror",
	}
}

// Validate checks that every dimension can be sampled.
func (s Space) Validate() error {
	if len(s.Dimensions) == 0 {
		return fmt.Errorf("%w: no dimensions", ErrInvalidSpace)
	}
	seen := make(map[string]bool, len(s.Dimensions))
	for _, d := range s.Dimensions {
		if d.Name == "" {
			return fmt.Errorf("%w: unnamed dimension", ErrInvalidSpace)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate dimension %q", ErrInvalidSpace, d.Name)
		}
		seen[d.Name] = true
		if d.Kind == Constant {
			continue
		}
		if !(d.Low < d.High) {
			return fmt.Errorf("%w: %s bounds [%g, %g]", ErrInvalidSpace, d.Name, d.Low, d.High)
		}
		if d.Kind == LogUniform && d.Low <= 0 {
			return fmt.Errorf("%w: %s log-uniform lower bound must be positive", ErrInvalidSpace, d.Name)
		}
		if d.Kind == QUniform && !(d.Q > 0) {
			return fmt.Errorf("%w: %s quantum must be positive", ErrInvalidSpace, d.Name)
		}
	}
	return nil
}

// Contains reports whether cfg assigns an in-bounds value to every dimension.
func (s Space) Contains(cfg Configuration) bool {
	for _, d := range s.Dimensions {
		v, ok := cfg[d.Name]
		if !ok || !d.contains(v) {
			return false
		}
	}
	return true
}

// Hyperparams converts cfg into typed booster parameters. max_depth is
// rounded to an integer and the objective is reattached.
func (s Space) Hyperparams(cfg Configuration) types.Hyperparams {
	return types.Hyperparams{
		MaxDepth:       int(math.Round(cfg[MaxDepth])),
		LearningRate:   cfg[LearningRate],
		RegAlpha:       cfg[RegAlpha],
		RegLambda:      cfg[RegLambda],
		MinChildWeight: cfg[MinChildWeight],
		Objective:      s.Objective,
		Seed:           int(cfg[Seed]),
	}
}

func (c Configuration) clone() Configuration {
	out := make(Configuration, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func (d Dimension) contains(v float64) bool {
	if d.Kind == Constant {
		return v == d.Low
	}
	return v >= d.Low && v <= d.High
}

// bounds returns the sampling interval in the transformed scale.
func (d Dimension) bounds() (float64, float64) {
	if d.Kind == LogUniform {
		return math.Log(d.Low), math.Log(d.High)
	}
	return d.Low, d.High
}

// toInternal maps a natural-scale value into the sampling scale.
func (d Dimension) toInternal(v float64) float64 {
	if d.Kind == LogUniform {
		return math.Log(v)
	}
	return v
}

// fromInternal maps a sampling-scale value back, quantising and clamping.
func (d Dimension) fromInternal(v float64) float64 {
	switch d.Kind {
	case Constant:
		return d.Low
	case LogUniform:
		v = math.Exp(v)
	case QUniform:
		v = math.Round(v/d.Q) * d.Q
	}
	return math.Min(math.Max(v, d.Low), d.High)
}

// samplePrior draws one value from the dimension's prior.
func (d Dimension) samplePrior(rng *rand.Rand) float64 {
	if d.Kind == Constant {
		return d.Low
	}
	lo, hi := d.bounds()
	return d.fromInternal(lo + rng.Float64()*(hi-lo))
}

func samplePrior(s Space, rng *rand.Rand) Configuration {
	cfg := make(Configuration, len(s.Dimensions))
	for _, d := range s.Dimensions {
		cfg[d.Name] = d.samplePrior(rng)
	}
	return cfg
}
