// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package hpo

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/pdiddy/trip-trainer/pkg/types"
)

// SentinelLoss is recorded for trials whose objective failed or returned a
// loss that is not a finite non-negative number.
const SentinelLoss = math.MaxFloat64

// Objective evaluates one configuration. trial is the zero-based index of
// the evaluation. A returned error marks the trial as failed; it does not
// stop the search.
type Objective func(ctx context.Context, trial int, cfg Configuration) (float64, error)

// Observation is one evaluated trial. Observations are append-only.
type Observation struct {
	Trial  int
	Config Configuration
	Loss   float64
	Failed bool
	Err    error
}

// Options controls a Minimize call.
type Options struct {
	// MaxEvals is the number of trials to evaluate.
	MaxEvals int
	// Proposer suggests configurations. Nil uses TPE with default settings.
	Proposer Proposer
	// OnTrial, when set, is called after every trial.
	OnTrial func(Observation)
}

// Result is the outcome of a search.
type Result struct {
	// Best is the configuration with the lowest loss, earliest trial on ties.
	Best      Configuration
	BestLoss  float64
	BestTrial int
	History   []Observation
}

// Failures returns the number of failed trials.
func (r Result) Failures() int {
	n := 0
	for _, o := range r.History {
		if o.Failed {
			n++
		}
	}
	return n
}

// Minimize evaluates opts.MaxEvals configurations proposed from the growing
// history and returns the best one. Trials run sequentially. Cancellation
// is checked between trials; the partial result is returned with the
// context error.
func Minimize(ctx context.Context, objective Objective, space Space, opts Options) (Result, error) {
	if err := space.Validate(); err != nil {
		return Result{}, err
	}
	if opts.MaxEvals <= 0 {
		return Result{}, fmt.Errorf("max evals must be positive, got %d", opts.MaxEvals)
	}
	if objective == nil {
		return Result{}, errors.New("nil objective")
	}
	proposer := opts.Proposer
	if proposer == nil {
		proposer = NewTPE(types.SearchConfig{})
	}

	res := Result{BestLoss: math.Inf(1), BestTrial: -1}
	for trial := 0; trial < opts.MaxEvals; trial++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		cfg, err := proposer.Propose(space, res.History)
		if err != nil {
			return res, fmt.Errorf("proposing trial %d: %w", trial, err)
		}

		obs := Observation{Trial: trial, Config: cfg}
		loss, err := objective(ctx, trial, cfg.clone())
		switch {
		case err != nil:
			obs.Loss, obs.Failed, obs.Err = SentinelLoss, true, err
		case math.IsNaN(loss) || math.IsInf(loss, 0) || loss < 0:
			obs.Loss, obs.Failed = SentinelLoss, true
			obs.Err = fmt.Errorf("invalid loss %v", loss)
		default:
			obs.Loss = loss
		}

		res.History = append(res.History, obs)
		if obs.Loss < res.BestLoss {
			res.Best, res.BestLoss, res.BestTrial = cfg, obs.Loss, trial
		}
		if opts.OnTrial != nil {
			opts.OnTrial(obs)
		}
	}
	return res, nil
}
