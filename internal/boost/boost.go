// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package boost trains gradient-boosted regression trees on sparse feature
// matrices with squared-error loss, L1/L2 leaf regularization and
// validation-based early stopping.
package boost

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/pdiddy/trip-trainer/internal/features"
	"github.com/pdiddy/trip-trainer/pkg/types"
)

// ObjectiveSquaredError is the only supported objective.
const ObjectiveSquaredError = "reg:squarederror"

var (
	// ErrInvalidParams is returned for hyperparameters outside their domain.
	ErrInvalidParams = errors.New("invalid booster parameters")

	// ErrDiverged is returned when the validation loss becomes non-finite.
	ErrDiverged = errors.New("training diverged")
)

// Options bounds a training run.
type Options struct {
	// NumRounds is the maximum number of boosting rounds.
	NumRounds int

	// EarlyStoppingRounds stops training after this many rounds without
	// validation improvement. Zero disables early stopping.
	EarlyStoppingRounds int
}

// DefaultOptions returns 100 rounds with early stopping after 10.
func DefaultOptions() Options {
	return Options{NumRounds: 100, EarlyStoppingRounds: 10}
}

// Booster is a trained ensemble. Trees hold leaf values already scaled by
// the learning rate.
type Booster struct {
	BaseScore     float64   `msgpack:"base_score"`
	Trees         []Tree    `msgpack:"trees"`
	NumFeatures   int       `msgpack:"num_features"`
	BestIteration int       `msgpack:"best_iteration"`
	BestScore     float64   `msgpack:"best_score"`
	EvalHistory   []float64 `msgpack:"eval_history"`
}

// Predict returns the prediction for one row.
func (b *Booster) Predict(row features.Row) float64 {
	sum := b.BaseScore
	for i := range b.Trees {
		sum += b.Trees[i].Predict(row)
	}
	return sum
}

// PredictMatrix returns predictions for every row of m.
func (b *Booster) PredictMatrix(m *features.Matrix) []float64 {
	out := make([]float64, m.NumRows())
	for i, row := range m.Rows {
		out[i] = b.Predict(row)
	}
	return out
}

// NumRounds returns the number of trees kept.
func (b *Booster) NumRounds() int {
	return len(b.Trees)
}

// Save writes the booster to path in msgpack format.
func (b *Booster) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	data, err := msgpack.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding booster: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a booster written by Save.
func Load(path string) (*Booster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var b Booster
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decoding booster: %w", err)
	}
	return &b, nil
}

// Validate checks p against the domain of each parameter.
func Validate(p types.Hyperparams) error {
	switch {
	case p.Objective != "" && p.Objective != ObjectiveSquaredError:
		return fmt.Errorf("%w: unsupported objective %q", ErrInvalidParams, p.Objective)
	case p.MaxDepth < 1:
		return fmt.Errorf("%w: max_depth %d must be at least 1", ErrInvalidParams, p.MaxDepth)
	case !(p.LearningRate > 0) || math.IsInf(p.LearningRate, 0):
		return fmt.Errorf("%w: learning_rate %g must be positive", ErrInvalidParams, p.LearningRate)
	case p.RegAlpha < 0 || p.RegLambda < 0 || p.MinChildWeight < 0:
		return fmt.Errorf("%w: regularization terms must be non-negative", ErrInvalidParams)
	}
	return nil
}

// Train fits a booster on (x, y), evaluating RMSE on (evalX, evalY) after
// every round. The returned booster is truncated to the best round.
func Train(x *features.Matrix, y []float64, evalX *features.Matrix, evalY []float64, p types.Hyperparams, opts Options) (*Booster, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	if x.NumRows() == 0 || x.NumRows() != len(y) {
		return nil, fmt.Errorf("%w: %d training rows, %d targets", ErrInvalidParams, x.NumRows(), len(y))
	}
	if evalX.NumRows() == 0 || evalX.NumRows() != len(evalY) {
		return nil, fmt.Errorf("%w: %d validation rows, %d targets", ErrInvalidParams, evalX.NumRows(), len(evalY))
	}
	if opts.NumRounds <= 0 {
		return nil, fmt.Errorf("%w: num_rounds must be positive", ErrInvalidParams)
	}

	b := &Booster{
		BaseScore:   stat.Mean(y, nil),
		NumFeatures: x.NumFeatures,
	}
	pred := make([]float64, len(y))
	evalPred := make([]float64, len(evalY))
	for i := range pred {
		pred[i] = b.BaseScore
	}
	for i := range evalPred {
		evalPred[i] = b.BaseScore
	}

	grad := make([]float64, len(y))
	hess := make([]float64, len(y))
	best := math.Inf(1)
	for round := 0; round < opts.NumRounds; round++ {
		for i := range y {
			grad[i] = pred[i] - y[i]
			hess[i] = 1
		}
		tb := treeBuilder{x: x, grad: grad, hess: hess, params: p}
		tree := tb.build()
		b.Trees = append(b.Trees, tree)

		for i, row := range x.Rows {
			pred[i] += tree.Predict(row)
		}
		for i, row := range evalX.Rows {
			evalPred[i] += tree.Predict(row)
		}

		score := RMSE(evalY, evalPred)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, fmt.Errorf("%w: validation rmse %v at round %d", ErrDiverged, score, round)
		}
		b.EvalHistory = append(b.EvalHistory, score)
		if score < best {
			best = score
			b.BestIteration = round
		}
		if opts.EarlyStoppingRounds > 0 && round-b.BestIteration >= opts.EarlyStoppingRounds {
			break
		}
	}

	b.Trees = b.Trees[:b.BestIteration+1]
	b.BestScore = best
	return b, nil
}

// RMSE returns the root mean squared error between yTrue and yPred.
func RMSE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return math.NaN()
	}
	return floats.Distance(yTrue, yPred, 2) / math.Sqrt(float64(len(yTrue)))
}
