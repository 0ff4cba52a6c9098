// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package hpo

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pdiddy/trip-trainer/pkg/types"
)

// Proposer suggests the next configuration to evaluate from the history of
// earlier observations. Implementations must not modify history.
type Proposer interface {
	Propose(space Space, history []Observation) (Configuration, error)
}

// RandomProposer samples every configuration from the prior.
type RandomProposer struct {
	rng *rand.Rand
}

// NewRandomProposer returns a prior sampler seeded with seed.
func NewRandomProposer(seed uint64) *RandomProposer {
	return &RandomProposer{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Propose draws one configuration from the prior.
func (p *RandomProposer) Propose(space Space, _ []Observation) (Configuration, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	return samplePrior(space, p.rng), nil
}

const (
	// maxGood caps the size of the good set regardless of history length.
	maxGood = 25
	// priorWeight is the mixture weight of the prior component.
	priorWeight = 1.0
	// maxRejections bounds truncated sampling before falling back to the prior.
	maxRejections = 1000
)

// TPE is a tree-structured Parzen estimator. History is split by loss into
// a good and a bad set, each dimension gets a Parzen density per set, and
// the candidate drawn from the good density with the highest ratio
// l(x)/g(x) is proposed.
type TPE struct {
	// Gamma is the quantile used to build the good set.
	Gamma float64
	// Candidates is the number of draws from l(x) per dimension.
	Candidates int
	// Startup is the number of observations required before the surrogate
	// is used. Proposals before that come from the prior.
	Startup int

	rng *rand.Rand
}

// NewTPE returns a TPE configured from cfg. Zero fields take the defaults
// gamma 0.25, 24 candidates and a single startup observation.
func NewTPE(cfg types.SearchConfig) *TPE {
	t := &TPE{
		Gamma:      cfg.Gamma,
		Candidates: cfg.Candidates,
		Startup:    cfg.Startup,
		rng:        rand.New(rand.NewPCG(cfg.Seed, cfg.Seed)),
	}
	if !(t.Gamma > 0 && t.Gamma <= 1) {
		t.Gamma = 0.25
	}
	if t.Candidates <= 0 {
		t.Candidates = 24
	}
	if t.Startup <= 0 {
		t.Startup = 1
	}
	return t
}

// Propose returns the next configuration for space.
func (t *TPE) Propose(space Space, history []Observation) (Configuration, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	good, bad := t.split(history)
	if len(good)+len(bad) < t.Startup {
		return samplePrior(space, t.rng), nil
	}

	cfg := make(Configuration, len(space.Dimensions))
	for _, d := range space.Dimensions {
		if d.Kind == Constant {
			cfg[d.Name] = d.Low
			continue
		}
		l := newParzen(d, values(d, good))
		g := newParzen(d, values(d, bad))

		best, bestScore := 0.0, math.Inf(-1)
		for i := 0; i < t.Candidates; i++ {
			x := l.sample(t.rng)
			score := l.logDensity(x) - g.logDensity(x)
			if score > bestScore {
				best, bestScore = x, score
			}
		}
		if math.IsInf(bestScore, -1) {
			best = d.toInternal(d.samplePrior(t.rng))
		}
		cfg[d.Name] = d.fromInternal(best)
	}
	return cfg, nil
}

// split drops failed observations, orders the rest by loss, earliest trial
// first on ties, and returns the ceil(gamma*sqrt(n)) best and the rest.
func (t *TPE) split(history []Observation) (good, bad []Observation) {
	sorted := make([]Observation, 0, len(history))
	for _, o := range history {
		if !o.Failed {
			sorted = append(sorted, o)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Loss != sorted[j].Loss {
			return sorted[i].Loss < sorted[j].Loss
		}
		return sorted[i].Trial < sorted[j].Trial
	})
	n := int(math.Ceil(t.Gamma * math.Sqrt(float64(len(sorted)))))
	n = min(n, maxGood, len(sorted))
	return sorted[:n], sorted[n:]
}

// values returns the observed values of d in the sampling scale.
func values(d Dimension, obs []Observation) []float64 {
	out := make([]float64, 0, len(obs))
	for _, o := range obs {
		if v, ok := o.Config[d.Name]; ok {
			out = append(out, d.toInternal(v))
		}
	}
	return out
}

// parzen is a Gaussian mixture truncated to [low, high] in the sampling
// scale of one dimension.
type parzen struct {
	dim     Dimension
	low     float64
	high    float64
	weights []float64
	comps   []distuv.Normal
	// logMass is the log of the total mixture mass inside [low, high].
	logMass float64
}

// newParzen builds the adaptive Parzen estimator over obs: one component
// per observation plus a prior component centred on the interval, with
// each bandwidth set from the distance to the neighbouring centres.
func newParzen(d Dimension, obs []float64) *parzen {
	low, high := d.bounds()
	priorMu := (low + high) / 2
	priorSigma := high - low

	mus := append([]float64(nil), obs...)
	sort.Float64s(mus)
	pos := sort.SearchFloat64s(mus, priorMu)
	mus = append(mus, 0)
	copy(mus[pos+1:], mus[pos:])
	mus[pos] = priorMu

	sigmas := make([]float64, len(mus))
	switch len(mus) {
	case 1:
		sigmas[0] = priorSigma
	case 2:
		// one observation next to the prior
		sigmas[0], sigmas[1] = priorSigma, priorSigma*0.5
		if pos == 1 {
			sigmas[0], sigmas[1] = priorSigma*0.5, priorSigma
		}
	default:
		for i := range mus {
			var left, right float64
			if i > 0 {
				left = mus[i] - mus[i-1]
			}
			if i < len(mus)-1 {
				right = mus[i+1] - mus[i]
			}
			sigmas[i] = math.Max(left, right)
		}
	}
	minSigma := priorSigma / math.Min(100, float64(1+len(mus)))
	for i := range sigmas {
		sigmas[i] = math.Min(math.Max(sigmas[i], minSigma), priorSigma)
	}
	sigmas[pos] = priorSigma

	weights := make([]float64, len(mus))
	for i := range weights {
		weights[i] = 1
	}
	weights[pos] = priorWeight
	floats.Scale(1/floats.Sum(weights), weights)

	p := &parzen{dim: d, low: low, high: high, weights: weights}
	mass := 0.0
	for i := range mus {
		n := distuv.Normal{Mu: mus[i], Sigma: sigmas[i]}
		p.comps = append(p.comps, n)
		mass += weights[i] * (n.CDF(high) - n.CDF(low))
	}
	p.logMass = math.Log(mass)
	return p
}

// sample draws from the truncated mixture by rejection.
func (p *parzen) sample(rng *rand.Rand) float64 {
	for range maxRejections {
		c := p.comps[p.pick(rng)]
		x := c.Mu + c.Sigma*rng.NormFloat64()
		if x >= p.low && x <= p.high {
			if p.dim.Kind == QUniform {
				return p.dim.fromInternal(x)
			}
			return x
		}
	}
	return p.low + rng.Float64()*(p.high-p.low)
}

func (p *parzen) pick(rng *rand.Rand) int {
	u := rng.Float64()
	acc := 0.0
	for i, w := range p.weights {
		acc += w
		if u < acc {
			return i
		}
	}
	return len(p.weights) - 1
}

// logDensity is the log density of x under the truncated mixture. For
// quantised dimensions it is the log mass of the bucket around x.
func (p *parzen) logDensity(x float64) float64 {
	if p.dim.Kind == QUniform {
		lo := math.Max(x-p.dim.Q/2, p.low)
		hi := math.Min(x+p.dim.Q/2, p.high)
		mass := 0.0
		for i, c := range p.comps {
			mass += p.weights[i] * (c.CDF(hi) - c.CDF(lo))
		}
		return math.Log(mass) - p.logMass
	}
	terms := make([]float64, len(p.comps))
	for i, c := range p.comps {
		terms[i] = math.Log(p.weights[i]) + c.LogProb(x)
	}
	return floats.LogSumExp(terms) - p.logMass
}
