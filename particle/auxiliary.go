package particle

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/internal/resample"
	"github.com/axleford/stochlab/model"
)

// AuxiliaryFilter wraps a base Filter by composition (spec §9: composition,
// not inheritance) and implements the auxiliary particle filter variance
// reduction scheme (spec §4.4): before propagating, it pre-weights each
// particle by how well a deterministic one-step predictor of its state
// would have explained the incoming measurement, resamples using that
// pre-weight, and only then propagates the resampled particles with noise.
//
// Because the auxiliary weighting step needs the *incoming* measurement
// before it decides which particles to propagate, the propagation that the
// plain Filter performs in Predict happens here inside Correct instead;
// Predict becomes bookkeeping that only advances t. This keeps
// AuxiliaryFilter a drop-in stochlab.Estimator: callers still call
// Correct(u, y) then Predict(u) (or stochlab.Step), they simply get the
// auxiliary algorithm's different internal ordering for free.
type AuxiliaryFilter struct {
	base *Filter
	// mu is the deterministic one-step predictor used to form the
	// auxiliary weight. Defaults to the dynamics callable evaluated without
	// added noise, per spec §4.4.
	mu model.Dynamics
}

// NewAuxiliary wraps base as an auxiliary particle filter. If mu is nil, the
// base filter's own dynamics callable (without added noise) is used as the
// one-step predictor, the spec's documented default.
func NewAuxiliary(base *Filter, mu model.Dynamics) *AuxiliaryFilter {
	if mu == nil {
		mu = base.dynamics
	}
	return &AuxiliaryFilter{base: base, mu: mu}
}

// Reset delegates to the base filter.
func (a *AuxiliaryFilter) Reset() error { return a.base.Reset() }

// Time delegates to the base filter.
func (a *AuxiliaryFilter) Time() int { return a.base.Time() }

// Loglik delegates to the base filter.
func (a *AuxiliaryFilter) Loglik() float64 { return a.base.Loglik() }

// NumParticles delegates to the base filter.
func (a *AuxiliaryFilter) NumParticles() int { return a.base.NumParticles() }

// Particles delegates to the base filter.
func (a *AuxiliaryFilter) Particles() mat.Matrix { return a.base.Particles() }

// State implements stochlab.Estimator.
func (a *AuxiliaryFilter) State() mat.Vector { return a.base.State() }

// Covariance implements stochlab.Estimator.
func (a *AuxiliaryFilter) Covariance() mat.Symmetric { return a.base.Covariance() }

// WeightedMean delegates to the base filter.
func (a *AuxiliaryFilter) WeightedMean() *mat.VecDense { return a.base.WeightedMean() }

// WeightedCov delegates to the base filter.
func (a *AuxiliaryFilter) WeightedCov() *mat.SymDense { return a.base.WeightedCov() }

// Predict advances the time index. The actual particle propagation for this
// step already happened inside the preceding Correct call; see the type
// doc comment.
func (a *AuxiliaryFilter) Predict(u mat.Vector) error {
	a.base.t++
	return nil
}

// Correct implements the auxiliary particle filter's combined
// pre-weight/resample/propagate/correct step, returning the incremental
// log marginal likelihood.
func (a *AuxiliaryFilter) Correct(u, y mat.Vector) (float64, error) {
	b := a.base
	n := b.cloud.N()

	// Step 1: auxiliary log-weight from the deterministic one-step
	// predictor mu, evaluated against the incoming measurement y.
	alpha := make([]float64, n)
	for i := 0; i < n; i++ {
		xi := b.cloud.Particle(i)
		muX, err := a.mu(xi, u, b.params, b.t)
		if err != nil {
			return 0, fmt.Errorf("particle: auxiliary predictor failed at particle %d: %w", i, err)
		}
		yHat, err := b.measurement(muX, u, b.params, b.t)
		if err != nil {
			return 0, fmt.Errorf("particle: measurement failed at particle %d: %w", i, err)
		}
		alpha[i] = b.dg.LogPdf(subVec(y, yHat))
	}

	// Step 2: resample indices proportional to W + alpha (both in
	// log-space, so this is an elementwise add before exponentiating).
	auxLogW := make([]float64, n)
	copy(auxLogW, b.cloud.W.Raw())
	for i := range auxLogW {
		auxLogW[i] += alpha[i]
	}
	normAux := normalizeCopy(auxLogW)
	idx := resample.Systematic(normAux, b.src.XSource())

	// Step 3: propagate the resampled particles through the real dynamics
	// with process noise, and evaluate their true measurement likelihood.
	parentAlpha := make([]float64, n)
	for i, parent := range idx {
		xi := b.cloud.X.ColView(parent)
		xNext, err := b.dynamics(xi, u, b.params, b.t)
		if err != nil {
			return 0, fmt.Errorf("particle: dynamics failed at particle %d: %w", i, err)
		}
		eta := b.df.Sample(b.src)
		xNext = addVec(xNext, eta)
		if !stochlab.CheckFinite(xNext) {
			return 0, fmt.Errorf("particle: %w: dynamics produced non-finite state at particle %d", stochlab.ErrNonFinite, i)
		}
		b.cloud.SetNext(i, xNext)
		parentAlpha[i] = alpha[parent]
	}
	b.cloud.SwapBuffers()

	// Step 4: final weight is the true likelihood minus the auxiliary
	// weight already "spent" by resampling on alpha (spec §4.4).
	delta := make([]float64, n)
	for i := 0; i < n; i++ {
		xi := b.cloud.Particle(i)
		yHat, err := b.measurement(xi, u, b.params, b.t)
		if err != nil {
			return 0, fmt.Errorf("particle: measurement failed at particle %d: %w", i, err)
		}
		delta[i] = b.dg.LogPdf(subVec(y, yHat)) - parentAlpha[i]
	}
	b.cloud.W.ResetUniform() // particles were resampled in step 2; start from uniform
	b.cloud.W.AddLogweights(delta)

	lse, ok := b.cloud.W.Normalize()
	if !ok {
		return 0, fmt.Errorf("particle: %w", stochlab.ErrDegenerateWeights)
	}
	deltaLL := lse - math.Log(float64(n))
	b.loglik += deltaLL
	return deltaLL, nil
}

// Run performs one atomic Correct-then-Predict cycle.
func (a *AuxiliaryFilter) Run(u, y mat.Vector) (float64, error) {
	return stochlab.Step(a, u, y)
}

// normalizeCopy returns a normalized copy of logw (logsumexp subtracted)
// without mutating the input, used for the auxiliary resampling weights
// which are a transient combination of W and alpha rather than the filter's
// own weight vector.
func normalizeCopy(logw []float64) []float64 {
	out := make([]float64, len(logw))
	copy(out, logw)
	max := out[0]
	for _, v := range out {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for _, v := range out {
		sum += math.Exp(v - max)
	}
	lse := max + math.Log(sum)
	for i := range out {
		out[i] -= lse
	}
	return out
}
