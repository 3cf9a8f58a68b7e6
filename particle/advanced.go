package particle

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/dist"
	"github.com/axleford/stochlab/internal/resample"
	"github.com/axleford/stochlab/internal/rng"
	"github.com/axleford/stochlab/model"
)

// AdvancedFilter is the particle filter variant for models whose process
// noise is state-dependent and whose measurement likelihood is not an
// additive Gaussian-residual form (spec §4.5). Where Filter calls
// model.Dynamics and adds an independently drawn noise sample, AdvancedFilter
// delegates noise injection to model.DynamicsNoisy itself; where Filter
// scores a residual under a fixed measurement-noise Distribution,
// AdvancedFilter scores particles directly with a
// model.MeasurementLikelihood log-density.
type AdvancedFilter struct {
	dynamics   model.DynamicsNoisy
	likelihood model.MeasurementLikelihood
	dx0        dist.Distribution
	params     stochlab.Params

	cloud     *Cloud
	threshold float64
	src       *rng.Source
	t         int
	loglik    float64
}

// AdvancedConfig bundles AdvancedFilter's construction parameters.
type AdvancedConfig struct {
	N          int
	Dynamics   model.DynamicsNoisy
	Likelihood model.MeasurementLikelihood
	InitDist   dist.Distribution
	Params     stochlab.Params
	Threshold  float64
	Seed       *rng.Source
}

// NewAdvanced creates an AdvancedFilter from cfg.
func NewAdvanced(cfg AdvancedConfig) (*AdvancedFilter, error) {
	if cfg.N < 1 {
		return nil, fmt.Errorf("particle: %w: N must be >= 1, got %d", stochlab.ErrInvalidConfiguration, cfg.N)
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultResampleThreshold
	}
	if threshold > 1 {
		return nil, fmt.Errorf("particle: %w: threshold must be in (0,1], got %f", stochlab.ErrInvalidConfiguration, threshold)
	}
	if cfg.InitDist == nil {
		return nil, fmt.Errorf("particle: %w: InitDist is required", stochlab.ErrInvalidConfiguration)
	}
	if cfg.Dynamics == nil || cfg.Likelihood == nil {
		return nil, fmt.Errorf("particle: %w: Dynamics and Likelihood are required", stochlab.ErrInvalidConfiguration)
	}
	src := cfg.Seed
	if src == nil {
		src = rng.NewFromEntropy()
	}

	nx := cfg.InitDist.Dim()
	f := &AdvancedFilter{
		dynamics:   cfg.Dynamics,
		likelihood: cfg.Likelihood,
		dx0:        cfg.InitDist,
		params:     cfg.Params,
		cloud:      NewCloud(nx, cfg.N),
		threshold:  threshold,
		src:        src,
	}
	f.initParticles()
	return f, nil
}

func (f *AdvancedFilter) initParticles() {
	n := f.cloud.N()
	for i := 0; i < n; i++ {
		x0 := f.dx0.Sample(f.src)
		f.cloud.next.Slice(0, x0.Len(), i, i+1).(*mat.Dense).Copy(x0)
	}
	f.cloud.X, f.cloud.next = f.cloud.next, f.cloud.X
	f.cloud.W.ResetUniform()
}

// Reset reinitializes particles and zeroes t and the accumulated
// log-likelihood.
func (f *AdvancedFilter) Reset() error {
	f.initParticles()
	f.t = 0
	f.loglik = 0
	return nil
}

// Time returns the filter's current time index.
func (f *AdvancedFilter) Time() int { return f.t }

// Loglik returns the cumulative log-likelihood since construction or the
// last Reset.
func (f *AdvancedFilter) Loglik() float64 { return f.loglik }

// NumParticles returns N.
func (f *AdvancedFilter) NumParticles() int { return f.cloud.N() }

// Particles returns the current particle matrix.
func (f *AdvancedFilter) Particles() mat.Matrix { return f.cloud.X }

// WeightedMean returns the particle-weighted mean state.
func (f *AdvancedFilter) WeightedMean() *mat.VecDense { return f.cloud.WeightedMean() }

// WeightedCov returns the particle-weighted covariance.
func (f *AdvancedFilter) WeightedCov() *mat.SymDense { return f.cloud.WeightedCov() }

// State implements stochlab.Estimator.
func (f *AdvancedFilter) State() mat.Vector { return f.WeightedMean() }

// Covariance implements stochlab.Estimator.
func (f *AdvancedFilter) Covariance() mat.Symmetric { return f.WeightedCov() }

// Predict propagates every particle through the noise-injecting dynamics
// callable (noise=true) and advances t. Weights are unchanged.
func (f *AdvancedFilter) Predict(u mat.Vector) error {
	n := f.cloud.N()
	for i := 0; i < n; i++ {
		xi := f.cloud.Particle(i)
		xNext, err := f.dynamics(xi, u, f.params, f.t, true)
		if err != nil {
			return fmt.Errorf("particle: dynamics failed at particle %d: %w", i, err)
		}
		if !stochlab.CheckFinite(xNext) {
			return fmt.Errorf("particle: %w: dynamics produced non-finite state at particle %d", stochlab.ErrNonFinite, i)
		}
		f.cloud.SetNext(i, xNext)
	}
	f.cloud.SwapBuffers()
	f.t++
	return nil
}

// Correct scores every particle under the measurement-likelihood callable
// directly (no residual, no fixed noise Distribution), and resamples if ESS
// drops below threshold*N, per spec §4.5.
func (f *AdvancedFilter) Correct(u, y mat.Vector) (float64, error) {
	n := f.cloud.N()
	delta := make([]float64, n)
	for i := 0; i < n; i++ {
		xi := f.cloud.Particle(i)
		ll := f.likelihood(xi, u, y, f.params, f.t)
		if math.IsNaN(ll) {
			return 0, fmt.Errorf("particle: %w: likelihood returned NaN at particle %d", stochlab.ErrNonFinite, i)
		}
		delta[i] = ll
	}
	f.cloud.W.AddLogweights(delta)

	lse, ok := f.cloud.W.Normalize()
	if !ok {
		return 0, fmt.Errorf("particle: %w", stochlab.ErrDegenerateWeights)
	}
	deltaLL := lse - math.Log(float64(n))
	f.loglik += deltaLL

	if f.cloud.W.ESS() < f.threshold*float64(n) {
		f.resample()
	}
	return deltaLL, nil
}

func (f *AdvancedFilter) resample() {
	idx := resample.Systematic(f.cloud.W.Raw(), f.src.XSource())
	f.cloud.ReorderFrom(f.cloud.X, idx)
	f.cloud.W.ResetUniform()
}

// Run performs one atomic Correct-then-Predict cycle.
func (f *AdvancedFilter) Run(u, y mat.Vector) (float64, error) {
	return stochlab.Step(f, u, y)
}
