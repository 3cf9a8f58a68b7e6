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

// DefaultResampleThreshold is the fraction of N below which ESS triggers a
// resample, per spec §4.2.
const DefaultResampleThreshold = 0.5

// Filter is the bootstrap (SIR) particle filter: ParticleFilter in spec
// terms. It generalizes the teacher's particle/bf/bf.go (BF), keeping its
// preallocated particle/output/innovation buffers and
// New/Predict/Update/Run/Resample shape, but storing weights in log-space
// (internal/weights) and resampling systematically (internal/resample)
// instead of BF's linear weights and roulette draw.
type Filter struct {
	dynamics    model.Dynamics
	measurement model.Measurement
	df, dg      dist.Distribution
	dx0         dist.Distribution
	params      stochlab.Params

	cloud     *Cloud
	threshold float64
	src       *rng.Source
	t         int
	loglik    float64
}

// Config bundles the construction parameters of Filter for readability at
// call sites with many arguments, mirroring the teacher's kalman/ukf.Config
// pattern for filter tuning parameters.
type Config struct {
	N           int
	Dynamics    model.Dynamics
	Measurement model.Measurement
	ProcessNoise, MeasurementNoise dist.Distribution
	InitDist    dist.Distribution
	Params      stochlab.Params
	Threshold   float64 // defaults to DefaultResampleThreshold if <= 0
	Seed        *rng.Source // defaults to a freshly entropy-seeded source
}

// New creates a Filter from cfg. Particles are initialized by sampling N
// draws from cfg.InitDist; log-weights are set to -log(N).
func New(cfg Config) (*Filter, error) {
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
	src := cfg.Seed
	if src == nil {
		src = rng.NewFromEntropy()
	}

	nx := cfg.InitDist.Dim()

	f := &Filter{
		dynamics:    cfg.Dynamics,
		measurement: cfg.Measurement,
		df:          cfg.ProcessNoise,
		dg:          cfg.MeasurementNoise,
		dx0:         cfg.InitDist,
		params:      cfg.Params,
		cloud:       NewCloud(nx, cfg.N),
		threshold:   threshold,
		src:         src,
	}
	f.initParticles()
	return f, nil
}

func (f *Filter) initParticles() {
	n := f.cloud.N()
	for i := 0; i < n; i++ {
		x0 := f.dx0.Sample(f.src)
		f.cloud.next.Slice(0, x0.Len(), i, i+1).(*mat.Dense).Copy(x0)
	}
	f.cloud.X, f.cloud.next = f.cloud.next, f.cloud.X
	f.cloud.W.ResetUniform()
}

// Reset reinitializes particles from the initial-state distribution and
// zeroes t and the accumulated log-likelihood.
func (f *Filter) Reset() error {
	f.initParticles()
	f.t = 0
	f.loglik = 0
	return nil
}

// Time returns the filter's current time index.
func (f *Filter) Time() int { return f.t }

// Loglik returns the cumulative log-likelihood since construction or the
// last Reset.
func (f *Filter) Loglik() float64 { return f.loglik }

// NumParticles returns N.
func (f *Filter) NumParticles() int { return f.cloud.N() }

// Particles returns the current particle matrix (nx x N, columns are
// particles). The returned matrix aliases internal state and must be
// treated as read-only.
func (f *Filter) Particles() mat.Matrix { return f.cloud.X }

// Weights returns the current normalized log-weights.
func (f *Filter) Weights() []float64 { return f.cloud.W.Raw() }

// ExpWeights returns the current weights exponentiated into a fresh slice.
func (f *Filter) ExpWeights() []float64 { return f.cloud.W.ExpWeights(nil) }

// WeightedMean returns the particle-weighted mean state.
func (f *Filter) WeightedMean() *mat.VecDense { return f.cloud.WeightedMean() }

// WeightedCov returns the particle-weighted covariance.
func (f *Filter) WeightedCov() *mat.SymDense { return f.cloud.WeightedCov() }

// State implements stochlab.Estimator: the weighted particle mean.
func (f *Filter) State() mat.Vector { return f.WeightedMean() }

// Covariance implements stochlab.Estimator: the weighted particle
// covariance.
func (f *Filter) Covariance() mat.Symmetric { return f.WeightedCov() }

// Predict propagates every particle through the dynamics model with
// independently drawn process noise, and advances t. Weights are
// unchanged.
func (f *Filter) Predict(u mat.Vector) error {
	n := f.cloud.N()
	for i := 0; i < n; i++ {
		xi := f.cloud.Particle(i)
		xNext, err := f.dynamics(xi, u, f.params, f.t)
		if err != nil {
			return fmt.Errorf("particle: dynamics failed at particle %d: %w", i, err)
		}
		eta := f.df.Sample(f.src)
		xNext = addVec(xNext, eta)
		if !stochlab.CheckFinite(xNext) {
			return fmt.Errorf("particle: %w: dynamics produced non-finite state at particle %d", stochlab.ErrNonFinite, i)
		}
		f.cloud.SetNext(i, xNext)
	}
	f.cloud.SwapBuffers()
	f.t++
	return nil
}

// Correct absorbs measurement y, weighting each particle by the log-density
// of the observed residual under the measurement noise distribution, and
// returns the incremental log marginal likelihood (spec §4.3). If ESS
// drops below threshold*N after normalizing, particles are resampled.
func (f *Filter) Correct(u, y mat.Vector) (float64, error) {
	n := f.cloud.N()
	delta := make([]float64, n)
	for i := 0; i < n; i++ {
		xi := f.cloud.Particle(i)
		yHat, err := f.measurement(xi, u, f.params, f.t)
		if err != nil {
			return 0, fmt.Errorf("particle: measurement failed at particle %d: %w", i, err)
		}
		if !stochlab.CheckFinite(yHat) {
			return 0, fmt.Errorf("particle: %w: measurement produced non-finite output at particle %d", stochlab.ErrNonFinite, i)
		}
		resid := subVec(y, yHat)
		delta[i] = f.dg.LogPdf(resid)
	}
	f.cloud.W.AddLogweights(delta)

	lse, ok := f.cloud.W.Normalize()
	if !ok {
		return 0, fmt.Errorf("particle: %w", stochlab.ErrDegenerateWeights)
	}
	logN := math.Log(float64(n))
	deltaLL := lse - logN
	f.loglik += deltaLL

	if f.cloud.W.ESS() < f.threshold*float64(n) {
		f.resample()
	}
	return deltaLL, nil
}

// resample reorders particles according to a systematic draw from the
// current normalized weights and resets all weights to -log(N), per spec
// §4.2.
func (f *Filter) resample() {
	idx := resample.Systematic(f.cloud.W.Raw(), f.src.XSource())
	f.cloud.ReorderFrom(f.cloud.X, idx)
	f.cloud.W.ResetUniform()
}

// Run performs one atomic Correct-then-Predict cycle, matching the
// classical filtering convention where the current measurement refines the
// current state before the next transition (spec §4.3's call form pf(u,y)).
func (f *Filter) Run(u, y mat.Vector) (float64, error) {
	return stochlab.Step(f, u, y)
}

// SampleMeasurement draws a simulated measurement from the current
// weighted-mean state plus measurement noise, for posterior-predictive
// checks.
func (f *Filter) SampleMeasurement(u mat.Vector) (mat.Vector, error) {
	mean := f.WeightedMean()
	yHat, err := f.measurement(mean, u, f.params, f.t)
	if err != nil {
		return nil, err
	}
	noise := f.dg.Sample(f.src)
	return addVec(yHat, noise), nil
}

func addVec(a, b mat.Vector) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.AddVec(a, b)
	return out
}

func subVec(a, b mat.Vector) *mat.VecDense {
	out := mat.NewVecDense(a.Len(), nil)
	out.SubVec(a, b)
	return out
}
