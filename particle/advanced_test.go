package particle

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/dist"
	"github.com/axleford/stochlab/internal/rng"
)

// noisyRandomWalk is a 1D random walk whose process noise standard
// deviation scales with the current state magnitude, the canonical
// state-dependent-noise case model.DynamicsNoisy exists for.
func noisyRandomWalk(src *rng.Source) func(x, u mat.Vector, p stochlab.Params, t int, noise bool) (mat.Vector, error) {
	return func(x, u mat.Vector, p stochlab.Params, t int, withNoise bool) (mat.Vector, error) {
		next := x.AtVec(0)
		if withNoise {
			sigma := 0.1 + 0.05*math.Abs(next)
			next += sigma * src.NormFloat64()
		}
		return mat.NewVecDense(1, []float64{next}), nil
	}
}

func gaussianLikelihood() func(x, u, y mat.Vector, p stochlab.Params, t int) float64 {
	return func(x, u, y mat.Vector, p stochlab.Params, t int) float64 {
		resid := y.AtVec(0) - x.AtVec(0)
		const sigma = 0.5
		return -0.5*resid*resid/(sigma*sigma) - math.Log(sigma*math.Sqrt(2*math.Pi))
	}
}

func newAdvancedConfig(t *testing.T) AdvancedConfig {
	src := rng.New(7)
	dx0, err := dist.NewGaussian(mat.NewVecDense(1, []float64{0}), mat.NewSymDense(1, []float64{1}))
	assert.NoError(t, err)

	return AdvancedConfig{
		N:          200,
		Dynamics:   noisyRandomWalk(src),
		Likelihood: gaussianLikelihood(),
		InitDist:   dx0,
		Seed:       src,
	}
}

func TestNewAdvanced(t *testing.T) {
	cfg := newAdvancedConfig(t)
	f, err := NewAdvanced(cfg)
	assert.NoError(t, err)
	assert.NotNil(t, f)

	badCfg := cfg
	badCfg.Dynamics = nil
	f, err = NewAdvanced(badCfg)
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)
	assert.Nil(t, f)

	badCfg = cfg
	badCfg.N = -1
	f, err = NewAdvanced(badCfg)
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)
	assert.Nil(t, f)
}

func TestAdvancedPredictAndCorrect(t *testing.T) {
	f, err := NewAdvanced(newAdvancedConfig(t))
	assert.NoError(t, err)

	var u mat.Vector // uncontrolled: noisyRandomWalk ignores u
	err = f.Predict(u)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.Time())

	y := mat.NewVecDense(1, []float64{0.1})
	ll, err := f.Correct(u, y)
	assert.NoError(t, err)
	assert.False(t, math.IsNaN(ll))
}

func TestAdvancedRunAndReset(t *testing.T) {
	f, err := NewAdvanced(newAdvancedConfig(t))
	assert.NoError(t, err)

	var u mat.Vector // uncontrolled: noisyRandomWalk ignores u
	y := mat.NewVecDense(1, []float64{0.1})

	ll, err := f.Run(u, y)
	assert.NoError(t, err)
	assert.NotZero(t, ll)
	assert.Equal(t, 1, f.Time())

	err = f.Reset()
	assert.NoError(t, err)
	assert.Equal(t, 0, f.Time())
	assert.Zero(t, f.Loglik())
}
