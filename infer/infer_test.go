package infer

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/dist"
	"github.com/axleford/stochlab/gauss"
	"github.com/axleford/stochlab/internal/rng"
	"github.com/axleford/stochlab/kalman/kf"
	"github.com/axleford/stochlab/model"
)

func newTestModel(t *testing.T) *model.LinearModel {
	A := mat.NewDense(2, 2, []float64{1.0, 1.0, 0.0, 1.0})
	B := mat.NewDense(2, 1, []float64{0.5, 1.0})
	C := mat.NewDense(1, 2, []float64{1.0, 0.0})
	m, err := model.NewLinearModel(A, B, C, nil)
	assert.NoError(t, err)
	return m
}

func TestLoglik(t *testing.T) {
	m := newTestModel(t)
	q, err := dist.NewGaussian(mat.NewVecDense(2, nil), mat.NewSymDense(2, []float64{0.05, 0, 0, 0.05}))
	assert.NoError(t, err)
	r, err := dist.NewGaussian(mat.NewVecDense(1, nil), mat.NewSymDense(1, []float64{0.25}))
	assert.NoError(t, err)
	init := gauss.New(mat.NewVecDense(2, []float64{1.0, 3.0}), mat.NewSymDense(2, []float64{0.25, 0, 0, 0.25}))

	f, err := kf.New(m, init, q, r)
	assert.NoError(t, err)

	y := []mat.Vector{
		mat.NewVecDense(1, []float64{-1.5}),
		mat.NewVecDense(1, []float64{-2.0}),
	}
	ll, err := Loglik(f, nil, y)
	assert.NoError(t, err)
	assert.False(t, math.IsNaN(ll))
}

// buildKFFor returns a Builder that constructs a fresh KF from a 1D
// parameter vector theta interpreted as the measurement noise variance,
// exercising the infer package's intended "sweep one scalar parameter"
// use case.
func buildKFFor(m *model.LinearModel, init *gauss.Belief, q *dist.Gaussian) Builder {
	return func(theta mat.Vector) (stochlab.Estimator, error) {
		v := theta.AtVec(0)
		if v <= 0 {
			return nil, errors.New("infer_test: non-positive variance")
		}
		r, err := dist.NewGaussian(mat.NewVecDense(1, nil), mat.NewSymDense(1, []float64{v}))
		if err != nil {
			return nil, err
		}
		return kf.New(m, init, q, r)
	}
}

func TestLogLikelihoodFun(t *testing.T) {
	m := newTestModel(t)
	q, err := dist.NewGaussian(mat.NewVecDense(2, nil), mat.NewSymDense(2, []float64{0.05, 0, 0, 0.05}))
	assert.NoError(t, err)
	init := gauss.New(mat.NewVecDense(2, []float64{1.0, 3.0}), mat.NewSymDense(2, []float64{0.25, 0, 0, 0.25}))

	y := []mat.Vector{mat.NewVecDense(1, []float64{-1.5}), mat.NewVecDense(1, []float64{-2.0})}
	logTarget := LogLikelihoodFun(buildKFFor(m, init, q), nil, y)

	ll := logTarget(mat.NewVecDense(1, []float64{0.25}))
	assert.False(t, math.IsInf(ll, -1))

	// an invalid (negative variance) parameter must be rejected as -Inf,
	// not propagate a construction error to the caller.
	rejected := logTarget(mat.NewVecDense(1, []float64{-1}))
	assert.True(t, math.IsInf(rejected, -1))
}

func TestMetropolis(t *testing.T) {
	// a simple unimodal Gaussian target centered at 2
	logTarget := func(theta mat.Vector) float64 {
		d := theta.AtVec(0) - 2
		return -0.5 * d * d
	}
	propose := func(src *rng.Source) *mat.VecDense {
		return mat.NewVecDense(1, []float64{src.NormFloat64() * 0.5})
	}

	res := Metropolis(logTarget, mat.NewVecDense(1, []float64{0}), propose, 500, rng.New(42))
	assert.Equal(t, 500, res.Iterations)
	assert.Len(t, res.Samples, 500)
	assert.True(t, res.AcceptanceRate() > 0 && res.AcceptanceRate() <= 1)

	mean := 0.0
	for _, s := range res.Samples[250:] {
		mean += s.AtVec(0)
	}
	mean /= float64(len(res.Samples[250:]))
	assert.InDelta(t, 2.0, mean, 0.75)
}

func TestMetropolisThreaded(t *testing.T) {
	logTarget := func(theta mat.Vector) float64 {
		d := theta.AtVec(0) - 2
		return -0.5 * d * d
	}
	propose := func(src *rng.Source) *mat.VecDense {
		return mat.NewVecDense(1, []float64{src.NormFloat64() * 0.5})
	}

	inits := []*mat.VecDense{
		mat.NewVecDense(1, []float64{0}),
		mat.NewVecDense(1, []float64{5}),
		mat.NewVecDense(1, []float64{-5}),
	}

	results, err := MetropolisThreaded(logTarget, inits, propose, 200, rng.New(7))
	assert.NoError(t, err)
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, 200, r.Iterations)
	}

	_, err = MetropolisThreaded(logTarget, nil, propose, 200, rng.New(7))
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)
}
