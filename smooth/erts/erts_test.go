package erts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/dist"
	"github.com/axleford/stochlab/gauss"
)

// nonlinearDynamics is a mildly nonlinear 1D dynamics model (logistic-map
// style damping) used to exercise the finite-difference Jacobian path.
func nonlinearDynamics() func(x, u mat.Vector, p stochlab.Params, t int, noise bool) (mat.Vector, error) {
	return func(x, u mat.Vector, p stochlab.Params, t int, noise bool) (mat.Vector, error) {
		v := x.AtVec(0)
		next := 0.9*v + 0.01*v*v
		return mat.NewVecDense(1, []float64{next}), nil
	}
}

func TestNew(t *testing.T) {
	q, err := dist.NewGaussian(mat.NewVecDense(1, nil), mat.NewSymDense(1, []float64{0.05}))
	assert.NoError(t, err)

	s, err := New(nonlinearDynamics(), q, nil, 1)
	assert.NoError(t, err)
	assert.NotNil(t, s)

	s, err = New(nil, q, nil, 1)
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)
	assert.Nil(t, s)

	s, err = New(nonlinearDynamics(), q, nil, 0)
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)
	assert.Nil(t, s)

	badQ, _ := dist.NewGaussian(mat.NewVecDense(2, nil), mat.NewSymDense(2, nil))
	s, err = New(nonlinearDynamics(), badQ, nil, 1)
	assert.ErrorIs(t, err, stochlab.ErrDimensionMismatch)
	assert.Nil(t, s)
}

func TestSmooth(t *testing.T) {
	q, err := dist.NewGaussian(mat.NewVecDense(1, nil), mat.NewSymDense(1, []float64{0.05}))
	assert.NoError(t, err)
	s, err := New(nonlinearDynamics(), q, nil, 1)
	assert.NoError(t, err)

	filtered := []*gauss.Belief{
		gauss.New(mat.NewVecDense(1, []float64{1.0}), mat.NewSymDense(1, []float64{0.2})),
		gauss.New(mat.NewVecDense(1, []float64{0.95}), mat.NewSymDense(1, []float64{0.15})),
		gauss.New(mat.NewVecDense(1, []float64{0.9}), mat.NewSymDense(1, []float64{0.1})),
	}

	smoothed, err := s.Smooth(filtered, nil)
	assert.NoError(t, err)
	assert.Len(t, smoothed, 3)
	assert.InDeltaSlice(t, mat.Col(nil, 0, filtered[2].Mean), mat.Col(nil, 0, smoothed[2].Mean), 1e-9)
}

func TestSmoothValidatesInput(t *testing.T) {
	q, err := dist.NewGaussian(mat.NewVecDense(1, nil), mat.NewSymDense(1, []float64{0.05}))
	assert.NoError(t, err)
	s, err := New(nonlinearDynamics(), q, nil, 1)
	assert.NoError(t, err)

	_, err = s.Smooth(nil, nil)
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)

	filtered := []*gauss.Belief{
		gauss.New(mat.NewVecDense(1, []float64{1.0}), mat.NewSymDense(1, []float64{0.2})),
	}
	_, err = s.Smooth(filtered, []mat.Vector{mat.NewVecDense(1, nil), mat.NewVecDense(1, nil)})
	assert.ErrorIs(t, err, stochlab.ErrDimensionMismatch)
}
