package rts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/dist"
	"github.com/axleford/stochlab/gauss"
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

func newTestNoise(t *testing.T) (q, r *dist.Gaussian) {
	q, err := dist.NewGaussian(mat.NewVecDense(2, nil), mat.NewSymDense(2, []float64{0.01, 0, 0, 0.01}))
	assert.NoError(t, err)
	r, err = dist.NewGaussian(mat.NewVecDense(1, nil), mat.NewSymDense(1, []float64{0.25}))
	assert.NoError(t, err)
	return q, r
}

func TestNew(t *testing.T) {
	m := newTestModel(t)
	q, _ := newTestNoise(t)

	s, err := New(m, q)
	assert.NoError(t, err)
	assert.NotNil(t, s)

	s, err = New(nil, q)
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)
	assert.Nil(t, s)

	badQ, _ := dist.NewGaussian(mat.NewVecDense(5, nil), mat.NewSymDense(5, nil))
	s, err = New(m, badQ)
	assert.ErrorIs(t, err, stochlab.ErrDimensionMismatch)
	assert.Nil(t, s)

	s, err = New(m, nil)
	assert.NoError(t, err)
	assert.NotNil(t, s)
}

// runForward produces a sequence of filtered beliefs by running kf.KF
// forward across a short fixed trajectory, the same shape RTS.Smooth
// expects as input in normal use.
func runForward(t *testing.T) (m *model.LinearModel, q, r *dist.Gaussian, filtered []*gauss.Belief, u []mat.Vector, totalLL float64) {
	m = newTestModel(t)
	q, r = newTestNoise(t)
	init := gauss.New(mat.NewVecDense(2, []float64{1.0, 3.0}), mat.NewSymDense(2, []float64{0.25, 0, 0, 0.25}))

	f, err := kf.New(m, init, q, r)
	assert.NoError(t, err)

	u = []mat.Vector{
		mat.NewVecDense(1, []float64{-1.0}),
		mat.NewVecDense(1, []float64{-0.5}),
		mat.NewVecDense(1, []float64{0.0}),
	}
	y := []mat.Vector{
		mat.NewVecDense(1, []float64{-1.5}),
		mat.NewVecDense(1, []float64{-2.0}),
		mat.NewVecDense(1, []float64{-2.2}),
	}

	for i := range u {
		ll, err := f.Correct(u[i], y[i])
		assert.NoError(t, err)
		totalLL += ll
		filtered = append(filtered, gauss.New(f.State(), f.Covariance()))
		assert.NoError(t, f.Predict(u[i]))
	}
	return
}

func TestSmooth(t *testing.T) {
	_, q, _, filtered, u, totalLL := runForward(t)
	m := newTestModel(t)

	s, err := New(m, q)
	assert.NoError(t, err)

	smoothed, ll, err := s.Smooth(filtered, u, totalLL)
	assert.NoError(t, err)
	assert.Equal(t, totalLL, ll)
	assert.Len(t, smoothed, len(filtered))

	// the final smoothed belief always equals the final filtered belief
	assert.InDeltaSlice(t, mat.Col(nil, 0, filtered[len(filtered)-1].Mean), mat.Col(nil, 0, smoothed[len(smoothed)-1].Mean), 1e-9)
}

func TestSmoothValidatesInput(t *testing.T) {
	_, q, _, filtered, u, totalLL := runForward(t)
	m := newTestModel(t)
	s, err := New(m, q)
	assert.NoError(t, err)

	_, _, err = s.Smooth(nil, u, totalLL)
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)

	_, _, err = s.Smooth(filtered, u[:1], totalLL)
	assert.ErrorIs(t, err, stochlab.ErrDimensionMismatch)
}
