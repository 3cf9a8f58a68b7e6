package kf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/dist"
	"github.com/axleford/stochlab/gauss"
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

func newTestBelief() *gauss.Belief {
	return gauss.New(mat.NewVecDense(2, []float64{1.0, 3.0}), mat.NewSymDense(2, []float64{0.25, 0, 0, 0.25}))
}

func newTestNoise(t *testing.T) (q, r *dist.Gaussian) {
	q, err := dist.NewGaussian(mat.NewVecDense(2, nil), mat.NewSymDense(2, []float64{0.25, 0, 0, 0.25}))
	assert.NoError(t, err)
	r, err = dist.NewGaussian(mat.NewVecDense(1, nil), mat.NewSymDense(1, []float64{0.25}))
	assert.NoError(t, err)
	return q, r
}

func TestNew(t *testing.T) {
	m := newTestModel(t)
	ic := newTestBelief()
	q, r := newTestNoise(t)

	f, err := New(m, ic, q, r)
	assert.NoError(t, err)
	assert.NotNil(t, f)

	// zero process and measurement noise are allowed
	f, err = New(m, ic, nil, nil)
	assert.NoError(t, err)
	assert.NotNil(t, f)

	// init is required
	f, err = New(m, nil, q, r)
	assert.Error(t, err)
	assert.Nil(t, f)

	// mismatched init state dimension
	badInit := gauss.New(mat.NewVecDense(3, nil), mat.NewSymDense(3, nil))
	f, err = New(m, badInit, q, r)
	assert.ErrorIs(t, err, stochlab.ErrDimensionMismatch)
	assert.Nil(t, f)

	// mismatched process noise dimension
	badQ, _ := dist.NewGaussian(mat.NewVecDense(3, nil), mat.NewSymDense(3, nil))
	f, err = New(m, ic, badQ, r)
	assert.ErrorIs(t, err, stochlab.ErrDimensionMismatch)
	assert.Nil(t, f)

	// mismatched measurement noise dimension
	badR, _ := dist.NewGaussian(mat.NewVecDense(2, nil), mat.NewSymDense(2, nil))
	f, err = New(m, ic, q, badR)
	assert.ErrorIs(t, err, stochlab.ErrDimensionMismatch)
	assert.Nil(t, f)
}

func TestPredict(t *testing.T) {
	m := newTestModel(t)
	ic := newTestBelief()
	q, r := newTestNoise(t)
	f, err := New(m, ic, q, r)
	assert.NoError(t, err)

	u := mat.NewVecDense(1, []float64{-1.0})
	before := f.Time()
	err = f.Predict(u)
	assert.NoError(t, err)
	assert.Equal(t, before+1, f.Time())
	assert.Equal(t, 2, f.State().Len())
}

func TestCorrect(t *testing.T) {
	m := newTestModel(t)
	ic := newTestBelief()
	q, r := newTestNoise(t)
	f, err := New(m, ic, q, r)
	assert.NoError(t, err)

	u := mat.NewVecDense(1, []float64{-1.0})
	z := mat.NewVecDense(1, []float64{-1.5})

	ll, err := f.Correct(u, z)
	assert.NoError(t, err)
	assert.False(t, ll > 0) // a Gaussian log-density is never positive here given unit-ish variances

	// mismatched measurement dimension
	badZ := mat.NewVecDense(3, nil)
	_, err = f.Correct(u, badZ)
	assert.ErrorIs(t, err, stochlab.ErrDimensionMismatch)
}

func TestRun(t *testing.T) {
	m := newTestModel(t)
	ic := newTestBelief()
	q, r := newTestNoise(t)
	f, err := New(m, ic, q, r)
	assert.NoError(t, err)

	u := mat.NewVecDense(1, []float64{-1.0})
	z := mat.NewVecDense(1, []float64{-1.5})

	ll, err := f.Run(u, z)
	assert.NoError(t, err)
	assert.NotZero(t, ll)
	assert.Equal(t, 1, f.Time())
}

func TestReset(t *testing.T) {
	m := newTestModel(t)
	ic := newTestBelief()
	q, r := newTestNoise(t)
	f, err := New(m, ic, q, r)
	assert.NoError(t, err)

	u := mat.NewVecDense(1, []float64{-1.0})
	z := mat.NewVecDense(1, []float64{-1.5})
	_, err = f.Run(u, z)
	assert.NoError(t, err)

	err = f.Reset()
	assert.NoError(t, err)
	assert.Equal(t, 0, f.Time())
	assert.Zero(t, f.Loglik())
	assert.InDeltaSlice(t, []float64{1.0, 3.0}, mat.Col(nil, 0, f.State()), 1e-9)
}

func TestGainAndInnovation(t *testing.T) {
	m := newTestModel(t)
	ic := newTestBelief()
	q, r := newTestNoise(t)
	f, err := New(m, ic, q, r)
	assert.NoError(t, err)

	u := mat.NewVecDense(1, []float64{-1.0})
	z := mat.NewVecDense(1, []float64{-1.5})
	_, err = f.Correct(u, z)
	assert.NoError(t, err)

	assert.NotNil(t, f.Gain())
	assert.Equal(t, 1, f.Innovation().Len())
}
