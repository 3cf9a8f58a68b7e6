package ekf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
)

func TestNewIter(t *testing.T) {
	q, r := newTestNoise(t)
	init := newTestBelief()

	f, err := NewIter(newTestDynamics(), newTestMeasurement(), init, q, r, 1, 5)
	assert.NoError(t, err)
	assert.NotNil(t, f)

	_, err = NewIter(newTestDynamics(), newTestMeasurement(), init, q, r, 1, 0)
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)

	_, err = NewIter(nil, newTestMeasurement(), init, q, r, 1, 5)
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)
}

func TestIEKFCorrectAndRun(t *testing.T) {
	q, r := newTestNoise(t)
	f, err := NewIter(newTestDynamics(), newTestMeasurement(), newTestBelief(), q, r, 1, 3)
	assert.NoError(t, err)

	assert.NoError(t, f.Predict(nil))
	ll, err := f.Correct(nil, mat.NewVecDense(1, []float64{0.95}))
	assert.NoError(t, err)
	assert.False(t, math.IsNaN(ll))

	_, err = f.Correct(nil, mat.NewVecDense(2, nil))
	assert.ErrorIs(t, err, stochlab.ErrDimensionMismatch)

	for i := 0; i < 3; i++ {
		_, err := f.Run(nil, mat.NewVecDense(1, []float64{0.9}))
		assert.NoError(t, err)
	}
	assert.Equal(t, 4, f.Time())
}

func TestIEKFConvergesNearEKF(t *testing.T) {
	q, r := newTestNoise(t)
	iterated, err := NewIter(newTestDynamics(), newTestMeasurement(), newTestBelief(), q, r, 1, 5)
	assert.NoError(t, err)
	plain, err := New(newTestDynamics(), newTestMeasurement(), newTestBelief(), q, r, 1)
	assert.NoError(t, err)

	assert.NoError(t, iterated.Predict(nil))
	assert.NoError(t, plain.Predict(nil))

	y := mat.NewVecDense(1, []float64{0.95})
	_, err = iterated.Correct(nil, y)
	assert.NoError(t, err)
	_, err = plain.Correct(nil, y)
	assert.NoError(t, err)

	// the measurement model here is linear, so the iterated update should
	// converge to exactly the same correction as the single-pass EKF.
	assert.InDelta(t, plain.State().AtVec(0), iterated.State().AtVec(0), 1e-6)
}
