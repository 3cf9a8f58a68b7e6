package ukf

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

func defaultConfig() Config {
	return Config{Alpha: 1e-3, Beta: 2, Kappa: 0}
}

func TestNew(t *testing.T) {
	m := newTestModel(t)
	ic := newTestBelief()
	q, r := newTestNoise(t)

	f, err := New(m.Dynamics(), m.Measurement(), ic, q, r, nil, defaultConfig())
	assert.NoError(t, err)
	assert.NotNil(t, f)

	// nil dynamics/measurement rejected
	f, err = New(nil, m.Measurement(), ic, q, r, nil, defaultConfig())
	assert.Error(t, err)
	assert.Nil(t, f)

	// invalid alpha
	badCfg := defaultConfig()
	badCfg.Alpha = 0
	f, err = New(m.Dynamics(), m.Measurement(), ic, q, r, nil, badCfg)
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)
	assert.Nil(t, f)

	// invalid kappa
	badCfg = defaultConfig()
	badCfg.Kappa = -1
	f, err = New(m.Dynamics(), m.Measurement(), ic, q, r, nil, badCfg)
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)
	assert.Nil(t, f)

	// mismatched process noise dimension
	badQ, _ := dist.NewGaussian(mat.NewVecDense(3, nil), mat.NewSymDense(3, nil))
	f, err = New(m.Dynamics(), m.Measurement(), ic, badQ, r, nil, defaultConfig())
	assert.ErrorIs(t, err, stochlab.ErrDimensionMismatch)
	assert.Nil(t, f)

	// zero process and measurement noise is allowed
	f, err = New(m.Dynamics(), m.Measurement(), ic, nil, nil, nil, defaultConfig())
	assert.NoError(t, err)
	assert.NotNil(t, f)
}

func TestGenSigmaPoints(t *testing.T) {
	m := newTestModel(t)
	ic := newTestBelief()
	q, r := newTestNoise(t)

	f, err := New(m.Dynamics(), m.Measurement(), ic, q, r, nil, defaultConfig())
	assert.NoError(t, err)

	sp := f.GenSigmaPoints(ic.Mean)
	assert.NotNil(t, sp)
	rows, cols := sp.X.Dims()
	assert.Equal(t, 5, rows) // nx(2) + q dim(2) + r dim(1)
	assert.Equal(t, 2*rows+1, cols)
}

func TestPredictAndCorrect(t *testing.T) {
	m := newTestModel(t)
	ic := newTestBelief()
	q, r := newTestNoise(t)

	f, err := New(m.Dynamics(), m.Measurement(), ic, q, r, nil, defaultConfig())
	assert.NoError(t, err)

	u := mat.NewVecDense(1, []float64{-1.0})
	z := mat.NewVecDense(1, []float64{-1.5})

	err = f.Predict(u)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.Time())

	ll, err := f.Correct(u, z)
	assert.NoError(t, err)
	assert.False(t, ll > 0)

	badZ := mat.NewVecDense(3, nil)
	_, err = f.Correct(u, badZ)
	assert.ErrorIs(t, err, stochlab.ErrDimensionMismatch)
}

func TestRunAndReset(t *testing.T) {
	m := newTestModel(t)
	ic := newTestBelief()
	q, r := newTestNoise(t)

	f, err := New(m.Dynamics(), m.Measurement(), ic, q, r, nil, defaultConfig())
	assert.NoError(t, err)

	u := mat.NewVecDense(1, []float64{-1.0})
	z := mat.NewVecDense(1, []float64{-1.5})

	ll, err := f.Run(u, z)
	assert.NoError(t, err)
	assert.NotZero(t, ll)
	assert.Equal(t, 1, f.Time())

	err = f.Reset()
	assert.NoError(t, err)
	assert.Equal(t, 0, f.Time())
	assert.Zero(t, f.Loglik())
}

func TestGain(t *testing.T) {
	m := newTestModel(t)
	ic := newTestBelief()
	q, r := newTestNoise(t)

	f, err := New(m.Dynamics(), m.Measurement(), ic, q, r, nil, defaultConfig())
	assert.NoError(t, err)

	u := mat.NewVecDense(1, []float64{-1.0})
	z := mat.NewVecDense(1, []float64{-1.5})
	_, err = f.Correct(u, z)
	assert.NoError(t, err)

	assert.NotNil(t, f.Gain())
}

// TestAgreesWithKalmanFilter exercises the S1 linear-Gaussian scenario: on a
// linear model, the UKF's predicted/corrected state and covariance must
// match the closed-form linear KF to near machine precision (spec §4.7
// testable property 4), in particular that the unscented transform's
// augmented-noise sigma points actually carry process noise Q into the
// predicted covariance (the KF adds Q explicitly; the UKF must match it via
// the sigma spread alone).
func TestAgreesWithKalmanFilter(t *testing.T) {
	m := newTestModel(t)
	ic := newTestBelief()
	q, r := newTestNoise(t)

	ukfCfg := defaultConfig()
	u, err := New(m.Dynamics(), m.Measurement(), ic, q, r, nil, ukfCfg)
	assert.NoError(t, err)

	kalman, err := kf.New(m, ic, q, r)
	assert.NoError(t, err)

	inputs := []mat.Vector{
		mat.NewVecDense(1, []float64{-1.0}),
		mat.NewVecDense(1, []float64{0.5}),
		mat.NewVecDense(1, []float64{0.0}),
	}
	measurements := []mat.Vector{
		mat.NewVecDense(1, []float64{-1.5}),
		mat.NewVecDense(1, []float64{-2.0}),
		mat.NewVecDense(1, []float64{-1.8}),
	}

	for i := range inputs {
		_, err := u.Run(inputs[i], measurements[i])
		assert.NoError(t, err)
		_, err = kalman.Run(inputs[i], measurements[i])
		assert.NoError(t, err)

		for d := 0; d < 2; d++ {
			assert.InDelta(t, kalman.State().AtVec(d), u.State().AtVec(d), 1e-6)
		}
		for row := 0; row < 2; row++ {
			for col := 0; col < 2; col++ {
				assert.InDelta(t, kalman.Covariance().At(row, col), u.Covariance().At(row, col), 1e-6)
			}
		}
	}
}

func TestSqrtCovFallsBackGracefully(t *testing.T) {
	// a degenerate (all-zero) covariance is not positive definite, so the
	// direct Cholesky fails; the first jitter retry (1e-9 on the diagonal)
	// makes it factorizable and sqrtCov returns a square root without
	// panicking.
	cov := mat.NewSymDense(2, nil)
	out := sqrtCov(cov, 1.0)
	assert.NotNil(t, out)
	r, c := out.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)
}
