package particle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/dist"
	"github.com/axleford/stochlab/internal/rng"
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

func newTestConfig(t *testing.T) Config {
	m := newTestModel(t)

	df, err := dist.NewGaussian(mat.NewVecDense(2, nil), mat.NewSymDense(2, []float64{0.05, 0, 0, 0.05}))
	assert.NoError(t, err)
	dg, err := dist.NewGaussian(mat.NewVecDense(1, nil), mat.NewSymDense(1, []float64{0.25}))
	assert.NoError(t, err)
	dx0, err := dist.NewGaussian(mat.NewVecDense(2, []float64{1.0, 3.0}), mat.NewSymDense(2, []float64{0.25, 0, 0, 0.25}))
	assert.NoError(t, err)

	return Config{
		N:                 200,
		Dynamics:          m.Dynamics(),
		Measurement:       m.Measurement(),
		ProcessNoise:      df,
		MeasurementNoise:  dg,
		InitDist:          dx0,
		Seed:              rng.New(1),
	}
}

func TestNew(t *testing.T) {
	cfg := newTestConfig(t)
	f, err := New(cfg)
	assert.NoError(t, err)
	assert.NotNil(t, f)
	assert.Equal(t, cfg.N, f.NumParticles())

	badCfg := cfg
	badCfg.N = 0
	f, err = New(badCfg)
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)
	assert.Nil(t, f)

	badCfg = cfg
	badCfg.Threshold = 1.5
	f, err = New(badCfg)
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)
	assert.Nil(t, f)

	badCfg = cfg
	badCfg.InitDist = nil
	f, err = New(badCfg)
	assert.ErrorIs(t, err, stochlab.ErrInvalidConfiguration)
	assert.Nil(t, f)
}

func TestPredict(t *testing.T) {
	f, err := New(newTestConfig(t))
	assert.NoError(t, err)

	u := mat.NewVecDense(1, []float64{-1.0})
	err = f.Predict(u)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.Time())
}

func TestCorrectAndResample(t *testing.T) {
	f, err := New(newTestConfig(t))
	assert.NoError(t, err)

	u := mat.NewVecDense(1, []float64{-1.0})
	z := mat.NewVecDense(1, []float64{-1.5})

	ll, err := f.Correct(u, z)
	assert.NoError(t, err)
	assert.False(t, ll > 0)

	// weights normalize to logsumexp == 0 after Correct, i.e. the linear
	// weights sum to 1
	sum := 0.0
	for _, w := range f.cloud.W.ExpWeights(nil) {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.True(t, f.cloud.W.ESS() >= 1 && f.cloud.W.ESS() <= float64(f.NumParticles())+1e-9)
}

func TestRunAndReset(t *testing.T) {
	f, err := New(newTestConfig(t))
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

func TestWeightedMeanNearInit(t *testing.T) {
	cfg := newTestConfig(t)
	f, err := New(cfg)
	assert.NoError(t, err)

	mean := f.WeightedMean()
	assert.InDelta(t, 1.0, mean.AtVec(0), 0.5)
	assert.InDelta(t, 3.0, mean.AtVec(1), 0.5)
}

func TestSampleMeasurement(t *testing.T) {
	f, err := New(newTestConfig(t))
	assert.NoError(t, err)

	u := mat.NewVecDense(1, []float64{-1.0})
	y, err := f.SampleMeasurement(u)
	assert.NoError(t, err)
	assert.Equal(t, 1, y.Len())
}
