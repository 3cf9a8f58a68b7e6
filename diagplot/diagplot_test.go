package diagplot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestTrajectoryPlot(t *testing.T) {
	truth := []mat.Vector{
		mat.NewVecDense(2, []float64{0, 0}),
		mat.NewVecDense(2, []float64{1, 1}),
	}
	filtered := []mat.Vector{
		mat.NewVecDense(2, []float64{0.1, 0.1}),
		mat.NewVecDense(2, []float64{0.9, 1.1}),
	}

	p, err := TrajectoryPlot("test", truth, nil, filtered)
	assert.NoError(t, err)
	assert.NotNil(t, p)

	_, err = TrajectoryPlot("empty", nil, nil, nil)
	assert.Error(t, err)

	tooShort := []mat.Vector{mat.NewVecDense(1, []float64{0})}
	_, err = TrajectoryPlot("bad", tooShort, nil, nil)
	assert.Error(t, err)
}

func TestSeriesPlot(t *testing.T) {
	p, err := SeriesPlot("ess", "ess", []float64{10, 9, 8, 7})
	assert.NoError(t, err)
	assert.NotNil(t, p)

	_, err = SeriesPlot("empty", "y", nil)
	assert.Error(t, err)
}
