package dist

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/axleford/stochlab/internal/rng"
)

// Categorical is a discrete distribution over the integer indices
// 0..len(weights)-1, used by the particle smoother (FFBS) to draw ancestor
// indices from the categorical distribution induced by a weight vector over
// particles. It replaces the teacher's bespoke roulette-wheel draw
// (rand/rand.go's RouletteDrawN, itself built on floats.CumSum + sort.Search)
// with the gonum idiom for exactly this draw, distuv.NewCategorical.
type Categorical struct {
	weights []float64 // copy of the constructor's weights; Draw builds a sampler over them
	d       distuv.Categorical
}

// NewCategorical creates a Categorical distribution over len(weights)
// outcomes with (unnormalized) probability proportional to weights.
func NewCategorical(weights []float64) *Categorical {
	w := make([]float64, len(weights))
	copy(w, weights)
	return &Categorical{
		weights: w,
		d:       distuv.NewCategorical(w, nil),
	}
}

// Dim implements Distribution; Categorical draws a scalar index.
func (c *Categorical) Dim() int { return 1 }

// Draw samples a single outcome index in [0, len(weights)) using src.
func (c *Categorical) Draw(src *rng.Source) int {
	d := distuv.NewCategorical(c.weights, src.XSource())
	return int(d.Rand())
}

// Sample implements Distribution, returning the drawn index as a
// 1-dimensional vector.
func (c *Categorical) Sample(src *rng.Source) mat.Vector {
	return mat.NewVecDense(1, []float64{float64(c.Draw(src))})
}

// LogPdf implements Distribution: log probability mass of outcome x[0].
func (c *Categorical) LogPdf(x mat.Vector) float64 {
	return c.d.LogProb(x.AtVec(0))
}
