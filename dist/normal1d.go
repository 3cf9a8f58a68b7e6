package dist

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/axleford/stochlab/internal/rng"
)

// Normal1D is a univariate Gaussian distribution over 1-dimensional state,
// grounded on jhoydich-particle-filter's use of distuv.Normal for per-axis
// error models (locDistribution/angDistribution/distDistribution in pf.go).
type Normal1D struct {
	d distuv.Normal
}

// NewNormal1D creates a Normal1D with the given mean and standard deviation.
func NewNormal1D(mu, sigma float64) *Normal1D {
	return &Normal1D{d: distuv.Normal{Mu: mu, Sigma: sigma}}
}

// Dim implements Distribution; Normal1D always produces scalar values.
func (n *Normal1D) Dim() int { return 1 }

// Sample implements Distribution.
func (n *Normal1D) Sample(src *rng.Source) mat.Vector {
	d := n.d
	d.Src = src.XSource()
	return mat.NewVecDense(1, []float64{d.Rand()})
}

// LogPdf implements Distribution.
func (n *Normal1D) LogPdf(x mat.Vector) float64 {
	return n.d.LogProb(x.AtVec(0))
}
