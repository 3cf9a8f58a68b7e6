package dist

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/axleford/stochlab/internal/rng"
)

// Gaussian is a full-covariance multivariate normal distribution. It is the
// direct generalization of the teacher's noise.Gaussian (noise/gaussian.go),
// which wraps the same gonum distmv.Normal but reseeds the wrapped
// distribution on every construction/Reset from time.Now(); here the random
// source is passed in at Sample time instead, since filters own a single
// long-lived rng.Source (internal/rng) rather than each noise model owning
// its own private generator.
type Gaussian struct {
	mean *mat.VecDense
	cov  *mat.SymDense
}

// NewGaussian creates a Gaussian with the given mean and covariance. It
// returns an error if the dimensions of mean and cov differ; cov itself is
// not checked for definiteness.
func NewGaussian(mean *mat.VecDense, cov *mat.SymDense) (*Gaussian, error) {
	if mean.Len() != cov.Symmetric() {
		return nil, fmt.Errorf("dist: mean/cov dimension mismatch: %d != %d", mean.Len(), cov.Symmetric())
	}
	return &Gaussian{mean: mean, cov: cov}, nil
}

// Mean returns a copy of the distribution's mean vector.
func (g *Gaussian) Mean() *mat.VecDense {
	m := mat.NewVecDense(g.mean.Len(), nil)
	m.CopyVec(g.mean)
	return m
}

// Cov returns a copy of the distribution's covariance matrix.
func (g *Gaussian) Cov() *mat.SymDense {
	c := mat.NewSymDense(g.cov.Symmetric(), nil)
	c.CopySym(g.cov)
	return c
}

// Dim implements Distribution.
func (g *Gaussian) Dim() int { return g.mean.Len() }

// Sample implements Distribution.
func (g *Gaussian) Sample(src *rng.Source) mat.Vector {
	nd, ok := distmv.NewNormal(g.mean.RawVector().Data, g.cov, src.Rand)
	if !ok {
		// Covariance factorization failed (cov is not positive definite,
		// e.g. an all-zero covariance, which NewGaussian accepts). Fall
		// back to the mean.
		return g.Mean()
	}
	r := nd.Rand(nil)
	return mat.NewVecDense(len(r), r)
}

// LogPdf implements Distribution.
func (g *Gaussian) LogPdf(x mat.Vector) float64 {
	nd, ok := distmv.NewNormal(g.mean.RawVector().Data, g.cov, nil)
	if !ok {
		return math.Inf(-1)
	}
	xs := mat.Col(nil, 0, x)
	return nd.LogProb(xs)
}
