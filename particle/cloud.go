// Package particle implements the sequential Monte Carlo estimator family:
// the bootstrap ParticleFilter, the AuxiliaryFilter variance-reduction
// wrapper, and the AdvancedFilter for state-dependent noise and
// non-additive measurement models. All three share the particle cloud
// layout and double-buffered propagation machinery generalized from the
// teacher's particle/bf/bf.go.
package particle

import (
	"gonum.org/v1/gonum/mat"

	"github.com/axleford/stochlab/internal/weights"
)

// Cloud is the weighted-particle representation: an ordered sequence of N
// state vectors (stored as columns of a dense matrix, the teacher's
// particle/bf/bf.go convention) and the associated log-weight vector.
// Invariant: the number of columns of X always equals W.Len().
//
// A parallel "next" buffer of equal shape is held to avoid aliasing during
// propagation (spec §3, §9 "hot-loop allocation"): Predict writes into next
// and then swaps, rather than allocating a fresh matrix every step.
type Cloud struct {
	X    *mat.Dense // nx x N, particles stored as columns
	next *mat.Dense // preallocated scratch buffer, same shape as X
	W    *weights.Vector
}

// NewCloud allocates a Cloud for n particles of dimension nx, with weights
// initialized to uniform (-log n).
func NewCloud(nx, n int) *Cloud {
	return &Cloud{
		X:    mat.NewDense(nx, n, nil),
		next: mat.NewDense(nx, n, nil),
		W:    weights.Uniform(n),
	}
}

// N returns the number of particles in the cloud.
func (c *Cloud) N() int {
	_, n := c.X.Dims()
	return n
}

// Dim returns the state dimension of each particle.
func (c *Cloud) Dim() int {
	nx, _ := c.X.Dims()
	return nx
}

// Particle returns a view of the i-th particle's state.
func (c *Cloud) Particle(i int) mat.Vector {
	return c.X.ColView(i)
}

// SetNext overwrites the i-th particle's state in the scratch "next"
// buffer. Call SwapBuffers once every particle for the step has been
// written to commit the new generation.
func (c *Cloud) SetNext(i int, x mat.Vector) {
	c.next.Slice(0, x.Len(), i, i+1).(*mat.Dense).Copy(x)
}

// SwapBuffers commits the scratch buffer written via SetNext as the current
// particle set, without reallocating either buffer -- the double-buffer
// swap spec §9 requires to keep the propagation loop allocation-free.
func (c *Cloud) SwapBuffers() {
	c.X, c.next = c.next, c.X
}

// WeightedMean returns the particle-weighted mean state: sum_i
// exp(w_i)*X[:,i] over normalized log-weights.
func (c *Cloud) WeightedMean() *mat.VecDense {
	nx, n := c.X.Dims()
	ew := c.W.ExpWeights(nil)
	mean := mat.NewVecDense(nx, nil)
	for i := 0; i < n; i++ {
		mean.AddScaledVec(mean, ew[i], c.X.ColView(i))
	}
	return mean
}

// WeightedCov returns the particle-weighted covariance about WeightedMean.
func (c *Cloud) WeightedCov() *mat.SymDense {
	nx, n := c.X.Dims()
	mean := c.WeightedMean()
	ew := c.W.ExpWeights(nil)

	cov := mat.NewSymDense(nx, nil)
	diff := mat.NewVecDense(nx, nil)
	outer := mat.NewDense(nx, nx, nil)
	for i := 0; i < n; i++ {
		diff.SubVec(c.X.ColView(i), mean)
		outer.Mul(diff, diff.T())
		for r := 0; r < nx; r++ {
			for col := r; col < nx; col++ {
				cov.SetSym(r, col, cov.At(r, col)+ew[i]*outer.At(r, col))
			}
		}
	}
	return cov
}

// ReorderFrom overwrites c.X's columns with src's columns permuted
// according to idx: column i of the result is column idx[i] of src. Used
// by resampling to reorder particles according to the resampled index
// permutation.
func (c *Cloud) ReorderFrom(src *mat.Dense, idx []int) {
	nx, _ := c.next.Dims()
	for i, j := range idx {
		c.next.Slice(0, nx, i, i+1).(*mat.Dense).Copy(src.ColView(j))
	}
	c.X, c.next = c.next, c.X
}
