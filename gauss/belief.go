// Package gauss holds the Gaussian belief representation shared by the
// Kalman filter family: a mean vector and a symmetric covariance matrix,
// generalizing the teacher's estimate.Base/NewBaseWithCov (estimate/base.go)
// and the kf.KF/ukf.UKF internal p/pNext fields into a standalone,
// independently testable value type.
package gauss

import "gonum.org/v1/gonum/mat"

// Belief is a Gaussian state estimate: mean x̂ and covariance R, kept
// symmetric by construction (spec §3's "R is kept symmetric after every
// update by averaging with its transpose").
type Belief struct {
	Mean *mat.VecDense
	Cov  *mat.SymDense
}

// New creates a Belief, cloning mean and cov so the caller's backing arrays
// are never aliased -- the same clone-on-construct convention as the
// teacher's estimate.NewBaseWithCov and model.InitCond.
func New(mean mat.Vector, cov mat.Symmetric) *Belief {
	m := mat.NewVecDense(mean.Len(), nil)
	m.CloneFromVec(mean)

	c := mat.NewSymDense(cov.Symmetric(), nil)
	c.CopySym(cov)

	return &Belief{Mean: m, Cov: c}
}

// Clone returns a deep copy of b.
func (b *Belief) Clone() *Belief {
	return New(b.Mean, b.Cov)
}

// Symmetrize replaces Cov with (Cov+Cov^T)/2, guarding against the small
// asymmetries floating point round-off introduces across repeated
// predict/correct cycles (spec §3 invariant).
func (b *Belief) Symmetrize() {
	n := b.Cov.Symmetric()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, (b.Cov.At(i, j)+b.Cov.At(j, i))/2)
		}
	}
	b.Cov = sym
}
