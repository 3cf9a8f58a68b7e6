// Package rts implements the Rauch-Tung-Striebel fixed-interval Gaussian
// smoother: stochlab's RTS smoother (spec §4.9). It is a direct
// generalization of the teacher's smooth/rts/rts.go -- same backward
// recursion, same "smooth each filtered estimate using the next predicted
// one" shape -- adapted to gauss.Belief and model.LinearModel in place of
// filter.Estimate/filter.DiscreteControlSystem. Unlike the teacher, Smooth
// also threads through the cumulative forward log-likelihood accumulated
// during filtering, since the inference layer needs a single number to
// report back from a smoothed run.
package rts

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/dist"
	"github.com/axleford/stochlab/gauss"
	"github.com/axleford/stochlab/model"
)

// RTS smooths a sequence of filtered Gaussian beliefs produced by kf.KF.
type RTS struct {
	m *model.LinearModel
	q *dist.Gaussian // process noise, nil means zero process noise
}

// New creates an RTS smoother for model m with process noise q (nil for a
// noiseless process).
func New(m *model.LinearModel, q *dist.Gaussian) (*RTS, error) {
	if m == nil {
		return nil, fmt.Errorf("rts: %w: model is required", stochlab.ErrInvalidConfiguration)
	}
	nx, _, _ := m.Dims()
	if q != nil && q.Dim() != nx {
		return nil, fmt.Errorf("rts: %w: process noise dimension %d, want %d", stochlab.ErrDimensionMismatch, q.Dim(), nx)
	}
	return &RTS{m: m, q: q}, nil
}

// Smooth runs the backward RTS recursion over filtered, the sequence of
// filtered beliefs x_{t|t} produced by running kf.KF forward across the
// whole series, with control inputs u (u[t] applied between t and t+1; may
// be nil for an uncontrolled system). forwardLoglik is the cumulative
// log-likelihood already accumulated by the forward filtering pass; Smooth
// returns it unchanged alongside the smoothed beliefs, so callers get a
// single (smoothed, loglik) result from one call instead of having to
// thread the forward filter's Loglik() through separately.
func (s *RTS) Smooth(filtered []*gauss.Belief, u []mat.Vector, forwardLoglik float64) ([]*gauss.Belief, float64, error) {
	if len(filtered) == 0 {
		return nil, 0, fmt.Errorf("rts: %w: filtered is empty", stochlab.ErrInvalidConfiguration)
	}
	if u != nil && len(u) != len(filtered) {
		return nil, 0, fmt.Errorf("rts: %w: u length %d, want %d", stochlab.ErrDimensionMismatch, len(u), len(filtered))
	}

	n := len(filtered)
	smoothed := make([]*gauss.Belief, n)
	smoothed[n-1] = filtered[n-1].Clone()

	nx, _, _ := s.m.Dims()
	next := smoothed[n-1]

	for i := n - 2; i >= 0; i-- {
		var ut mat.Vector
		if u != nil {
			ut = u[i]
		}
		A := s.m.StateMatrix(i)

		xk1 := new(mat.Dense)
		xk1.Mul(A, filtered[i].Mean)
		if B := s.m.ControlMatrix(i); B != nil && ut != nil {
			bu := new(mat.Dense)
			bu.Mul(B, ut)
			xk1.Add(xk1, bu)
		}

		pk1 := new(mat.Dense)
		pk1.Mul(A, filtered[i].Cov)
		pk1.Mul(pk1, A.T())
		if s.q != nil {
			pk1.Add(pk1, s.q.Cov())
		}

		pk1Sym := mat.NewSymDense(nx, nil)
		for r := 0; r < nx; r++ {
			for c := r; c < nx; c++ {
				pk1Sym.SetSym(r, c, (pk1.At(r, c)+pk1.At(c, r))/2)
			}
		}

		c := new(mat.Dense)
		c.Mul(filtered[i].Cov, A.T())

		var chol mat.Cholesky
		var cFull mat.Dense
		if chol.Factorize(pk1Sym) {
			var cT mat.Dense
			if err := chol.SolveTo(&cT, c.T()); err != nil {
				return nil, 0, fmt.Errorf("rts: %w: %v", stochlab.ErrSingularInnovation, err)
			}
			cFull.CloneFrom(cT.T())
		} else {
			var lu mat.LU
			lu.Factorize(pk1)
			var cT mat.Dense
			if err := lu.SolveTo(&cT, false, c.T()); err != nil {
				return nil, 0, fmt.Errorf("rts: %w: %v", stochlab.ErrSingularInnovation, err)
			}
			cFull.CloneFrom(cT.T())
		}

		xDiff := new(mat.Dense)
		xDiff.Sub(next.Mean, xk1)
		xCorr := new(mat.Dense)
		xCorr.Mul(&cFull, xDiff)
		xSmooth := new(mat.Dense)
		xSmooth.Add(filtered[i].Mean, xCorr)

		pDiff := new(mat.Dense)
		pDiff.Sub(next.Cov, pk1)
		pCorr := new(mat.Dense)
		pCorr.Mul(&cFull, pDiff)
		pCorr.Mul(pCorr, cFull.T())
		pSmooth := new(mat.Dense)
		pSmooth.Add(filtered[i].Cov, pCorr)

		pSym := mat.NewSymDense(nx, nil)
		for r := 0; r < nx; r++ {
			for cc := r; cc < nx; cc++ {
				pSym.SetSym(r, cc, pSmooth.At(r, cc))
			}
		}

		smoothed[i] = gauss.New(xSmooth.ColView(0), pSym)
		next = smoothed[i]
	}

	return smoothed, forwardLoglik, nil
}
