// Package kf implements the discrete-time linear-Gaussian Kalman filter:
// stochlab's KalmanFilter (spec §4.6). It generalizes the teacher's
// kalman/kf/kf.go, keeping its Predict/Update/Run shape, field layout
// (p, pNext, inn, k) and Joseph-form covariance correction, but accepting a
// model.LinearModel (optionally time-varying) in place of the teacher's
// fixed-matrix filter.DiscreteControlSystem, and a gauss.Belief in place of
// filter.InitCond.
package kf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/dist"
	"github.com/axleford/stochlab/gauss"
	"github.com/axleford/stochlab/model"
)

// KF is the linear-Gaussian Kalman filter.
type KF struct {
	m *model.LinearModel
	q *dist.Gaussian // process noise, nil means zero process noise
	r *dist.Gaussian // measurement noise, nil means zero measurement noise

	init *gauss.Belief // retained for Reset

	x     *mat.VecDense
	p     *mat.SymDense
	pNext *mat.SymDense
	inn   *mat.VecDense
	k     *mat.Dense

	t      int
	loglik float64
}

// New creates a KF. init carries the filter's initial state and covariance;
// q and r may be nil for a noiseless process or measurement channel.
func New(m *model.LinearModel, init *gauss.Belief, q, r *dist.Gaussian) (*KF, error) {
	nx, _, ny := m.Dims()
	if init == nil {
		return nil, fmt.Errorf("kf: %w: init is required", stochlab.ErrInvalidConfiguration)
	}
	if init.Mean.Len() != nx {
		return nil, fmt.Errorf("kf: %w: init state has length %d, want %d", stochlab.ErrDimensionMismatch, init.Mean.Len(), nx)
	}
	if q != nil && q.Dim() != nx {
		return nil, fmt.Errorf("kf: %w: process noise dimension %d, want %d", stochlab.ErrDimensionMismatch, q.Dim(), nx)
	}
	if r != nil && r.Dim() != ny {
		return nil, fmt.Errorf("kf: %w: measurement noise dimension %d, want %d", stochlab.ErrDimensionMismatch, r.Dim(), ny)
	}

	x := mat.NewVecDense(nx, nil)
	x.CopyVec(init.Mean)

	p := mat.NewSymDense(nx, nil)
	p.CopySym(init.Cov)
	pNext := mat.NewSymDense(nx, nil)
	pNext.CopySym(init.Cov)

	return &KF{
		m:     m,
		q:     q,
		r:     r,
		init:  init.Clone(),
		x:     x,
		p:     p,
		pNext: pNext,
		inn:   mat.NewVecDense(ny, nil),
		k:     mat.NewDense(nx, ny, nil),
	}, nil
}

// Time returns the filter's current time index.
func (k *KF) Time() int { return k.t }

// Loglik returns the cumulative log-likelihood since construction or the
// last Reset.
func (k *KF) Loglik() float64 { return k.loglik }

// State implements stochlab.Estimator.
func (k *KF) State() mat.Vector { return k.x }

// Covariance implements stochlab.Estimator. It returns the last *corrected*
// covariance; after a Predict call with no matching Correct yet, the freshly
// predicted covariance lives in an internal buffer, not here. Run,
// stochlab.Step and trajectory.ForwardTrajectory end every step with
// Predict, so after them State returns the predicted mean while Covariance
// still returns the corrected covariance of the step just completed.
func (k *KF) Covariance() mat.Symmetric { return k.p }

// Gain returns the Kalman gain computed by the most recent Correct call.
func (k *KF) Gain() mat.Matrix {
	g := new(mat.Dense)
	g.CloneFrom(k.k)
	return g
}

// Innovation returns the innovation (measurement residual) from the most
// recent Correct call.
func (k *KF) Innovation() mat.Vector {
	v := mat.NewVecDense(k.inn.Len(), nil)
	v.CopyVec(k.inn)
	return v
}

// Reset reinitializes the filter to its construction-time belief, zeroing t
// and the accumulated log-likelihood. It implements stochlab.Estimator; use
// ReInit to reinitialize to a different belief.
func (k *KF) Reset() error {
	return k.ReInit(k.init)
}

// ReInit reinitializes the filter to init, zeroing t and the accumulated
// log-likelihood, and becomes the belief future Reset calls restore.
func (k *KF) ReInit(init *gauss.Belief) error {
	if init.Mean.Len() != k.x.Len() {
		return fmt.Errorf("kf: %w", stochlab.ErrDimensionMismatch)
	}
	k.x.CopyVec(init.Mean)
	k.p.CopySym(init.Cov)
	k.pNext.CopySym(init.Cov)
	k.init = init.Clone()
	k.t = 0
	k.loglik = 0
	return nil
}

// Predict propagates the state estimate and covariance through the model's
// linear dynamics x' = A(t)*x + B(t)*u, P' = A*P*A' + Q, and advances t.
func (k *KF) Predict(u mat.Vector) error {
	A := k.m.StateMatrix(k.t)
	nx, _, _ := k.m.Dims()

	xNext := new(mat.Dense)
	xNext.Mul(A, k.x)
	if B := k.m.ControlMatrix(k.t); B != nil && u != nil {
		bu := new(mat.Dense)
		bu.Mul(B, u)
		xNext.Add(xNext, bu)
	}

	cov := new(mat.Dense)
	cov.Mul(A, k.p)
	cov.Mul(cov, A.T())
	if k.q != nil {
		cov.Add(cov, k.q.Cov())
	}

	for i := 0; i < nx; i++ {
		for j := i; j < nx; j++ {
			k.pNext.SetSym(i, j, cov.At(i, j))
		}
	}
	k.x.CopyVec(xNext.ColView(0))
	k.t++
	return nil
}

// Correct absorbs measurement y given control input u, updating the state
// estimate and covariance via the Kalman gain with Joseph-form covariance
// correction, and returns the incremental log marginal likelihood under the
// Gaussian innovation distribution N(0, Pyy).
func (k *KF) Correct(u, y mat.Vector) (float64, error) {
	nx, _, ny := k.m.Dims()
	if y.Len() != ny {
		return 0, fmt.Errorf("kf: %w: measurement has length %d, want %d", stochlab.ErrDimensionMismatch, y.Len(), ny)
	}

	C := k.m.OutputMatrix(k.t)
	yHat := new(mat.Dense)
	yHat.Mul(C, k.x)
	if D := k.m.FeedthroughMatrix(k.t); D != nil && u != nil {
		du := new(mat.Dense)
		du.Mul(D, u)
		yHat.Add(yHat, du)
	}

	pxy := mat.NewDense(nx, ny, nil)
	pxy.Mul(k.pNext, C.T())

	pyy := mat.NewDense(ny, ny, nil)
	pyy.Mul(C, pxy)
	if k.r != nil {
		pyy.Add(pyy, k.r.Cov())
	}

	pyySym := mat.NewSymDense(ny, nil)
	for i := 0; i < ny; i++ {
		for j := i; j < ny; j++ {
			pyySym.SetSym(i, j, (pyy.At(i, j)+pyy.At(j, i))/2)
		}
	}

	gain := new(mat.Dense)
	var chol mat.Cholesky
	if chol.Factorize(pyySym) {
		var gainT mat.Dense
		if err := chol.SolveTo(&gainT, pxy.T()); err != nil {
			return 0, fmt.Errorf("kf: %w: %v", stochlab.ErrSingularInnovation, err)
		}
		gain.CloneFrom(gainT.T())
	} else {
		var lu mat.LU
		lu.Factorize(pyy)
		var gainT mat.Dense
		if err := lu.SolveTo(&gainT, false, pxy.T()); err != nil {
			return 0, fmt.Errorf("kf: %w: %v", stochlab.ErrSingularInnovation, err)
		}
		gain.CloneFrom(gainT.T())
	}

	inn := mat.NewVecDense(ny, nil)
	inn.SubVec(y, yHat.ColView(0))

	corr := new(mat.Dense)
	corr.Mul(gain, inn)
	k.x.AddVec(k.x, corr.ColView(0))

	eye := mat.NewDiagDense(nx, nil)
	for i := 0; i < nx; i++ {
		eye.SetDiag(i, 1.0)
	}
	a := new(mat.Dense)
	a.Mul(gain, C)
	a.Sub(eye, a)

	ap := new(mat.Dense)
	ap.Mul(a, k.pNext)
	apa := new(mat.Dense)
	apa.Mul(ap, a.T())

	pCorr := new(mat.Dense)
	pCorr.CloneFrom(apa)
	if k.r != nil {
		kr := new(mat.Dense)
		kr.Mul(gain, k.r.Cov())
		pkrk := new(mat.Dense)
		pkrk.Mul(kr, gain.T())
		pCorr.Add(pCorr, pkrk)
	}

	for i := 0; i < nx; i++ {
		for j := i; j < nx; j++ {
			k.p.SetSym(i, j, pCorr.At(i, j))
		}
	}
	k.inn.CopyVec(inn)
	k.k.Copy(gain)

	zero := mat.NewVecDense(ny, nil)
	noise, _ := dist.NewGaussian(zero, pyySym)
	ll := noise.LogPdf(inn)
	k.loglik += ll
	return ll, nil
}

// Run performs one atomic Correct-then-Predict cycle.
func (k *KF) Run(u, y mat.Vector) (float64, error) {
	return stochlab.Step(k, u, y)
}
