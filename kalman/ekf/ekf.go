// Package ekf implements the Extended Kalman Filter: a first-order
// finite-difference linearization of kf.KF's predict/correct recursion
// around nonlinear model.Dynamics/model.Measurement (spec §4.6's Kalman
// family, generalized to nonlinear models the way the teacher's original
// kalman/ekf/ekf.go linearizes filter.Model.Propagate/Observe). It keeps
// kf.KF's field layout (p, pNext, inn, k) and Joseph-form covariance
// correction, replacing the teacher's numerical-differentiation-of-the-
// fixed-matrix-model approach with smooth/erts's jacFn shape applied to an
// arbitrary model.Dynamics/model.Measurement pair.
package ekf

import (
	"fmt"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/dist"
	"github.com/axleford/stochlab/gauss"
	"github.com/axleford/stochlab/model"
)

// EKF is the Extended Kalman Filter.
type EKF struct {
	dynamics    model.Dynamics
	measurement model.Measurement
	q           *dist.Gaussian // process noise, nil means zero process noise
	r           *dist.Gaussian // measurement noise, nil means zero measurement noise

	init *gauss.Belief // retained for Reset

	nx, ny int

	x     *mat.VecDense
	p     *mat.SymDense
	pNext *mat.SymDense
	inn   *mat.VecDense
	k     *mat.Dense

	f *mat.Dense // propagation Jacobian, reused across Predict calls
	h *mat.Dense // observation Jacobian, reused across Correct calls

	t      int
	loglik float64
}

// New creates an EKF around nonlinear dynamics and measurement. init
// carries the filter's initial state and covariance; q and r may be nil for
// a noiseless process or measurement channel. ny is the measurement
// dimension, needed since it cannot be recovered from dynamics/measurement
// alone.
func New(dynamics model.Dynamics, measurement model.Measurement, init *gauss.Belief, q, r *dist.Gaussian, ny int) (*EKF, error) {
	if dynamics == nil || measurement == nil {
		return nil, fmt.Errorf("ekf: %w: dynamics and measurement are required", stochlab.ErrInvalidConfiguration)
	}
	if init == nil {
		return nil, fmt.Errorf("ekf: %w: init is required", stochlab.ErrInvalidConfiguration)
	}
	if ny <= 0 {
		return nil, fmt.Errorf("ekf: %w: ny must be positive", stochlab.ErrInvalidConfiguration)
	}
	nx := init.Mean.Len()
	if q != nil && q.Dim() != nx {
		return nil, fmt.Errorf("ekf: %w: process noise dimension %d, want %d", stochlab.ErrDimensionMismatch, q.Dim(), nx)
	}
	if r != nil && r.Dim() != ny {
		return nil, fmt.Errorf("ekf: %w: measurement noise dimension %d, want %d", stochlab.ErrDimensionMismatch, r.Dim(), ny)
	}

	x := mat.NewVecDense(nx, nil)
	x.CopyVec(init.Mean)

	p := mat.NewSymDense(nx, nil)
	p.CopySym(init.Cov)
	pNext := mat.NewSymDense(nx, nil)
	pNext.CopySym(init.Cov)

	return &EKF{
		dynamics:    dynamics,
		measurement: measurement,
		q:           q,
		r:           r,
		init:        init.Clone(),
		nx:          nx,
		ny:          ny,
		x:           x,
		p:           p,
		pNext:       pNext,
		inn:         mat.NewVecDense(ny, nil),
		k:           mat.NewDense(nx, ny, nil),
		f:           mat.NewDense(nx, nx, nil),
		h:           mat.NewDense(ny, nx, nil),
	}, nil
}

// Time returns the filter's current time index.
func (k *EKF) Time() int { return k.t }

// Loglik returns the cumulative log-likelihood since construction or the
// last Reset.
func (k *EKF) Loglik() float64 { return k.loglik }

// State implements stochlab.Estimator.
func (k *EKF) State() mat.Vector { return k.x }

// Covariance implements stochlab.Estimator.
func (k *EKF) Covariance() mat.Symmetric { return k.p }

// Gain returns the Kalman gain computed by the most recent Correct call.
func (k *EKF) Gain() mat.Matrix {
	g := new(mat.Dense)
	g.CloneFrom(k.k)
	return g
}

// Innovation returns the innovation (measurement residual) from the most
// recent Correct call.
func (k *EKF) Innovation() mat.Vector {
	v := mat.NewVecDense(k.inn.Len(), nil)
	v.CopyVec(k.inn)
	return v
}

// Reset reinitializes the filter to its construction-time belief, zeroing t
// and the accumulated log-likelihood. It implements stochlab.Estimator; use
// ReInit to reinitialize to a different belief.
func (k *EKF) Reset() error {
	return k.ReInit(k.init)
}

// ReInit reinitializes the filter to init, zeroing t and the accumulated
// log-likelihood, and becomes the belief future Reset calls restore.
func (k *EKF) ReInit(init *gauss.Belief) error {
	if init.Mean.Len() != k.nx {
		return fmt.Errorf("ekf: %w", stochlab.ErrDimensionMismatch)
	}
	k.x.CopyVec(init.Mean)
	k.p.CopySym(init.Cov)
	k.pNext.CopySym(init.Cov)
	k.init = init.Clone()
	k.t = 0
	k.loglik = 0
	return nil
}

// propJacFn builds the finite-difference evaluation function for the
// propagation Jacobian around control input u at the current time.
func (k *EKF) propJacFn(u mat.Vector) func(xOut, xNow []float64) {
	return func(xOut, xNow []float64) {
		x := mat.NewVecDense(len(xNow), xNow)
		xNext, err := k.dynamics(x, u, nil, k.t)
		if err != nil {
			panic(err)
		}
		for i := range xOut {
			xOut[i] = xNext.AtVec(i)
		}
	}
}

// obsJacFn builds the finite-difference evaluation function for the
// observation Jacobian around control input u at the current time.
func (k *EKF) obsJacFn(u mat.Vector) func(y, xNow []float64) {
	return func(y, xNow []float64) {
		x := mat.NewVecDense(len(xNow), xNow)
		yNext, err := k.measurement(x, u, nil, k.t)
		if err != nil {
			panic(err)
		}
		for i := range y {
			y[i] = yNext.AtVec(i)
		}
	}
}

// Predict propagates the state estimate through the nonlinear dynamics and
// linearizes around the pre-propagation estimate to advance the covariance,
// P' = F*P*F' + Q, then advances t.
func (k *EKF) Predict(u mat.Vector) error {
	xNext, err := k.dynamics(k.x, u, nil, k.t)
	if err != nil {
		return fmt.Errorf("ekf: dynamics failed: %w", err)
	}

	fd.Jacobian(k.f, k.propJacFn(u), mat.Col(nil, 0, k.x), &fd.JacobianSettings{
		Formula:    fd.Central,
		Concurrent: true,
	})

	cov := new(mat.Dense)
	cov.Mul(k.f, k.p)
	cov.Mul(cov, k.f.T())
	if k.q != nil {
		cov.Add(cov, k.q.Cov())
	}

	for i := 0; i < k.nx; i++ {
		for j := i; j < k.nx; j++ {
			k.pNext.SetSym(i, j, cov.At(i, j))
		}
	}

	xv, ok := xNext.(*mat.VecDense)
	if !ok {
		xv = mat.NewVecDense(xNext.Len(), nil)
		xv.CloneFromVec(xNext)
	}
	k.x.CopyVec(xv)
	k.t++
	return nil
}

// Correct absorbs measurement y given control input u, linearizing the
// measurement model around the predicted state to form the Kalman gain,
// with Joseph-form covariance correction, and returns the incremental log
// marginal likelihood under the Gaussian innovation distribution N(0, Pyy).
func (k *EKF) Correct(u, y mat.Vector) (float64, error) {
	if y.Len() != k.ny {
		return 0, fmt.Errorf("ekf: %w: measurement has length %d, want %d", stochlab.ErrDimensionMismatch, y.Len(), k.ny)
	}

	yHat, err := k.measurement(k.x, u, nil, k.t)
	if err != nil {
		return 0, fmt.Errorf("ekf: measurement failed: %w", err)
	}

	fd.Jacobian(k.h, k.obsJacFn(u), mat.Col(nil, 0, k.x), &fd.JacobianSettings{
		Formula:    fd.Central,
		Concurrent: true,
	})

	pxy := mat.NewDense(k.nx, k.ny, nil)
	pxy.Mul(k.pNext, k.h.T())

	pyy := mat.NewDense(k.ny, k.ny, nil)
	pyy.Mul(k.h, pxy)
	if k.r != nil {
		pyy.Add(pyy, k.r.Cov())
	}

	pyySym := mat.NewSymDense(k.ny, nil)
	for i := 0; i < k.ny; i++ {
		for j := i; j < k.ny; j++ {
			pyySym.SetSym(i, j, (pyy.At(i, j)+pyy.At(j, i))/2)
		}
	}

	gain, err := k.kalmanGain(pxy, pyy, pyySym)
	if err != nil {
		return 0, err
	}

	inn := mat.NewVecDense(k.ny, nil)
	inn.SubVec(y, yHat)

	corr := new(mat.Dense)
	corr.Mul(gain, inn)
	k.x.AddVec(k.x, corr.ColView(0))

	pCorr := k.josephCorrect(gain)
	for i := 0; i < k.nx; i++ {
		for j := i; j < k.nx; j++ {
			k.p.SetSym(i, j, pCorr.At(i, j))
		}
	}
	k.inn.CopyVec(inn)
	k.k.Copy(gain)

	zero := mat.NewVecDense(k.ny, nil)
	noise, _ := dist.NewGaussian(zero, pyySym)
	ll := noise.LogPdf(inn)
	k.loglik += ll
	return ll, nil
}

func (k *EKF) kalmanGain(pxy, pyy *mat.Dense, pyySym *mat.SymDense) (*mat.Dense, error) {
	gain := new(mat.Dense)
	var chol mat.Cholesky
	if chol.Factorize(pyySym) {
		var gainT mat.Dense
		if err := chol.SolveTo(&gainT, pxy.T()); err != nil {
			return nil, fmt.Errorf("ekf: %w: %v", stochlab.ErrSingularInnovation, err)
		}
		gain.CloneFrom(gainT.T())
	} else {
		var lu mat.LU
		lu.Factorize(pyy)
		var gainT mat.Dense
		if err := lu.SolveTo(&gainT, false, pxy.T()); err != nil {
			return nil, fmt.Errorf("ekf: %w: %v", stochlab.ErrSingularInnovation, err)
		}
		gain.CloneFrom(gainT.T())
	}
	return gain, nil
}

// josephCorrect applies the numerically stable Joseph-form covariance
// update (I-KH)*P*(I-KH)' + K*R*K' given the Kalman gain just computed.
func (k *EKF) josephCorrect(gain *mat.Dense) *mat.Dense {
	eye := mat.NewDiagDense(k.nx, nil)
	for i := 0; i < k.nx; i++ {
		eye.SetDiag(i, 1.0)
	}
	a := new(mat.Dense)
	a.Mul(gain, k.h)
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
	return pCorr
}

// Run performs one atomic Correct-then-Predict cycle.
func (k *EKF) Run(u, y mat.Vector) (float64, error) {
	return stochlab.Step(k, u, y)
}
