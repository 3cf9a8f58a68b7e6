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

// IEKF is the Iterated Extended Kalman Filter: it repeatedly relinearizes
// the measurement model around successive correction estimates rather than
// only once around the predicted state, improving accuracy when the
// measurement model's curvature is large relative to the innovation.
// Embeds *EKF, overriding Correct; Predict is inherited unchanged.
type IEKF struct {
	*EKF
	n int // number of relinearization iterations
}

// NewIter creates an IEKF wrapping a freshly constructed EKF, iterating the
// measurement update n times per Correct call. n must be positive.
func NewIter(dynamics model.Dynamics, measurement model.Measurement, init *gauss.Belief, q, r *dist.Gaussian, ny, n int) (*IEKF, error) {
	if n <= 0 {
		return nil, fmt.Errorf("ekf: %w: number of iterations must be positive, got %d", stochlab.ErrInvalidConfiguration, n)
	}
	f, err := New(dynamics, measurement, init, q, r, ny)
	if err != nil {
		return nil, err
	}
	return &IEKF{EKF: f, n: n}, nil
}

// Correct absorbs measurement y given control input u by iterating the
// linearized measurement update n times, relinearizing the observation
// Jacobian around each successive estimate x_i and applying the standard
// iterated-update correction
//
//	x_{i+1} = x0 + K_i*(y - h(x_i) - H_i*(x0 - x_i))
//
// where x0 is the predicted (pre-correction) state. It returns the
// incremental log marginal likelihood evaluated at the final iterate's
// linearization, matching EKF.Correct's convention.
func (k *IEKF) Correct(u, y mat.Vector) (float64, error) {
	if y.Len() != k.ny {
		return 0, fmt.Errorf("ekf: %w: measurement has length %d, want %d", stochlab.ErrDimensionMismatch, y.Len(), k.ny)
	}

	x0 := mat.NewVecDense(k.nx, nil)
	x0.CopyVec(k.x)

	xi := mat.NewVecDense(k.nx, nil)
	xi.CopyVec(k.x)

	var gain *mat.Dense
	var pyySym *mat.SymDense

	for iter := 0; iter < k.n; iter++ {
		yHatI, err := k.measurement(xi, u, nil, k.t)
		if err != nil {
			return 0, fmt.Errorf("ekf: measurement failed: %w", err)
		}

		fd.Jacobian(k.h, k.obsJacFn(u), mat.Col(nil, 0, xi), &fd.JacobianSettings{
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

		pyySym = mat.NewSymDense(k.ny, nil)
		for i := 0; i < k.ny; i++ {
			for j := i; j < k.ny; j++ {
				pyySym.SetSym(i, j, (pyy.At(i, j)+pyy.At(j, i))/2)
			}
		}

		var err2 error
		gain, err2 = k.kalmanGain(pxy, pyy, pyySym)
		if err2 != nil {
			return 0, err2
		}

		diff := new(mat.Dense)
		diff.Sub(x0, xi)
		hdiff := new(mat.Dense)
		hdiff.Mul(k.h, diff)

		resid := mat.NewVecDense(k.ny, nil)
		resid.SubVec(y, yHatI)
		resid.SubVec(resid, hdiff.ColView(0))

		corr := new(mat.Dense)
		corr.Mul(gain, resid)

		next := mat.NewVecDense(k.nx, nil)
		next.AddVec(x0, corr.ColView(0))
		xi = next
	}

	k.x.CopyVec(xi)

	pCorr := k.josephCorrect(gain)
	for i := 0; i < k.nx; i++ {
		for j := i; j < k.nx; j++ {
			k.p.SetSym(i, j, pCorr.At(i, j))
		}
	}

	finalInn := mat.NewVecDense(k.ny, nil)
	finalYHat, err := k.measurement(xi, u, nil, k.t)
	if err != nil {
		return 0, fmt.Errorf("ekf: measurement failed: %w", err)
	}
	finalInn.SubVec(y, finalYHat)
	k.inn.CopyVec(finalInn)
	k.k.Copy(gain)

	zero := mat.NewVecDense(k.ny, nil)
	noise, _ := dist.NewGaussian(zero, pyySym)
	ll := noise.LogPdf(finalInn)
	k.loglik += ll
	return ll, nil
}

// Run performs one atomic Correct-then-Predict cycle.
func (k *IEKF) Run(u, y mat.Vector) (float64, error) {
	return stochlab.Step(k, u, y)
}
