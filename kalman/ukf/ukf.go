// Package ukf implements the Unscented (sigma-point) Kalman Filter:
// stochlab's UnscentedKalmanFilter (spec §4.7). It generalizes the teacher's
// kalman/ukf/ukf.go almost line for line -- SigmaPoints, GenSigmaPoints,
// propagateSigmaPoints, predictCovariance, the Wm0/Wc0/W weight scheme and
// gamma scaling -- but takes general nonlinear model.Dynamics/
// model.Measurement callables in place of the teacher's fixed-matrix
// filter.DiscreteModel, and adds a Cholesky-first, epsilon-jitter-retry
// square root as the fast path before falling back to the teacher's SVD
// route.
package ukf

import (
	"fmt"
	"math"

	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/dist"
	"github.com/axleford/stochlab/gauss"
	"github.com/axleford/stochlab/model"
)

// SigmaPoints holds a UKF sigma point set and its covariance.
type SigmaPoints struct {
	X   *mat.Dense
	Cov *mat.SymDense
}

type sigmaPointsNext struct {
	x     *mat.Dense
	xMean *mat.VecDense
}

// Config contains the UKF's unitless tuning parameters.
type Config struct {
	// Alpha spreads the sigma points around the mean, in (0,1].
	Alpha float64
	// Beta incorporates prior knowledge of the state distribution; 2 is
	// optimal for Gaussian states.
	Beta float64
	// Kappa is a secondary scaling parameter, must be non-negative.
	Kappa float64
}

// UKF is the unscented Kalman filter.
type UKF struct {
	dynamics    model.Dynamics
	measurement model.Measurement
	params      stochlab.Params
	q, r        *dist.Gaussian

	init *gauss.Belief // retained for Reset

	gamma float64
	Wm0   float64
	Wc0   float64
	W     float64

	sp     *SigmaPoints
	spNext *sigmaPointsNext

	x     *mat.VecDense
	p     *mat.SymDense
	pNext *mat.SymDense
	inn   *mat.VecDense
	k     *mat.Dense

	nx, ny int
	t      int
	loglik float64
}

// New creates a UKF. dynamics and measurement may be nonlinear; q and r may
// be nil for a noiseless process or measurement channel.
func New(dynamics model.Dynamics, measurement model.Measurement, init *gauss.Belief, q, r *dist.Gaussian, params stochlab.Params, c Config) (*UKF, error) {
	if dynamics == nil || measurement == nil {
		return nil, fmt.Errorf("ukf: %w: dynamics and measurement are required", stochlab.ErrInvalidConfiguration)
	}
	if init == nil {
		return nil, fmt.Errorf("ukf: %w: init is required", stochlab.ErrInvalidConfiguration)
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		return nil, fmt.Errorf("ukf: %w: alpha must be in (0,1], got %f", stochlab.ErrInvalidConfiguration, c.Alpha)
	}
	if c.Kappa < 0 {
		return nil, fmt.Errorf("ukf: %w: kappa must be non-negative, got %f", stochlab.ErrInvalidConfiguration, c.Kappa)
	}

	nx := init.Mean.Len()
	ny := 0
	if r != nil {
		ny = r.Dim()
	}

	spDim := nx
	qCov := zeroSym(nx)
	if q != nil {
		if q.Dim() != nx {
			return nil, fmt.Errorf("ukf: %w: process noise dimension %d, want %d", stochlab.ErrDimensionMismatch, q.Dim(), nx)
		}
		qCov = q.Cov()
		spDim += q.Dim()
	}
	rCov := zeroSym(ny)
	if r != nil {
		rCov = r.Cov()
		spDim += r.Dim()
	}

	lambda := c.Alpha*c.Alpha*(float64(spDim)+c.Kappa) - float64(spDim)
	gamma := math.Sqrt(float64(spDim) + lambda)
	Wm0 := lambda / (float64(spDim) + lambda)
	Wc0 := Wm0 + (1 - c.Alpha*c.Alpha + c.Beta)
	W := 1 / (2 * (float64(spDim) + lambda))

	x := mat.NewDense(spDim, 2*spDim+1, nil)
	cov := matrix.BlockSymDiag([]mat.Symmetric{init.Cov, qCov, rCov})

	xPred := mat.NewDense(nx, 2*spDim+1, nil)
	xMean := mat.NewVecDense(nx, nil)

	p := mat.NewSymDense(nx, nil)
	p.CopySym(init.Cov)
	pNext := mat.NewSymDense(nx, nil)
	pNext.CopySym(init.Cov)

	xv := mat.NewVecDense(nx, nil)
	xv.CopyVec(init.Mean)

	return &UKF{
		dynamics:    dynamics,
		measurement: measurement,
		params:      params,
		q:           q,
		r:           r,
		init:        init.Clone(),
		gamma:       gamma,
		Wm0:         Wm0,
		Wc0:         Wc0,
		W:           W,
		sp:          &SigmaPoints{X: x, Cov: cov},
		spNext:      &sigmaPointsNext{x: xPred, xMean: xMean},
		x:           xv,
		p:           p,
		pNext:       pNext,
		inn:         mat.NewVecDense(ny, nil),
		k:           mat.NewDense(nx, ny, nil),
		nx:          nx,
		ny:          ny,
	}, nil
}

func zeroSym(n int) *mat.SymDense {
	return mat.NewSymDense(n, nil)
}

// Time returns the filter's current time index.
func (k *UKF) Time() int { return k.t }

// Loglik returns the cumulative log-likelihood since construction or the
// last Reset.
func (k *UKF) Loglik() float64 { return k.loglik }

// State implements stochlab.Estimator. Note that Predict sets k.x to the
// deterministic point dynamics(x) rather than the sigma-point mean
// spNext.xMean that Correct's gain computation is actually centered on, so a
// caller reading State() between a Predict and its matching Correct sees a
// slightly different value than the one Correct will correct from.
func (k *UKF) State() mat.Vector { return k.x }

// Covariance implements stochlab.Estimator.
func (k *UKF) Covariance() mat.Symmetric { return k.p }

// Gain returns the Kalman gain computed by the most recent Correct call.
func (k *UKF) Gain() mat.Matrix {
	g := new(mat.Dense)
	g.CloneFrom(k.k)
	return g
}

// sqrtCov returns the square root S of cov such that S*S' = gamma^2*cov,
// via Cholesky with a small jitter retry (the spec's fast path), falling
// back to the teacher's SVD-based square root if both Cholesky attempts
// fail -- the teacher's rand/rand.go notes SVD is preferred generally since
// "Cholesky can be numerically unstable", so SVD remains the safety net.
func sqrtCov(cov *mat.SymDense, gamma float64) *mat.Dense {
	n := cov.Symmetric()

	var chol mat.Cholesky
	if chol.Factorize(cov) {
		var lower mat.TriDense
		lower.LFromCholesky(&chol)
		lower.Scale(gamma, &lower)
		out := new(mat.Dense)
		out.CloneFrom(&lower)
		return out
	}

	jittered := mat.NewSymDense(n, nil)
	jittered.CopySym(cov)
	eps := 1e-9
	for attempt := 0; attempt < 5; attempt++ {
		for i := 0; i < n; i++ {
			jittered.SetSym(i, i, jittered.At(i, i)+eps)
		}
		if chol.Factorize(jittered) {
			var lower mat.TriDense
			lower.LFromCholesky(&chol)
			lower.Scale(gamma, &lower)
			out := new(mat.Dense)
			out.CloneFrom(&lower)
			return out
		}
		eps *= 10
	}

	var svd mat.SVD
	svd.Factorize(cov, mat.SVDFull)
	sqrtU := new(mat.Dense)
	svd.UTo(sqrtU)
	vals := svd.Values(nil)
	for i := range vals {
		vals[i] = math.Sqrt(vals[i])
	}
	diag := mat.NewDiagDense(len(vals), vals)
	out := new(mat.Dense)
	out.Mul(sqrtU, diag)
	out.Scale(gamma, out)
	return out
}

// GenSigmaPoints generates sigma points around x using the augmented
// [state; process-noise; measurement-noise] covariance.
func (k *UKF) GenSigmaPoints(x mat.Vector) *SigmaPoints {
	rows, cols := k.sp.X.Dims()
	blocks := []mat.Symmetric{k.p}
	if k.q != nil {
		blocks = append(blocks, k.q.Cov())
	}
	if k.r != nil {
		blocks = append(blocks, k.r.Cov())
	}
	cov := matrix.BlockSymDiag(blocks)

	sqrt := sqrtCov(cov, k.gamma)

	sp := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		sp.Slice(0, rows, j, j+1).(*mat.Dense).Copy(x)
	}
	half := (cols - 1) / 2
	pos := sp.Slice(0, rows, 1, 1+half).(*mat.Dense)
	pos.Add(pos, sqrt)
	neg := sp.Slice(0, rows, 1+half, cols).(*mat.Dense)
	neg.Sub(neg, sqrt)

	return &SigmaPoints{X: sp, Cov: cov}
}

func (k *UKF) propagateSigmaPoints(sp *SigmaPoints, u mat.Vector) (*sigmaPointsNext, error) {
	_, cols := sp.X.Dims()
	x := mat.NewDense(k.nx, cols, nil)
	xMean := mat.NewVecDense(k.nx, nil)

	qLen := 0
	if k.q != nil {
		qLen = k.q.Dim()
	}

	for c := 0; c < cols; c++ {
		state := sp.X.ColView(c).(*mat.VecDense).SliceVec(0, k.nx)
		next, err := k.dynamics(state, u, k.params, k.t)
		if err != nil {
			return nil, fmt.Errorf("ukf: sigma point propagation failed: %w", err)
		}
		if qLen > 0 {
			noise := sp.X.ColView(c).(*mat.VecDense).SliceVec(k.nx, k.nx+qLen)
			next = addNoisyState(next, noise)
		}
		x.Slice(0, next.Len(), c, c+1).(*mat.Dense).Copy(next)
		if c == 0 {
			xMean.AddScaledVec(xMean, k.Wm0, next)
		} else {
			xMean.AddScaledVec(xMean, k.W, next)
		}
	}
	return &sigmaPointsNext{x: x, xMean: xMean}, nil
}

// addNoisyState adds the sigma point's noise-block perturbation to the
// propagated state x' = f(x), matching the additive-noise state-space
// convention x_{t+1} = f(x_t) + w_t: the noise column of the augmented
// sigma points must perturb the *output* of dynamics, not its input, or the
// process noise spread is attenuated (or amplified) by the dynamics
// Jacobian instead of passing through untouched.
func addNoisyState(x, noise mat.Vector) mat.Vector {
	out := mat.NewVecDense(x.Len(), nil)
	out.AddVec(x, noise)
	return out
}

func (k *UKF) predictCovariance(x *mat.Dense, xMean *mat.VecDense) *mat.SymDense {
	rows, cols := x.Dims()
	predCov := mat.NewSymDense(rows, nil)
	diff := mat.NewVecDense(rows, nil)
	outer := mat.NewDense(rows, rows, nil)

	for c := 0; c < cols; c++ {
		diff.SubVec(x.ColView(c), xMean)
		outer.Mul(diff, diff.T())
		w := k.W
		if c == 0 {
			w = k.Wc0
		}
		for i := 0; i < rows; i++ {
			for j := i; j < rows; j++ {
				predCov.SetSym(i, j, predCov.At(i, j)+w*outer.At(i, j))
			}
		}
	}
	return predCov
}

// Reset reinitializes the filter to its construction-time belief, zeroing t
// and the accumulated log-likelihood. It implements stochlab.Estimator; use
// ReInit to reinitialize to a different belief.
func (k *UKF) Reset() error {
	return k.ReInit(k.init)
}

// ReInit reinitializes the filter to init, zeroing t and the accumulated
// log-likelihood, and becomes the belief future Reset calls restore.
func (k *UKF) ReInit(init *gauss.Belief) error {
	if init.Mean.Len() != k.nx {
		return fmt.Errorf("ukf: %w", stochlab.ErrDimensionMismatch)
	}
	k.x.CopyVec(init.Mean)
	k.p.CopySym(init.Cov)
	k.pNext.CopySym(init.Cov)
	k.init = init.Clone()
	k.t = 0
	k.loglik = 0
	return nil
}

// Predict generates sigma points around the current state, propagates them
// through the nonlinear dynamics, and updates the predicted mean and
// covariance, advancing t.
func (k *UKF) Predict(u mat.Vector) error {
	sp := k.GenSigmaPoints(k.x)

	xNext, err := k.dynamics(k.x, u, k.params, k.t)
	if err != nil {
		return fmt.Errorf("ukf: dynamics failed: %w", err)
	}

	spNext, err := k.propagateSigmaPoints(sp, u)
	if err != nil {
		return err
	}
	cov := k.predictCovariance(spNext.x, spNext.xMean)

	k.sp = sp
	k.spNext = spNext
	k.pNext.CopySym(cov)
	k.x.CopyVec(xNext)
	k.t++
	return nil
}

// Correct absorbs measurement y, propagating the predicted sigma points
// through the (possibly nonlinear) measurement model and forming the
// cross/output covariances needed for the Kalman gain, then returns the
// incremental log marginal likelihood.
func (k *UKF) Correct(u, y mat.Vector) (float64, error) {
	if y.Len() != k.ny {
		return 0, fmt.Errorf("ukf: %w: measurement has length %d, want %d", stochlab.ErrDimensionMismatch, y.Len(), k.ny)
	}
	if k.t == 0 {
		// No Predict has run since construction or the last Reset: correct
		// from sigma points generated around the current belief itself.
		sp := k.GenSigmaPoints(k.x)
		_, spCols := sp.X.Dims()
		x := mat.NewDense(k.nx, spCols, nil)
		x.Copy(sp.X.Slice(0, k.nx, 0, spCols))
		xMean := mat.NewVecDense(k.nx, nil)
		xMean.CopyVec(k.x)
		k.spNext = &sigmaPointsNext{x: x, xMean: xMean}
	}
	_, cols := k.spNext.x.Dims()

	yOut := mat.NewDense(k.ny, cols, nil)
	yMean := mat.NewVecDense(k.ny, nil)

	for c := 0; c < cols; c++ {
		out, err := k.measurement(k.spNext.x.ColView(c), u, k.params, k.t)
		if err != nil {
			return 0, fmt.Errorf("ukf: measurement failed: %w", err)
		}
		yOut.Slice(0, out.Len(), c, c+1).(*mat.Dense).Copy(out)
		w := k.W
		if c == 0 {
			w = k.Wm0
		}
		yMean.AddScaledVec(yMean, w, out)
	}

	pxy := mat.NewDense(k.nx, k.ny, nil)
	pyy := mat.NewDense(k.ny, k.ny, nil)
	dx := mat.NewVecDense(k.nx, nil)
	dy := mat.NewVecDense(k.ny, nil)
	covxy := mat.NewDense(k.nx, k.ny, nil)
	covyy := mat.NewDense(k.ny, k.ny, nil)

	for c := 0; c < cols; c++ {
		dx.SubVec(k.spNext.x.ColView(c), k.spNext.xMean)
		dy.SubVec(yOut.ColView(c), yMean)
		covxy.Mul(dx, dy.T())
		covyy.Mul(dy, dy.T())
		w := k.W
		if c == 0 {
			w = k.Wc0
		}
		covxy.Scale(w, covxy)
		covyy.Scale(w, covyy)
		pxy.Add(pxy, covxy)
		pyy.Add(pyy, covyy)
	}
	if k.r != nil {
		pyy.Add(pyy, k.r.Cov())
	}

	pyySym := mat.NewSymDense(k.ny, nil)
	for i := 0; i < k.ny; i++ {
		for j := i; j < k.ny; j++ {
			pyySym.SetSym(i, j, (pyy.At(i, j)+pyy.At(j, i))/2)
		}
	}

	gain := new(mat.Dense)
	var chol mat.Cholesky
	if chol.Factorize(pyySym) {
		var gainT mat.Dense
		if err := chol.SolveTo(&gainT, pxy.T()); err != nil {
			return 0, fmt.Errorf("ukf: %w: %v", stochlab.ErrSingularInnovation, err)
		}
		gain.CloneFrom(gainT.T())
	} else {
		var lu mat.LU
		lu.Factorize(pyy)
		var gainT mat.Dense
		if err := lu.SolveTo(&gainT, false, pxy.T()); err != nil {
			return 0, fmt.Errorf("ukf: %w: %v", stochlab.ErrSingularInnovation, err)
		}
		gain.CloneFrom(gainT.T())
	}

	inn := mat.NewVecDense(k.ny, nil)
	inn.SubVec(y, yMean)

	corr := new(mat.Dense)
	corr.Mul(gain, inn)
	k.x.AddVec(k.spNext.xMean, corr.ColView(0))

	kp := new(mat.Dense)
	kp.Mul(gain, pyy)
	pCorr := new(mat.Dense)
	pCorr.Mul(kp, gain.T())
	pCorr.Sub(k.pNext, pCorr)

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

// Run performs one atomic Correct-then-Predict cycle.
func (k *UKF) Run(u, y mat.Vector) (float64, error) {
	return stochlab.Step(k, u, y)
}
