// Package stochlab is a low-level state-estimation library for discrete-time
// stochastic dynamical systems. Given a dynamics model, a measurement model
// and noise distributions, it estimates a hidden state trajectory from a
// sequence of control inputs and noisy measurements using particle filters,
// Kalman filters and their variants.
package stochlab

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Sentinel errors returned by the estimator engine. Callers should match
// against these with errors.Is; concrete filters wrap them with fmt.Errorf's
// %w verb to add detail.
var (
	// ErrDimensionMismatch is returned when an input vector's size disagrees
	// with the dimensions a filter was constructed with.
	ErrDimensionMismatch = errors.New("stochlab: dimension mismatch")
	// ErrDegenerateWeights is returned when every particle has -Inf log-weight
	// after a correction step.
	ErrDegenerateWeights = errors.New("stochlab: degenerate particle weights")
	// ErrSingularInnovation is returned when a Kalman innovation covariance
	// is not positive definite even after the numerical fallback.
	ErrSingularInnovation = errors.New("stochlab: singular innovation covariance")
	// ErrNonFinite is returned when a dynamics or measurement callable
	// produces a NaN or infinite value.
	ErrNonFinite = errors.New("stochlab: non-finite value")
	// ErrInvalidConfiguration is returned at construction time for invalid
	// filter parameters (N < 1, threshold out of range, mismatched matrices).
	ErrInvalidConfiguration = errors.New("stochlab: invalid configuration")
)

// Params is an opaque bag of model parameters threaded through to dynamics,
// measurement and likelihood callables. Filters never inspect it; it exists
// so the same callable can serve both online filtering (fixed params) and
// the inference layer (params swept by the sampler).
type Params interface{}

// Estimator is the capability set shared by every filter variant in this
// module: the particle filter family and the Kalman family. Trajectory
// drivers, smoothers and the inference layer operate against this interface
// rather than against any concrete filter type, so adding a new estimator
// never touches those consumers.
type Estimator interface {
	// Predict advances the filter's internal time index and propagates its
	// belief through the dynamics model given control input u.
	Predict(u mat.Vector) error
	// Correct absorbs measurement y at the current time step given control
	// input u, refining the belief, and returns the incremental
	// log-likelihood contributed by that measurement.
	Correct(u, y mat.Vector) (float64, error)
	// State returns the current point estimate of the hidden state (the
	// weighted particle mean, or the Kalman mean).
	State() mat.Vector
	// Covariance returns the current belief's covariance (or weighted
	// particle covariance).
	Covariance() mat.Symmetric
	// Loglik returns the cumulative log-likelihood accumulated since
	// construction or the last Reset.
	Loglik() float64
	// Reset reinitializes the filter's belief from its initial-state
	// distribution and zeroes its time index and accumulated log-likelihood.
	Reset() error
	// Time returns the filter's current, monotonically increasing time index.
	Time() int
}

// Step runs one Correct-then-Predict cycle, matching the classical filtering
// convention where the current measurement refines the current state before
// the next transition is taken. It returns the log-likelihood increment
// produced by Correct.
func Step(f Estimator, u, y mat.Vector) (float64, error) {
	ll, err := f.Correct(u, y)
	if err != nil {
		return 0, err
	}
	if err := f.Predict(u); err != nil {
		return 0, err
	}
	return ll, nil
}

// CheckFinite reports whether every element of v is finite. Dynamics and
// measurement callables must never hand back NaN or ±Inf; filters call this
// on their behalf and wrap ErrNonFinite when it fails.
func CheckFinite(v mat.Vector) bool {
	n := v.Len()
	for i := 0; i < n; i++ {
		x := v.AtVec(i)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
