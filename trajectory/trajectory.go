// Package trajectory drives an stochlab.Estimator across a time horizon, the
// way the teacher's sim package (sim/discrete_time.go, sim/system.go) drives
// a BaseModel's state and output across a simulated discrete-time run. The
// teacher only ever advances one step at a time (kf.Run/ukf.Run/bf.Run); this
// package is new relative to the teacher, adding the multi-step loop around
// the same per-step Predict/Correct call shape.
package trajectory

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/dist"
	"github.com/axleford/stochlab/internal/rng"
	"github.com/axleford/stochlab/matrix"
	"github.com/axleford/stochlab/model"
)

// Step is one entry of a simulated or filtered trajectory: the true (or
// estimated) state at time t and the measurement taken at t.
type Step struct {
	State       mat.Vector
	Measurement mat.Vector
}

// Simulate generates a ground-truth trajectory of length steps from a
// model, sampling process and measurement noise from df/dg at every step.
// u, if non-nil, supplies the control input at each step (u[t], reused past
// the end of the slice); if nil, zero control is used throughout.
func Simulate(dynamics model.Dynamics, measurement model.Measurement, x0 mat.Vector, df, dg dist.Distribution, params stochlab.Params, u []mat.Vector, steps int, src *rng.Source) ([]Step, error) {
	out := make([]Step, steps)
	x := mat.NewVecDense(x0.Len(), nil)
	x.CopyVec(x0)

	for t := 0; t < steps; t++ {
		ut := controlAt(u, t)

		y, err := measurement(x, ut, params, t)
		if err != nil {
			return nil, fmt.Errorf("trajectory: measurement failed at t=%d: %w", t, err)
		}
		if dg != nil {
			y = addVec(y, dg.Sample(src))
		}

		out[t] = Step{State: cloneVec(x), Measurement: y}

		xNext, err := dynamics(x, ut, params, t)
		if err != nil {
			return nil, fmt.Errorf("trajectory: dynamics failed at t=%d: %w", t, err)
		}
		if df != nil {
			xNext = addVec(xNext, df.Sample(src))
		}
		x = cloneVec(xNext)
	}
	return out, nil
}

// ForwardTrajectory runs f across the given measurements (and, per step,
// control inputs), returning f.State() as it stands after each
// Correct-then-Predict step and the cumulative log-likelihood at the end.
// For filters whose Predict propagates the belief, each entry is the
// prediction for the next step; the corrected estimate of a step is not
// recorded, and f is not reset before the run.
func ForwardTrajectory(f stochlab.Estimator, u []mat.Vector, y []mat.Vector) ([]mat.Vector, float64, error) {
	if len(y) == 0 {
		return nil, 0, nil
	}
	states := make([]mat.Vector, len(y))
	var loglik float64
	for t, yt := range y {
		ut := controlAt(u, t)
		ll, err := stochlab.Step(f, ut, yt)
		if err != nil {
			return nil, 0, fmt.Errorf("trajectory: step %d failed: %w", t, err)
		}
		loglik += ll
		states[t] = cloneVec(f.State())
	}
	return states, loglik, nil
}

// MeanTrajectory averages a collection of equal-length state trajectories
// element-wise, useful for comparing several filter runs (e.g. multiple
// particle filter seeds) against a single ground truth.
func MeanTrajectory(trajectories [][]mat.Vector) ([]mat.Vector, error) {
	if len(trajectories) == 0 {
		return nil, fmt.Errorf("trajectory: no trajectories given")
	}
	n := len(trajectories[0])
	for _, tr := range trajectories {
		if len(tr) != n {
			return nil, fmt.Errorf("trajectory: trajectories have mismatched lengths")
		}
	}
	out := make([]mat.Vector, n)
	for t := 0; t < n; t++ {
		dim := trajectories[0][t].Len()
		sum := mat.NewVecDense(dim, nil)
		for _, tr := range trajectories {
			sum.AddVec(sum, tr[t])
		}
		sum.ScaleVec(1/float64(len(trajectories)), sum)
		out[t] = sum
	}
	return out, nil
}

// EnsembleCovariance computes, at each time step, the empirical covariance
// of an ensemble of trajectories about their cross-trajectory mean --
// useful for checking an estimator's reported Covariance against the
// spread actually observed across several independent runs (e.g. multiple
// particle filter seeds started from the same initial distribution). It
// reuses the teacher's matrix.Cov (matrix/matrix.go), built for computing
// the sample covariance of data with variables stored in rows and
// observations in columns, one call per time step.
func EnsembleCovariance(trajectories [][]mat.Vector) ([]*mat.SymDense, error) {
	if len(trajectories) < 2 {
		return nil, fmt.Errorf("trajectory: %w: need at least 2 trajectories", stochlab.ErrInvalidConfiguration)
	}
	n := len(trajectories[0])
	for _, tr := range trajectories {
		if len(tr) != n {
			return nil, fmt.Errorf("trajectory: %w: trajectories have mismatched lengths", stochlab.ErrDimensionMismatch)
		}
	}
	dim := trajectories[0][0].Len()
	out := make([]*mat.SymDense, n)
	for t := 0; t < n; t++ {
		data := mat.NewDense(dim, len(trajectories), nil)
		for i, tr := range trajectories {
			for d := 0; d < dim; d++ {
				data.Set(d, i, tr[t].AtVec(d))
			}
		}
		cov, err := matrix.Cov(data, "cols")
		if err != nil {
			return nil, fmt.Errorf("trajectory: ensemble covariance failed at t=%d: %w", t, err)
		}
		out[t] = cov
	}
	return out, nil
}

func controlAt(u []mat.Vector, t int) mat.Vector {
	if u == nil {
		return nil
	}
	if t < len(u) {
		return u[t]
	}
	return u[len(u)-1]
}

func cloneVec(v mat.Vector) *mat.VecDense {
	out := mat.NewVecDense(v.Len(), nil)
	out.CloneFromVec(v)
	return out
}

func addVec(a, b mat.Vector) mat.Vector {
	out := mat.NewVecDense(a.Len(), nil)
	out.AddVec(a, b)
	return out
}
