// Package model defines the user-supplied model callables the estimator
// engine calls into: dynamics, measurement and measurement-likelihood. It
// generalizes the teacher's model.Base/sim.BaseModel (fixed A/B/C/D matrix
// callables) to arbitrary Go functions, while keeping LinearModel as the
// linear-Gaussian convenience case kalman.KF is built around.
package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
)

// Dynamics computes the next hidden state given the current state x,
// control input u, model parameters p and time index t. It must be
// deterministic: noise is added by the caller (particle.Filter,
// kalman.KF/UKF) by drawing from a separate process-noise Distribution,
// per spec §6.
type Dynamics func(x, u mat.Vector, p stochlab.Params, t int) (mat.Vector, error)

// DynamicsNoisy is the advanced-filter variant of Dynamics that takes
// responsibility for its own noise injection: when noise is true it must
// inject state-dependent process noise itself rather than relying on a
// caller-supplied additive Distribution (spec §4.5).
type DynamicsNoisy func(x, u mat.Vector, p stochlab.Params, t int, noise bool) (mat.Vector, error)

// Measurement computes the expected measurement given state x, control
// input u, model parameters p and time index t. Deterministic, like
// Dynamics; measurement noise is added by the caller.
type Measurement func(x, u mat.Vector, p stochlab.Params, t int) (mat.Vector, error)

// MeasurementLikelihood returns the log-density of observing y given state
// x, control input u, model parameters p and time index t. It is used by
// particle.AdvancedFilter in place of an explicit measurement model plus
// additive-noise log-density, supporting non-additive measurement models
// (spec §4.5, §6). It must return a finite log-density, or -Inf only for
// observations that are truly impossible under x.
type MeasurementLikelihood func(x, u, y mat.Vector, p stochlab.Params, t int) float64

// LinearModel is a linear time-invariant (or, via the *Fn fields, linear
// time-varying) state-space model x' = A*x + B*u, y = C*x + D*u. It
// generalizes the teacher's model.Base (model/base.go) and sim.BaseModel/
// sim.System (sim/system.go, sim/discrete_time.go), which only supported
// fixed matrices, through the optional time-varying *Fn callables, which
// are checked on every matrix lookup.
type LinearModel struct {
	A, B, C, D *mat.Dense
	// AFn/BFn/CFn/DFn, when non-nil, override the corresponding fixed
	// matrix and are evaluated once per call to Dynamics/Measurement. Only
	// set these for genuinely time-varying systems; the common
	// time-invariant case should leave them nil so StateMatrix/etc. can
	// return the cached constant matrix without a function call.
	AFn, BFn, CFn, DFn func(t int) *mat.Dense

	nx, nu, ny int
}

// NewLinearModel creates a LinearModel. B and D may be nil for an
// uncontrolled system (u is then ignored). It returns
// stochlab.ErrInvalidConfiguration if A or C is nil, or if B/D are given
// with dimensions inconsistent with A/C.
func NewLinearModel(A, B, C, D *mat.Dense) (*LinearModel, error) {
	if A == nil || C == nil {
		return nil, fmt.Errorf("model: %w: A and C matrices are required", stochlab.ErrInvalidConfiguration)
	}
	nx, nxc := A.Dims()
	if nx != nxc {
		return nil, fmt.Errorf("model: %w: A must be square, got %dx%d", stochlab.ErrInvalidConfiguration, nx, nxc)
	}
	ny, nyc := C.Dims()
	if nyc != nx {
		return nil, fmt.Errorf("model: %w: C must have %d columns, got %d", stochlab.ErrInvalidConfiguration, nx, nyc)
	}
	nu := 0
	if B != nil {
		br, bc := B.Dims()
		if br != nx {
			return nil, fmt.Errorf("model: %w: B must have %d rows, got %d", stochlab.ErrInvalidConfiguration, nx, br)
		}
		nu = bc
	}
	if D != nil {
		dr, dc := D.Dims()
		if dr != ny {
			return nil, fmt.Errorf("model: %w: D must have %d rows, got %d", stochlab.ErrInvalidConfiguration, ny, dr)
		}
		if B != nil && dc != nu {
			return nil, fmt.Errorf("model: %w: D must have %d columns, got %d", stochlab.ErrInvalidConfiguration, nu, dc)
		}
	}
	return &LinearModel{A: A, B: B, C: C, D: D, nx: nx, nu: nu, ny: ny}, nil
}

// Dims returns the state, control and measurement dimensions.
func (m *LinearModel) Dims() (nx, nu, ny int) { return m.nx, m.nu, m.ny }

// StateMatrix returns A at time t (A(t) if AFn is set, else the constant A).
func (m *LinearModel) StateMatrix(t int) *mat.Dense {
	if m.AFn != nil {
		return m.AFn(t)
	}
	return m.A
}

// ControlMatrix returns B at time t, or nil if the system is uncontrolled.
func (m *LinearModel) ControlMatrix(t int) *mat.Dense {
	if m.BFn != nil {
		return m.BFn(t)
	}
	return m.B
}

// OutputMatrix returns C at time t.
func (m *LinearModel) OutputMatrix(t int) *mat.Dense {
	if m.CFn != nil {
		return m.CFn(t)
	}
	return m.C
}

// FeedthroughMatrix returns D at time t, or nil if there is no direct
// control-to-output term.
func (m *LinearModel) FeedthroughMatrix(t int) *mat.Dense {
	if m.DFn != nil {
		return m.DFn(t)
	}
	return m.D
}

// Dynamics returns the Dynamics callable x' = A(t)*x + B(t)*u for this
// model, suitable for use by particle.Filter/AuxiliaryFilter/AdvancedFilter.
func (m *LinearModel) Dynamics() Dynamics {
	return func(x, u mat.Vector, _ stochlab.Params, t int) (mat.Vector, error) {
		if x.Len() != m.nx {
			return nil, fmt.Errorf("model: %w: state has length %d, want %d", stochlab.ErrDimensionMismatch, x.Len(), m.nx)
		}
		out := new(mat.Dense)
		out.Mul(m.StateMatrix(t), x)
		if B := m.ControlMatrix(t); B != nil && u != nil {
			if u.Len() != m.nu {
				return nil, fmt.Errorf("model: %w: input has length %d, want %d", stochlab.ErrDimensionMismatch, u.Len(), m.nu)
			}
			bu := new(mat.Dense)
			bu.Mul(B, u)
			out.Add(out, bu)
		}
		return out.ColView(0), nil
	}
}

// Measurement returns the Measurement callable y = C(t)*x + D(t)*u for this
// model.
func (m *LinearModel) Measurement() Measurement {
	return func(x, u mat.Vector, _ stochlab.Params, t int) (mat.Vector, error) {
		if x.Len() != m.nx {
			return nil, fmt.Errorf("model: %w: state has length %d, want %d", stochlab.ErrDimensionMismatch, x.Len(), m.nx)
		}
		out := new(mat.Dense)
		out.Mul(m.OutputMatrix(t), x)
		if D := m.FeedthroughMatrix(t); D != nil && u != nil {
			if u.Len() != m.nu {
				return nil, fmt.Errorf("model: %w: input has length %d, want %d", stochlab.ErrDimensionMismatch, u.Len(), m.nu)
			}
			du := new(mat.Dense)
			du.Mul(D, u)
			out.Add(out, du)
		}
		return out.ColView(0), nil
	}
}
