// Package ffbs implements the forward-filter backward-simulate particle
// smoother (spec §4.9). It is new relative to the teacher -- there is no
// particle smoother in the pack -- but follows the *shape* of
// smooth/rts/rts.go's backward pass (iterate t = T-1..0, maintain a running
// smoothed estimate built from the previous one) transplanted onto particle
// clouds, normalizing the backward log-weights itself and drawing ancestor
// indices with dist.Categorical.
package ffbs

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/dist"
	"github.com/axleford/stochlab/internal/rng"
	"github.com/axleford/stochlab/model"
)

// toWeights exponentiates normalized log-weights into the linear-space
// weight vector dist.NewCategorical expects.
func toWeights(normLogw []float64) []float64 {
	w := make([]float64, len(normLogw))
	for i, lw := range normLogw {
		w[i] = math.Exp(lw)
	}
	return w
}

// History is the recorded forward-filtering trajectory a particle filter
// must retain for backward simulation: the particle cloud and normalized
// log-weights at every time step, captured after Correct but before any
// resampling collapses the weights back to uniform.
type History struct {
	X []*mat.Dense // X[t] is nx x N, particles stored as columns
	W [][]float64  // W[t] is the normalized log-weights at time t
}

// Append records one time step's post-correction particle cloud and
// weights. Callers typically call this once per step of a particle.Filter
// run, before Predict discards the previous generation.
func (h *History) Append(x *mat.Dense, logw []float64) {
	xCopy := new(mat.Dense)
	xCopy.CloneFrom(x)
	wCopy := make([]float64, len(logw))
	copy(wCopy, logw)
	h.X = append(h.X, xCopy)
	h.W = append(h.W, wCopy)
}

// Len returns the number of recorded time steps.
func (h *History) Len() int { return len(h.X) }

// Smooth draws M backward-simulated smoothed trajectories from a recorded
// forward-filtering History, using dynamics and process noise df to
// evaluate the backward transition density p(x_{t+1} | x_t^{(i)}) that
// reweights each time step's forward particles before resampling an
// ancestor. u supplies the control input active between t and t+1 (u[t];
// nil for an uncontrolled system). The result is M smoothed trajectories,
// one state vector per time step per trajectory: out[t] is nx x M.
func Smooth(h History, dynamics model.Dynamics, df dist.Distribution, params stochlab.Params, u []mat.Vector, m int, src *rng.Source) ([]*mat.Dense, error) {
	t := h.Len()
	if t == 0 {
		return nil, fmt.Errorf("ffbs: %w: empty history", stochlab.ErrInvalidConfiguration)
	}
	if m < 1 {
		return nil, fmt.Errorf("ffbs: %w: m must be >= 1, got %d", stochlab.ErrInvalidConfiguration, m)
	}

	nx, _ := h.X[t-1].Dims()
	out := make([]*mat.Dense, t)
	for i := range out {
		out[i] = mat.NewDense(nx, m, nil)
	}

	// Step 1: draw M trajectory endpoints at T-1 from the final forward
	// weights directly (no backward reweighting needed at the last step).
	lastIdx := draw(h.W[t-1], m, src)
	out[t-1] = gather(h.X[t-1], lastIdx)

	for step := t - 2; step >= 0; step-- {
		var ut mat.Vector
		if u != nil && step < len(u) {
			ut = u[step]
		}
		_, n := h.X[step].Dims()

		next := out[step+1] // nx x m, the already-chosen states at step+1

		for j := 0; j < m; j++ {
			xNextJ := next.ColView(j)
			logw := make([]float64, n)
			for i := 0; i < n; i++ {
				xi := h.X[step].ColView(i)
				pred, err := dynamics(xi, ut, params, step)
				if err != nil {
					return nil, fmt.Errorf("ffbs: dynamics failed at t=%d: %w", step, err)
				}
				resid := mat.NewVecDense(nx, nil)
				resid.SubVec(xNextJ, pred)
				logw[i] = h.W[step][i] + df.LogPdf(resid)
			}
			normalized := normalize(logw)
			idx := drawOne(normalized, src)
			out[step].SetCol(j, mat.Col(nil, idx, h.X[step]))
		}
	}

	return out, nil
}

func draw(logw []float64, m int, src *rng.Source) []int {
	norm := normalize(logw)
	cat := dist.NewCategorical(toWeights(norm))
	idx := make([]int, m)
	for j := 0; j < m; j++ {
		idx[j] = cat.Draw(src)
	}
	return idx
}

func drawOne(normLogw []float64, src *rng.Source) int {
	return dist.NewCategorical(toWeights(normLogw)).Draw(src)
}

func gather(x *mat.Dense, idx []int) *mat.Dense {
	nx, _ := x.Dims()
	out := mat.NewDense(nx, len(idx), nil)
	for j, i := range idx {
		out.SetCol(j, mat.Col(nil, i, x))
	}
	return out
}

func normalize(logw []float64) []float64 {
	out := make([]float64, len(logw))
	copy(out, logw)
	max := out[0]
	for _, v := range out {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for _, v := range out {
		sum += math.Exp(v - max)
	}
	lse := max + math.Log(sum)
	for i := range out {
		out[i] -= lse
	}
	return out
}
