// Package weights implements the numerically stable log-weight storage used
// by every particle filter variant. It generalizes the linear weight vector
// the teacher keeps in particle/bf/bf.go (a plain []float64 normalized with
// floats.Scale(1/floats.Sum(w), w)) to log-space, which is what lets the
// particle filter avoid underflow when likelihoods are sharply peaked.
package weights

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Vector is a log-space weight vector of fixed length N. The zero value is
// not usable; construct one with New or Uniform.
type Vector struct {
	logw []float64
}

// New wraps an existing slice of log-weights. The slice is taken by
// reference, matching the teacher's preallocate-and-reuse convention for
// particle buffers (particle/bf/bf.go's w, x, y, inn fields).
func New(logw []float64) *Vector {
	return &Vector{logw: logw}
}

// Uniform returns a Vector of length n with every weight set to -log(n),
// the state a particle filter's weights are reset to after resampling and
// the state they start in at construction.
func Uniform(n int) *Vector {
	v := &Vector{logw: make([]float64, n)}
	v.ResetUniform()
	return v
}

// ResetUniform sets every log-weight to -log(N) in place, without
// reallocating the backing slice.
func (v *Vector) ResetUniform() {
	logN := -math.Log(float64(len(v.logw)))
	for i := range v.logw {
		v.logw[i] = logN
	}
}

// Len returns N, the number of particles this Vector weights.
func (v *Vector) Len() int { return len(v.logw) }

// Raw returns the underlying log-weight slice for direct read/write access
// by the particle filters' hot loops. Callers that mutate it are responsible
// for calling Normalize afterwards.
func (v *Vector) Raw() []float64 { return v.logw }

// At returns the log-weight of particle i.
func (v *Vector) At(i int) float64 { return v.logw[i] }

// Set sets the log-weight of particle i.
func (v *Vector) Set(i int, lw float64) { v.logw[i] = lw }

// AddLogweights adds delta[i] to the log-weight of particle i for every i,
// the pointwise log-density accumulation step used by correct!.
func (v *Vector) AddLogweights(delta []float64) {
	floats.Add(v.logw, delta)
}

// LogSumExp returns log(sum(exp(w))), subtracting the running maximum
// before exponentiating to avoid overflow/underflow, as required by
// spec §4.1.
func LogSumExp(w []float64) float64 {
	if len(w) == 0 {
		return math.Inf(-1)
	}
	max := floats.Max(w)
	if math.IsInf(max, -1) {
		return math.Inf(-1)
	}
	sum := 0.0
	for _, wi := range w {
		sum += math.Exp(wi - max)
	}
	return max + math.Log(sum)
}

// Normalize subtracts logsumexp(W) from every weight so that
// logsumexp(W) == 0 afterwards, and returns the pre-normalization
// logsumexp -- this is exactly the step log-likelihood contribution per
// spec §4.1. It returns false if the pre-normalization logsumexp is
// non-finite (every particle has -Inf log-weight), in which case the
// weights are left untouched and the caller should raise
// stochlab.ErrDegenerateWeights.
func (v *Vector) Normalize() (lse float64, ok bool) {
	lse = LogSumExp(v.logw)
	if math.IsInf(lse, -1) || math.IsNaN(lse) {
		return lse, false
	}
	for i := range v.logw {
		v.logw[i] -= lse
	}
	return lse, true
}

// ESS returns the effective sample size 1/sum(exp(2*w_i)) of the normalized
// weights. Callers must normalize before calling ESS; spec §4.1 invariant:
// 1 <= ESS <= N.
func (v *Vector) ESS() float64 {
	sum := 0.0
	for _, w := range v.logw {
		sum += math.Exp(2 * w)
	}
	if sum == 0 {
		return float64(len(v.logw))
	}
	return 1 / sum
}

// ExpWeights materializes exp(w_i) into dst (allocating if dst is nil) and
// returns it. This is a transient, derived view -- callers must not assume
// it stays in sync with later mutations of v.
func (v *Vector) ExpWeights(dst []float64) []float64 {
	if cap(dst) < len(v.logw) {
		dst = make([]float64, len(v.logw))
	}
	dst = dst[:len(v.logw)]
	for i, w := range v.logw {
		dst[i] = math.Exp(w)
	}
	return dst
}

// IsFinite reports whether every log-weight is finite (not NaN, not +Inf).
// -Inf is a legal log-weight for an individual particle; only Normalize's
// aggregate logsumexp check determines total degeneracy.
func (v *Vector) IsFinite() bool {
	for _, w := range v.logw {
		if math.IsNaN(w) || math.IsInf(w, 1) {
			return false
		}
	}
	return true
}
