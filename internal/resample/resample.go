// Package resample implements the systematic resampling scheme used by the
// particle filter family. It keeps the CDF-plus-binary-search shape of the
// teacher's rand.RouletteDrawN (gonum-backed rand/rand.go), which builds a
// cumulative distribution with floats.CumSum and locates draws with
// sort.Search, but replaces the teacher's many-independent-uniform-draws
// roulette wheel with the single-uniform, low-variance systematic scheme
// spec §4.2 requires.
package resample

import (
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

// Systematic draws len(logw) resampling indices from the categorical
// distribution defined by normalized log-weights logw, using a single
// uniform draw u ~ U(0, 1/N) and the deterministic grid u+k/N for
// k=0..N-1. It returns a permutation-with-repetition of {0..N-1}.
//
// logw must already be normalized (logsumexp(logw) == 0); Systematic
// exponentiates and renormalizes defensively against floating point drift.
// It reports no degeneracy: if every weight exponentiates to zero it draws
// from uniform weights instead. Callers detect degeneracy beforehand via
// weights.Vector.Normalize.
func Systematic(logw []float64, src rand.Source) []int {
	n := len(logw)
	w := make([]float64, n)
	for i, lw := range logw {
		w[i] = expClamped(lw)
	}
	total := floats.Sum(w)
	if total <= 0 {
		// Degenerate input; fall back to a uniform draw rather than
		// dividing by zero. Callers should not normally reach this since
		// weights.Vector.Normalize already rejects all -Inf weights.
		for i := range w {
			w[i] = 1
		}
		total = float64(n)
	}

	cdf := make([]float64, n)
	floats.CumSum(cdf, w)
	for i := range cdf {
		cdf[i] /= total
	}
	cdf[n-1] = 1.0 // guard against floating point drift leaving cdf[n-1] < 1

	u0 := rand.New(src).Float64() / float64(n)
	return systematicIndices(cdf, u0, n)
}

// systematicIndices applies the deterministic grid u0+k/N, k=0..n-1 against
// an already-normalized cdf (cdf[n-1] == 1.0). Factored out from Systematic
// so the inverse-CDF boundary convention -- cdf[i] >= target, not cdf[i] >
// target -- can be pinned directly against exact target values in tests,
// independent of floating point noise in the log-weight -> cdf conversion.
func systematicIndices(cdf []float64, u0 float64, n int) []int {
	idx := make([]int, n)
	for k := 0; k < n; k++ {
		target := u0 + float64(k)/float64(n)
		idx[k] = sort.Search(n, func(i int) bool { return cdf[i] >= target })
		if idx[k] == n {
			idx[k] = n - 1
		}
	}
	return idx
}

func expClamped(lw float64) float64 {
	if lw < -700 {
		return 0
	}
	return math.Exp(lw)
}
