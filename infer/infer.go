// Package infer provides likelihood-based inference over stochlab
// estimators: running a filter across a full observation series to
// accumulate a log-likelihood, wrapping that as a function of a parameter
// vector, and sampling from the implied posterior with a symmetric-proposal
// Metropolis-Hastings walk. This layer has no teacher analogue -- the pack
// only ever runs filters forward one step at a time -- so it is specified
// here at interface level only (spec §1), grounded on the pack's existing
// concurrency idiom for the threaded sampler: smooth/erts/erts.go's
// gonum.org/v1/gonum/diff/fd Concurrent worker pool, generalized into a
// fixed pool of goroutines each owning private filter/RNG state.
package infer

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
	"github.com/axleford/stochlab/internal/rng"
)

// Loglik runs estimator f across the full observation series y (with
// matching control inputs u, u[t] may be shorter than y and will repeat its
// last element; nil for uncontrolled systems), accumulating and returning
// the total log marginal likelihood via repeated stochlab.Step calls.
func Loglik(f stochlab.Estimator, u, y []mat.Vector) (float64, error) {
	total := 0.0
	for t, yt := range y {
		var ut mat.Vector
		if u != nil {
			if t < len(u) {
				ut = u[t]
			} else {
				ut = u[len(u)-1]
			}
		}
		ll, err := stochlab.Step(f, ut, yt)
		if err != nil {
			return 0, fmt.Errorf("infer: step %d failed: %w", t, err)
		}
		total += ll
	}
	return total, nil
}

// Builder constructs a fresh, independent Estimator for parameter vector
// theta. It must be safe to call concurrently from multiple goroutines (each
// call must return a filter with its own private state): the log-target
// returned by LogLikelihoodFun calls it once per evaluation, and
// MetropolisThreaded evaluates such a log-target from several goroutines.
type Builder func(theta mat.Vector) (stochlab.Estimator, error)

// LogLikelihoodFun returns a function of a parameter vector theta that
// builds a fresh estimator via build, runs it across u/y via Loglik, and
// returns the resulting log-likelihood. Errors from build or Loglik (e.g. a
// parameter value producing a singular innovation covariance) are reported
// as -Inf, the conventional way to reject an invalid parameter inside a
// Metropolis acceptance ratio without aborting the chain.
func LogLikelihoodFun(build Builder, u, y []mat.Vector) func(theta mat.Vector) float64 {
	return func(theta mat.Vector) float64 {
		f, err := build(theta)
		if err != nil {
			return math.Inf(-1)
		}
		ll, err := Loglik(f, u, y)
		if err != nil {
			return math.Inf(-1)
		}
		return ll
	}
}

// Result is the outcome of a Metropolis-Hastings run.
type Result struct {
	Samples    []*mat.VecDense
	LogLiks    []float64
	Accepted   int
	Iterations int
}

// AcceptanceRate returns the fraction of proposals accepted.
func (r Result) AcceptanceRate() float64 {
	if r.Iterations == 0 {
		return 0
	}
	return float64(r.Accepted) / float64(r.Iterations)
}

// Metropolis runs a single-chain, symmetric-proposal Metropolis sampler
// targeting logTarget (typically a LogLikelihoodFun plus a log-prior), for
// iters iterations starting from init, proposing theta' = theta + step,
// where step is drawn from propose at every iteration.
func Metropolis(logTarget func(theta mat.Vector) float64, init *mat.VecDense, propose func(src *rng.Source) *mat.VecDense, iters int, src *rng.Source) Result {
	theta := mat.NewVecDense(init.Len(), nil)
	theta.CopyVec(init)
	ll := logTarget(theta)

	res := Result{
		Samples:    make([]*mat.VecDense, 0, iters),
		LogLiks:    make([]float64, 0, iters),
		Iterations: iters,
	}

	for i := 0; i < iters; i++ {
		step := propose(src)
		cand := mat.NewVecDense(theta.Len(), nil)
		cand.AddVec(theta, step)

		candLL := logTarget(cand)
		logAlpha := candLL - ll
		if logAlpha >= 0 || math.Log(src.Float64()) < logAlpha {
			theta = cand
			ll = candLL
			res.Accepted++
		}

		sample := mat.NewVecDense(theta.Len(), nil)
		sample.CopyVec(theta)
		res.Samples = append(res.Samples, sample)
		res.LogLiks = append(res.LogLiks, ll)
	}

	return res
}

// MetropolisThreaded runs nChains independent Metropolis chains concurrently
// over a fixed worker pool sized to runtime.GOMAXPROCS(0). Each chain draws
// its own child source from src.Child(chain), keyed on the chain's index
// rather than on whichever worker happens to dequeue it, so results are
// reproducible given the same seed regardless of scheduling or worker
// count. inits supplies each chain's starting point; len(inits) must equal
// nChains.
func MetropolisThreaded(logTarget func(theta mat.Vector) float64, inits []*mat.VecDense, propose func(src *rng.Source) *mat.VecDense, iters int, src *rng.Source) ([]Result, error) {
	nChains := len(inits)
	if nChains == 0 {
		return nil, fmt.Errorf("infer: %w: no chains requested", stochlab.ErrInvalidConfiguration)
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > nChains {
		workers = nChains
	}

	results := make([]Result, nChains)
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chain := range jobs {
				chainSrc := src.Child(chain)
				results[chain] = Metropolis(logTarget, inits[chain], propose, iters, chainSrc)
			}
		}()
	}

	for c := 0; c < nChains; c++ {
		jobs <- c
	}
	close(jobs)
	wg.Wait()

	return results, nil
}
