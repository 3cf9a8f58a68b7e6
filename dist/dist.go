// Package dist is the distribution abstraction used throughout stochlab:
// sampling and log-density evaluation for the small set of continuous and
// discrete distributions the estimator engine needs, plus a heterogeneous
// product distribution. It generalizes the teacher's noise package
// (noise/gaussian.go, noise/zero.go, noise/none.go), which only ever
// produces samples and covariances for additive Gaussian noise, to the
// spec's Distribution interface of Sample/LogPdf required by both noise
// models and measurement-likelihood models.
package dist

import (
	"gonum.org/v1/gonum/mat"

	"github.com/axleford/stochlab/internal/rng"
)

// Distribution is the common interface every noise model and likelihood
// model in stochlab satisfies: draw a sample given a random source, and
// evaluate a log-density at a point. Implementations must be immutable
// value-ish types safe to share read-only across filter instances (spec §5).
type Distribution interface {
	// Sample draws one value from the distribution using src.
	Sample(src *rng.Source) mat.Vector
	// LogPdf returns the log-density of x under the distribution, or
	// negative infinity for values outside its support.
	LogPdf(x mat.Vector) float64
	// Dim returns the dimension of values this distribution produces.
	Dim() int
}
