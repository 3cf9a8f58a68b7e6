package dist

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/axleford/stochlab/internal/rng"
)

// Zero is the degenerate distribution that always returns the zero vector
// of dimension n: "no noise" as an explicit, composable Distribution rather
// than a special-cased nil. It generalizes the teacher's noise.Zero
// (noise/zero.go), which served the same purpose for the older linear-model
// noise.Noise interface.
type Zero struct {
	n int
}

// NewZero creates a Zero distribution of dimension n.
func NewZero(n int) *Zero { return &Zero{n: n} }

// Dim implements Distribution.
func (z *Zero) Dim() int { return z.n }

// Sample implements Distribution, always returning the zero vector.
func (z *Zero) Sample(src *rng.Source) mat.Vector {
	return mat.NewVecDense(z.n, nil)
}

// LogPdf implements Distribution: 0 at the origin, -Inf everywhere else,
// matching a point mass.
func (z *Zero) LogPdf(x mat.Vector) float64 {
	for i := 0; i < x.Len(); i++ {
		if x.AtVec(i) != 0 {
			return math.Inf(-1)
		}
	}
	return 0
}
