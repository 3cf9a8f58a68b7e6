package particle

import (
	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
)

// Particle is Particle Filter
type Particle interface {
	// stochlab.Estimator is the predict/correct estimator contract
	stochlab.Estimator
	// Weights returns particle weights
	Weights() mat.Vector
}
