package kalman

import (
	"gonum.org/v1/gonum/mat"

	stochlab "github.com/axleford/stochlab"
)

// Kalman is Kalman Filter
type Kalman interface {
	// stochlab.Estimator is the predict/correct estimator contract
	stochlab.Estimator
	// Cov returns Kalman filter state covariance
	Cov() mat.Symmetric
	// Gain returns Kalman filter gain
	Gain() mat.Matrix
}
