// Package likelihood provides the Gaussian observation noise
// of the multitask Gaussian process.
package likelihood

import (
	"math"
)

// MinNoise is the lower bound of the noise variance; it keeps
// the covariance of coinciding observations positive definite.
const MinNoise = 1e-4

// Gaussian is homoscedastic Gaussian noise with a trainable
// log variance above MinNoise.
type Gaussian struct {
	LogNoise float64
	training bool
}

// NewGaussian returns noise with standard deviation about 0.1.
func NewGaussian() *Gaussian {
	return &Gaussian{LogNoise: math.Log(0.01)}
}

// Noise is the noise variance, MinNoise + exp(LogNoise).
func (g *Gaussian) Noise() float64 {
	return MinNoise + math.Exp(g.LogNoise)
}

// DNoise is the derivative of Noise by LogNoise.
func (g *Gaussian) DNoise() float64 {
	return math.Exp(g.LogNoise)
}

func (g *Gaussian) NTheta() int { return 1 }

// Train switches the likelihood to training numerics.
func (g *Gaussian) Train() { g.training = true }

// Eval switches the likelihood to evaluation numerics.
func (g *Gaussian) Eval() { g.training = false }

func (g *Gaussian) Training() bool { return g.training }
