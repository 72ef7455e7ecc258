package kernel

import (
	"gonum.org/v1/gonum/mat"
)

// Hadamard is the composed covariance with fixed parameters,
// in the form of a gogp similarity kernel over two-dimensional
// points [time, task]: x = [ta, ca, tb, cb].
type Hadamard struct {
	Composer *Composer
	Theta    []float64
	b        *mat.Dense
	grad     []float64
}

// NewHadamard fixes the parameters of c.
func NewHadamard(c *Composer, theta []float64) *Hadamard {
	return &Hadamard{
		Composer: c,
		Theta:    theta,
		b:        c.TaskCov(theta),
		grad:     make([]float64, 4),
	}
}

func (k *Hadamard) Observe(x []float64) float64 {
	const (
		ta = iota // first point
		ca
		tb // second point
		cb
	)

	kt, _, dt := k.Composer.Input.Cov(k.Theta[0], x[ta], x[tb])
	bab := k.b.At(int(x[ca]), int(x[cb]))
	k.grad[ta] = dt * bab
	k.grad[tb] = -dt * bab
	return kt * bab
}

// Gradient is by the point coordinates; task ids are discrete.
func (k *Hadamard) Gradient() []float64 {
	return k.grad
}

func (*Hadamard) NTheta() int { return 0 }
