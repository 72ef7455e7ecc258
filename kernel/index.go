package kernel

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Rank of the task covariance factor.
const Rank = 3

// Index is the covariance over task ids 0..NTasks-1,
// B = W Wᵀ + diag(exp(v)), with W of size NTasks×Rank. The
// parameters are W in row-major order followed by v, so the
// parameter count is linear in the number of tasks.
type Index struct {
	NTasks int
}

// NTheta returns the number of parameters.
func (k Index) NTheta() int {
	return k.NTasks * (Rank + 1)
}

func (k Index) factor(theta []float64) *mat.Dense {
	return mat.NewDense(k.NTasks, Rank, theta[:k.NTasks*Rank])
}

// Matrix returns B for parameters theta.
func (k Index) Matrix(theta []float64) *mat.Dense {
	w := k.factor(theta)
	b := mat.NewDense(k.NTasks, k.NTasks, nil)
	b.Mul(w, w.T())
	v := theta[k.NTasks*Rank : k.NTheta()]
	for i := range v {
		b.Set(i, i, b.At(i, i)+math.Exp(v[i]))
	}
	return b
}

// Backward adds to grad the gradient by theta given gB, the
// gradient by every element of B.
func (k Index) Backward(grad, theta []float64, gB *mat.Dense) {
	nw := k.NTasks * Rank
	var s, gw mat.Dense
	s.Add(gB, gB.T())
	gw.Mul(&s, k.factor(theta))
	floats.Add(grad[:nw], gw.RawMatrix().Data)
	for i := 0; i != k.NTasks; i++ {
		grad[nw+i] += gB.At(i, i) * math.Exp(theta[nw+i])
	}
}

// Init returns initial parameters: a small random factor and
// unit task variances.
func (k Index) Init(rng *rand.Rand) []float64 {
	theta := make([]float64, k.NTheta())
	for i := 0; i != k.NTasks*Rank; i++ {
		theta[i] = 0.1 * rng.NormFloat64()
	}
	return theta
}
