// Package model implements the exact Hadamard multitask
// Gaussian process and the layer that conditions it on the
// observations of each sample.
package model

import (
	"math/rand"

	"bitbucket.org/dtolpin/mgp/kernel"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrShapeMismatch       = errors.New("shape mismatch")
	ErrTaskRange           = errors.New("task id out of range")
	ErrDummyQuery          = errors.New("dummy task in query")
	ErrNotPositiveDefinite = errors.New("covariance not positive definite")
)

// MultitaskGP is a Gaussian process with a constant mean and
// the Hadamard product of input and task kernels as covariance.
// It holds no training data. Its parameters are the mean
// followed by the kernel parameters.
type MultitaskGP struct {
	Kernel *kernel.Composer
	Mean   float64
	Theta  []float64
}

// NewMultitaskGP initializes the parameters of a GP with
// covariance k.
func NewMultitaskGP(k *kernel.Composer, rng *rand.Rand) *MultitaskGP {
	return &MultitaskGP{
		Kernel: k,
		Theta:  k.Init(rng),
	}
}

func (m *MultitaskGP) NTheta() int {
	return 1 + m.Kernel.NTheta()
}

// NumTasks is the number of task ids, including the dummy task.
func (m *MultitaskGP) NumTasks() int {
	return m.Kernel.Task.NTasks
}

// points zips inputs and tasks, checking shapes and task ids.
func (m *MultitaskGP) points(inputs []float64, tasks []int) ([]kernel.Point, error) {
	if len(inputs) != len(tasks) {
		return nil, errors.Wrapf(ErrShapeMismatch,
			"%d inputs, %d task indices", len(inputs), len(tasks))
	}
	p := make([]kernel.Point, len(inputs))
	for i := range p {
		if tasks[i] < 0 || tasks[i] >= m.NumTasks() {
			return nil, errors.Wrapf(ErrTaskRange,
				"task %d not in [0, %d)", tasks[i], m.NumTasks())
		}
		p[i] = kernel.Point{Time: inputs[i], Task: tasks[i]}
	}
	return p, nil
}

// cov returns the covariance matrix of a and b.
func (m *MultitaskGP) cov(a, b []kernel.Point) *mat.Dense {
	k := mat.NewDense(len(a), len(b), nil)
	m.Kernel.Cov(k, m.Theta, a, b)
	return k
}

// Forward returns the prior at inputs and tasks.
func (m *MultitaskGP) Forward(inputs []float64, tasks []int) (*Posterior, error) {
	q, err := m.points(inputs, tasks)
	if err != nil {
		return nil, err
	}
	if len(q) == 0 {
		return nil, errors.Wrap(ErrShapeMismatch, "no points")
	}
	return m.prior(q), nil
}

func (m *MultitaskGP) prior(q []kernel.Point) *Posterior {
	mean := make([]float64, len(q))
	for i := range mean {
		mean[i] = m.Mean
	}
	return &Posterior{
		Mean: mean,
		Cov:  symmetric(m.cov(q, q)),
		gp:   m,
		q:    q,
	}
}

// symmetric views the upper triangle of a square dense
// matrix as symmetric.
func symmetric(d *mat.Dense) *mat.SymDense {
	n, _ := d.Dims()
	raw := d.RawMatrix()
	if raw.Stride == n {
		return mat.NewSymDense(n, raw.Data[:n*n])
	}
	s := mat.NewSymDense(n, nil)
	for i := 0; i != n; i++ {
		for j := i; j != n; j++ {
			s.SetSym(i, j, d.At(i, j))
		}
	}
	return s
}
