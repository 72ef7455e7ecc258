package kernel

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Dummy is the task id of padding observations.
const Dummy = 0

// Point is a location of the multitask process.
type Point struct {
	Time float64
	Task int
}

// Composer is the Hadamard product of an input kernel over time
// and an index kernel over tasks. The parameters are the log
// length scale of the input kernel followed by the parameters
// of the index kernel.
type Composer struct {
	Input   Input
	Task    Index
	Devices Devices
}

// New builds the composer for the kernel family name over
// numTasks task ids (including the dummy task).
func New(name string, numTasks int, devices Devices) (*Composer, error) {
	input, err := Select(name)
	if err != nil {
		return nil, err
	}
	if numTasks < 1 {
		return nil, errors.Errorf("%d tasks", numTasks)
	}
	if devices.N == 0 {
		devices.N = 1
	}
	if err := devices.validate(); err != nil {
		return nil, err
	}
	return &Composer{
		Input:   input,
		Task:    Index{NTasks: numTasks},
		Devices: devices,
	}, nil
}

// NTheta returns the number of parameters.
func (c *Composer) NTheta() int {
	return 1 + c.Task.NTheta()
}

// Init returns initial parameters, unit length scale.
func (c *Composer) Init(rng *rand.Rand) []float64 {
	return append([]float64{0}, c.Task.Init(rng)...)
}

// InputCov is the covariance over time.
func (c *Composer) InputCov(theta []float64, ta, tb float64) float64 {
	k, _, _ := c.Input.Cov(theta[0], ta, tb)
	return k
}

// TaskCov is the covariance over task ids.
func (c *Composer) TaskCov(theta []float64) *mat.Dense {
	return c.Task.Matrix(theta[1:])
}

// Cov fills dst, of size len(a)×len(b), with the covariances
// of a and b.
func (c *Composer) Cov(dst *mat.Dense, theta []float64, a, b []Point) {
	bm := c.TaskCov(theta).RawMatrix()
	raw := dst.RawMatrix()
	c.Devices.Run(len(a), func(_, lo, hi int) {
		for i := lo; i != hi; i++ {
			row := raw.Data[i*raw.Stride : i*raw.Stride+len(b)]
			brow := bm.Data[a[i].Task*bm.Stride:]
			for j := range b {
				k, _, _ := c.Input.Cov(theta[0], a[i].Time, b[j].Time)
				row[j] = k * brow[b[j].Task]
			}
		}
	})
}

// Backward adds to grad the gradient by theta given gK, the
// gradient by every element of the covariance matrix of a and b.
func (c *Composer) Backward(grad, theta []float64, gK *mat.Dense, a, b []Point) {
	bm := c.TaskCov(theta).RawMatrix()
	nt := c.Task.NTasks
	g := gK.RawMatrix()
	n := c.Devices.N
	if n < 1 {
		n = 1
	}
	gl := make([]float64, n)
	gB := make([][]float64, n)
	for i := range gB {
		gB[i] = make([]float64, nt*nt)
	}
	c.Devices.Run(len(a), func(device, lo, hi int) {
		for i := lo; i != hi; i++ {
			grow := g.Data[i*g.Stride : i*g.Stride+len(b)]
			brow := bm.Data[a[i].Task*bm.Stride:]
			gbrow := gB[device][a[i].Task*nt:]
			for j := range b {
				if grow[j] == 0 {
					continue
				}
				k, dl, _ := c.Input.Cov(theta[0], a[i].Time, b[j].Time)
				gl[device] += grow[j] * brow[b[j].Task] * dl
				gbrow[b[j].Task] += grow[j] * k
			}
		}
	})

	// join on the output device
	out := c.Devices.Output
	for device := range gB {
		if device == out {
			continue
		}
		gl[out] += gl[device]
		floats.Add(gB[out], gB[device])
	}
	grad[0] += gl[out]
	c.Task.Backward(grad[1:], theta[1:], mat.NewDense(nt, nt, gB[out]))
}
