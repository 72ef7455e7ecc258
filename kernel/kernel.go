// Package kernel composes the covariance of the multitask
// Gaussian process: a stationary kernel over time multiplied
// elementwise by a low-rank index kernel over task ids.
package kernel

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// ErrUnknownKernel is returned for kernel families other
// than those in the registry.
var ErrUnknownKernel = errors.New("unknown kernel")

// Input is a stationary covariance function over time. Its
// only hyperparameter is the log length scale.
type Input interface {
	// Cov returns the covariance of ta and tb, its derivative
	// by the log length scale, and its derivative by ta.
	Cov(loglscale, ta, tb float64) (k, dl, dt float64)
}

// The squared exponential kernel.
type rbf struct{}

var RBF rbf

func (rbf) Cov(loglscale, ta, tb float64) (float64, float64, float64) {
	l := math.Exp(loglscale)
	d := (ta - tb) / l
	k := math.Exp(-0.5 * d * d)
	return k, k * d * d, -k * d / l
}

// The Ornstein-Uhlenbeck (Matern 1/2) kernel.
type ou struct{}

var OU ou

func (ou) Cov(loglscale, ta, tb float64) (float64, float64, float64) {
	l := math.Exp(loglscale)
	d := (ta - tb) / l
	ad := math.Abs(d)
	k := math.Exp(-ad)
	dt := 0.
	switch {
	case d > 0:
		dt = -k / l
	case d < 0:
		dt = k / l
	}
	return k, k * ad, dt
}

var inputs = map[string]Input{
	"rbf": RBF,
	"ou":  OU,
}

// Select returns the input kernel registered under name.
func Select(name string) (Input, error) {
	k, ok := inputs[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKernel,
			"parsed kernel %q not among implemented kernels %v",
			name, Names())
	}
	return k, nil
}

// Names lists the registered kernel families.
func Names() []string {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
