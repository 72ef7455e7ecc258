// Package priors holds the log-priors of the multitask GP
// hyperparameters. The gradient is obtained by automatic
// differentiation: subpackage ad is generated from this one by
// the deriv tool and is what the models import.
package priors

import (
	. "bitbucket.org/dtolpin/infergo/dist"
	"bitbucket.org/dtolpin/mgp/kernel"
	"math"
)

// Priors on the hyperparameters of the multitask GP, laid out
// as the parameters of the MGP layer.
type Priors struct {
	NTasks int // including the dummy task
}

func (m *Priors) NTheta() int {
	return 2 + m.NTasks*(kernel.Rank+1) + 1
}

func (m *Priors) Observe(x []float64) float64 {
	const (
		c  = iota // constant mean
		l         // length scale
		w0        // first task factor
	)
	v0 := w0 + m.NTasks*kernel.Rank // first task variance
	s := v0 + m.NTasks              // noise variance

	ll := 0.

	// Values are standardized, the mean is near 0.
	ll += Normal.Logp(0, 1, x[c])
	// Length scale is around 1, in wide margins.
	ll += Normal.Logp(0, 2, x[l])

	// Task correlations are weak to moderate.
	ll += Normal.Logps(0, 1, x[w0:v0]...)
	// Task variance is mostly less than 1.
	ll += Normal.Logps(-1, 1, x[v0:s]...)

	// Noise variance is around 0.01.
	ll += Normal.Logp(math.Log(0.01), 1, x[s])

	return ll
}
