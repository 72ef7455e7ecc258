// Package priors holds the log-priors of the multitask GP
// hyperparameters. The gradient is obtained by automatic
// differentiation: subpackage ad is generated from this one by
// the deriv tool and is what the models import.
package priors

import (
	"bitbucket.org/dtolpin/infergo/ad"
	. "bitbucket.org/dtolpin/infergo/dist/ad"
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
	if ad.Called() {
		ad.Enter()
	} else {
		ad.Setup(x)
	}
	const (
		c  = iota // constant mean
		l         // length scale
		w0        // first task factor
	)
	var v0 int
	v0 = w0 + m.NTasks*kernel.Rank
	var s int
	s = v0 + m.NTasks
	var ll float64
	ad.Assignment(&ll, ad.Value(0.))
	ad.Assignment(&ll, ad.Arithmetic(ad.OpAdd, &ll, ad.Call(func(_ []float64) {
		Normal.Logp(0, 0, 0)
	}, 3, ad.Value(0), ad.Value(1), &x[c])))
	ad.Assignment(&ll, ad.Arithmetic(ad.OpAdd, &ll, ad.Call(func(_ []float64) {
		Normal.Logp(0, 0, 0)
	}, 3, ad.Value(0), ad.Value(2), &x[l])))
	ad.Assignment(&ll, ad.Arithmetic(ad.OpAdd, &ll, ad.Call(func(_ []float64) {
		Normal.Logps(0, 0, x[w0:v0]...)
	}, 2, ad.Value(0), ad.Value(1))))
	ad.Assignment(&ll, ad.Arithmetic(ad.OpAdd, &ll, ad.Call(func(_ []float64) {
		Normal.Logps(0, 0, x[v0:s]...)
	}, 2, ad.Value(-1), ad.Value(1))))
	ad.Assignment(&ll, ad.Arithmetic(ad.OpAdd, &ll, ad.Call(func(_ []float64) {
		Normal.Logp(0, 0, 0)
	}, 3, ad.Elemental(math.Log, ad.Value(0.01)), ad.Value(1), &x[s])))
	return ad.Return(&ll)
}
