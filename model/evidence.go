package model

import (
	"math"

	"bitbucket.org/dtolpin/infergo/model"
	priors "bitbucket.org/dtolpin/mgp/priors/ad"
	"github.com/pkg/errors"
)

// Evidence is the log marginal likelihood of a batch of
// observation sets plus the log-priors of the hyperparameters,
// an elemental model over the layer parameters. It is the
// objective of type II maximum likelihood.
type Evidence struct {
	Layer  *Layer
	Inputs [][]float64
	Tasks  [][]int
	Values [][]float64
	Priors *priors.Priors
	// Err is the error of the last Observe, if any.
	Err  error
	grad []float64
}

func (m *Evidence) Observe(x []float64) float64 {
	m.Err = nil
	m.Layer.SetParameters(x)
	m.grad = make([]float64, len(x))

	ll := 0.
	if m.Priors != nil {
		ll += m.Priors.Observe(x)
		copy(m.grad, model.Gradient(m.Priors))
	}
	for i := range m.Inputs {
		c, err := m.Layer.Condition(m.Inputs[i], m.Tasks[i], m.Values[i])
		if err == nil {
			var lli float64
			lli, err = c.LogLikelihood(m.grad)
			ll += lli
		}
		if err != nil {
			m.Err = errors.Wrapf(err, "sample %d", i)
			return math.Inf(-1)
		}
	}
	return ll
}

func (m *Evidence) Gradient() []float64 {
	return m.grad
}
