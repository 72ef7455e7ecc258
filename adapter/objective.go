package adapter

import (
	"math"

	"bitbucket.org/dtolpin/infergo/model"
	"bitbucket.org/dtolpin/mgp/classifier"
	priors "bitbucket.org/dtolpin/mgp/priors/ad"
	"github.com/pkg/errors"
)

// Objective is the mean log-likelihood of the labels of a batch
// plus the weighted log-priors of the GP hyperparameters, an
// elemental model over the adapter parameters.
type Objective struct {
	Adapter *Adapter
	Request Request
	// Labels are the labels of the rows of the logits, already
	// augmented to the replicas by the caller.
	Labels      []int
	Priors      *priors.Priors
	PriorWeight float64
	// Err is the error of the last Observe, if any.
	Err  error
	grad []float64
}

func (m *Objective) Observe(x []float64) float64 {
	m.Err = nil
	m.Adapter.SetParameters(x)
	logits, err := m.Adapter.Forward(m.Request)
	if err != nil {
		return m.fail(err, len(x))
	}
	ll, gLogits, err := classifier.LogLikelihood(logits, m.Labels)
	if err != nil {
		return m.fail(errors.Wrap(err, "labels"), len(x))
	}
	m.grad, err = m.Adapter.Backward(gLogits)
	if err != nil {
		return m.fail(err, len(x))
	}
	if m.Priors != nil && m.PriorWeight != 0 {
		nl := m.Adapter.Layer().NTheta()
		ll += m.PriorWeight * m.Priors.Observe(x[:nl])
		for i, g := range model.Gradient(m.Priors) {
			m.grad[i] += m.PriorWeight * g
		}
	}
	return ll
}

func (m *Objective) fail(err error, n int) float64 {
	m.Err = err
	m.grad = make([]float64, n)
	return math.Inf(-1)
}

func (m *Objective) Gradient() []float64 {
	return m.grad
}
