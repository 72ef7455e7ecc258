package model

import (
	"math"

	"bitbucket.org/dtolpin/mgp/kernel"
	"bitbucket.org/dtolpin/mgp/likelihood"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Layer conditions a shared multitask GP on the observations
// of one sample at a time. The parameters are those of the GP
// followed by the log noise of the likelihood:
//
//	[mean, log length scale, task factor..., log task variances..., log noise]
//
// The layer always performs exact posterior inference: it has
// no training mode, and the likelihood is kept in training
// numerics for the layer's lifetime.
type Layer struct {
	GP         *MultitaskGP
	Likelihood *likelihood.Gaussian
	training   bool
}

// NewLayer wraps gp with observation noise lik.
func NewLayer(gp *MultitaskGP, lik *likelihood.Gaussian) *Layer {
	lik.Train()
	l := &Layer{GP: gp, Likelihood: lik}
	l.Eval()
	return l
}

// Eval puts the layer into posterior inference mode, the only
// mode it has.
func (l *Layer) Eval() { l.training = false }

func (l *Layer) Training() bool { return l.training }

func (l *Layer) NTheta() int {
	return l.GP.NTheta() + l.Likelihood.NTheta()
}

// Parameters returns a copy of the parameters.
func (l *Layer) Parameters() []float64 {
	x := make([]float64, 0, l.NTheta())
	x = append(x, l.GP.Mean)
	x = append(x, l.GP.Theta...)
	return append(x, l.Likelihood.LogNoise)
}

// SetParameters copies x into the layer.
func (l *Layer) SetParameters(x []float64) {
	nk := len(l.GP.Theta)
	l.GP.Mean = x[0]
	copy(l.GP.Theta, x[1:1+nk])
	l.Likelihood.LogNoise = x[1+nk]
}

// Conditioned is the GP conditioned on the observations of one
// sample. Each call to Condition creates a fresh one, so no
// observations carry over between samples.
type Conditioned struct {
	layer  *Layer
	x      []kernel.Point
	y      []float64
	noise  float64
	// dnoise is the derivative of noise by the log noise.
	dnoise float64
	chol   mat.Cholesky
	alpha  *mat.VecDense
}

// Condition sets inputs, task indices and values as the
// conditioning set. Observations of the dummy task are
// dropped; with no real observations the posterior is the
// prior.
func (l *Layer) Condition(inputs []float64, tasks []int, values []float64) (*Conditioned, error) {
	if len(values) != len(inputs) {
		return nil, errors.Wrapf(ErrShapeMismatch,
			"%d inputs, %d values", len(inputs), len(values))
	}
	all, err := l.GP.points(inputs, tasks)
	if err != nil {
		return nil, err
	}
	c := &Conditioned{
		layer:  l,
		noise:  l.Likelihood.Noise(),
		dnoise: l.Likelihood.DNoise(),
	}
	for i, p := range all {
		if p.Task == kernel.Dummy {
			continue
		}
		c.x = append(c.x, p)
		c.y = append(c.y, values[i])
	}
	if len(c.x) == 0 {
		return c, nil
	}

	k := symmetric(l.GP.cov(c.x, c.x))
	for i := range c.x {
		k.SetSym(i, i, k.At(i, i)+c.noise)
	}
	if !c.chol.Factorize(k) {
		return nil, errors.Wrapf(ErrNotPositiveDefinite,
			"covariance of %d observations", len(c.x))
	}
	r := c.r()
	c.alpha = mat.NewVecDense(len(r), nil)
	if err := c.chol.SolveVecTo(c.alpha, mat.NewVecDense(len(r), r)); err != nil {
		return nil, errors.Wrap(err, "solving for observations")
	}
	return c, nil
}

// Len is the number of real observations.
func (c *Conditioned) Len() int {
	return len(c.x)
}

// Forward returns the posterior at query inputs and tasks.
func (c *Conditioned) Forward(inputs []float64, tasks []int) (*Posterior, error) {
	gp := c.layer.GP
	q, err := gp.points(inputs, tasks)
	if err != nil {
		return nil, err
	}
	if len(q) == 0 {
		return nil, errors.Wrap(ErrShapeMismatch, "no query points")
	}
	for _, p := range q {
		if p.Task == kernel.Dummy {
			return nil, errors.Wrapf(ErrDummyQuery, "at time %g", p.Time)
		}
	}
	post := gp.prior(q)
	post.dnoise = c.dnoise
	if len(c.x) == 0 {
		return post, nil
	}

	kqx := gp.cov(q, c.x)
	post.x = c.x
	post.alpha = c.alpha
	post.a = mat.NewDense(len(c.x), len(q), nil)
	if err := c.chol.SolveTo(post.a, kqx.T()); err != nil {
		return nil, errors.Wrap(err, "solving for query points")
	}

	mu := mat.NewVecDense(len(q), post.Mean)
	var delta mat.VecDense
	delta.MulVec(kqx, c.alpha)
	mu.AddVec(mu, &delta)

	var ka mat.Dense
	ka.Mul(kqx, post.a)
	for i := range q {
		for j := i; j != len(q); j++ {
			post.Cov.SetSym(i, j, post.Cov.At(i, j)-ka.At(i, j))
		}
	}
	return post, nil
}

// LogLikelihood returns the log marginal likelihood of the
// observations and adds its gradient to grad, laid out as the
// layer parameters.
func (c *Conditioned) LogLikelihood(grad []float64) (float64, error) {
	n := len(c.x)
	if n == 0 {
		return 0, nil
	}
	ll := -0.5*mat.Dot(mat.NewVecDense(n, c.r()), c.alpha) -
		0.5*c.chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi)

	// dll/dK = (ααᵀ - K⁻¹)/2
	var kinv mat.SymDense
	if err := c.chol.InverseTo(&kinv); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			return 0, errors.Wrap(err, "inverting covariance")
		}
	}
	gK := mat.NewDense(n, n, nil)
	gK.Outer(0.5, c.alpha, c.alpha)
	for i := 0; i != n; i++ {
		for j := 0; j != n; j++ {
			gK.Set(i, j, gK.At(i, j)-0.5*kinv.At(i, j))
		}
	}

	gp := c.layer.GP
	nk := gp.Kernel.NTheta()
	grad[0] += floats.Sum(c.alpha.RawVector().Data)
	gp.Kernel.Backward(grad[1:1+nk], gp.Theta, gK, c.x, c.x)
	grad[1+nk] += c.dnoise * mat.Trace(gK)
	return ll, nil
}

func (c *Conditioned) r() []float64 {
	r := make([]float64, len(c.y))
	for i := range r {
		r[i] = c.y[i] - c.layer.GP.Mean
	}
	return r
}
