package model

import (
	"math/rand"

	"bitbucket.org/dtolpin/mgp/kernel"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Jitter escalation for factorizing posterior covariances:
// the factorization is retried with Jitter, 10×Jitter, ...
// added to the diagonal, MaxTries times.
const (
	Jitter   = 1e-6
	MaxTries = 3
)

// Posterior is the multivariate normal of the GP at query
// points. Besides the moments, it keeps what is needed to
// propagate gradients back to the parameters.
type Posterior struct {
	Mean []float64
	Cov  *mat.SymDense

	gp     *MultitaskGP
	q      []kernel.Point
	x      []kernel.Point // conditioning points, none for the prior
	dnoise float64        // derivative of the noise by the log noise
	alpha  *mat.VecDense  // K⁻¹(y - mean)
	a      *mat.Dense     // K⁻¹ Kxq
}

// Len is the number of query points.
func (p *Posterior) Len() int {
	return len(p.Mean)
}

// Variance is the diagonal of the covariance.
func (p *Posterior) Variance() []float64 {
	v := make([]float64, p.Len())
	for i := range v {
		v[i] = p.Cov.At(i, i)
	}
	return v
}

// Backward adds to grad, laid out as the layer parameters, the
// gradient by the parameters given the gradients by the mean
// and by every element of the covariance. gCov must be
// symmetric and may be nil.
func (p *Posterior) Backward(grad, gMean []float64, gCov *mat.Dense) {
	nk := p.gp.Kernel.NTheta()
	gk := grad[1 : 1+nk]
	theta := p.gp.Theta

	grad[0] += floats.Sum(gMean)
	if gCov != nil {
		p.gp.Kernel.Backward(gk, theta, gCov, p.q, p.q)
	}
	if len(p.x) == 0 {
		return
	}

	gMu := mat.NewVecDense(len(gMean), gMean)
	beta := mat.NewVecDense(len(p.x), nil)
	beta.MulVec(p.a, gMu)
	// the mean is also subtracted from the observations
	grad[0] -= floats.Sum(beta.RawVector().Data)

	// μ = mean + Kqx α
	gKqx := mat.NewDense(len(p.q), len(p.x), nil)
	gKqx.Outer(1, gMu, p.alpha)
	gK := mat.NewDense(len(p.x), len(p.x), nil)
	gK.Outer(-1, beta, p.alpha)

	// Σ = Kqq - Kqx K⁻¹ Kxq
	if gCov != nil {
		var sa, asa mat.Dense
		sa.Mul(gCov, p.a.T())
		asa.Mul(p.a, &sa)
		gK.Add(gK, &asa)
		sa.Scale(-2, &sa)
		gKqx.Add(gKqx, &sa)
	}

	p.gp.Kernel.Backward(gk, theta, gKqx, p.q, p.x)
	p.gp.Kernel.Backward(gk, theta, gK, p.x, p.x)
	grad[1+nk] += p.dnoise * mat.Trace(gK)
}

// Samples are reparameterized draws from a posterior:
// Z[i] = Mean + L eps[i], where L Lᵀ is the covariance.
type Samples struct {
	Z   [][]float64
	eps [][]float64
	l   *mat.TriDense
}

// Rsample draws n samples from the posterior.
func (p *Posterior) Rsample(n int, rng *rand.Rand) (*Samples, error) {
	chol, err := safeCholesky(p.Cov)
	if err != nil {
		return nil, err
	}
	m := p.Len()
	l := mat.NewTriDense(m, mat.Lower, nil)
	chol.LTo(l)

	s := &Samples{
		Z:   make([][]float64, n),
		eps: make([][]float64, n),
		l:   l,
	}
	for i := 0; i != n; i++ {
		s.eps[i] = make([]float64, m)
		for j := range s.eps[i] {
			s.eps[i][j] = rng.NormFloat64()
		}
		z := mat.NewVecDense(m, nil)
		z.MulVec(l, mat.NewVecDense(m, s.eps[i]))
		s.Z[i] = z.RawVector().Data
		floats.Add(s.Z[i], p.Mean)
	}
	return s, nil
}

// Backward returns the gradients by the mean and by the
// covariance of the posterior given the gradients by the
// samples.
func (s *Samples) Backward(gZ [][]float64) (gMean []float64, gCov *mat.Dense, err error) {
	n, m := len(gZ), len(s.eps[0])
	gMean = make([]float64, m)
	g := mat.NewDense(n, m, nil)
	e := mat.NewDense(n, m, nil)
	for i := range gZ {
		floats.Add(gMean, gZ[i])
		g.SetRow(i, gZ[i])
		e.SetRow(i, s.eps[i])
	}
	gL := mat.NewDense(m, m, nil)
	gL.Mul(g.T(), e)
	gCov, err = cholBackward(s.l, gL)
	return gMean, gCov, err
}

// cholBackward returns the gradient by a symmetric matrix
// given the gradient gL by its lower Cholesky factor l:
// L⁻ᵀ Φ(Lᵀ gL) L⁻¹, symmetrized, where Φ takes the lower
// triangle and halves the diagonal. gL is overwritten.
func cholBackward(l *mat.TriDense, gL *mat.Dense) (*mat.Dense, error) {
	m, _ := gL.Dims()
	for i := 0; i != m; i++ {
		for j := i + 1; j != m; j++ {
			gL.Set(i, j, 0)
		}
	}
	var t mat.Dense
	t.Mul(l.T(), gL)

	phi := mat.NewDense(m, m, nil)
	for i := 0; i != m; i++ {
		for j := 0; j != i; j++ {
			v := 0.5 * t.At(i, j)
			phi.Set(i, j, v)
			phi.Set(j, i, v)
		}
		phi.Set(i, i, 0.5*t.At(i, i))
	}

	linv := mat.NewTriDense(m, mat.Lower, nil)
	if err := linv.InverseTri(l); err != nil {
		// on mat.Condition the inverse is still computed
		if _, ok := err.(mat.Condition); !ok {
			return nil, errors.Wrap(err, "inverting Cholesky factor")
		}
	}
	var tmp mat.Dense
	tmp.Mul(phi, linv)
	g := mat.NewDense(m, m, nil)
	g.Mul(linv.T(), &tmp)
	return g, nil
}

// safeCholesky factorizes cov, adding escalating jitter to the
// diagonal if cov is not numerically positive definite.
func safeCholesky(cov *mat.SymDense) (*mat.Cholesky, error) {
	var chol mat.Cholesky
	if chol.Factorize(cov) {
		return &chol, nil
	}
	m := cov.Symmetric()
	a := mat.NewSymDense(m, nil)
	jitter := Jitter
	for try := 0; try != MaxTries; try++ {
		a.CopySym(cov)
		for i := 0; i != m; i++ {
			a.SetSym(i, i, a.At(i, i)+jitter)
		}
		if chol.Factorize(a) {
			return &chol, nil
		}
		jitter *= 10
	}
	return nil, errors.Wrapf(ErrNotPositiveDefinite,
		"posterior covariance of %d points, jitter up to %g",
		m, jitter/10)
}
