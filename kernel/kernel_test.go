package kernel

import (
	"math"
	"math/rand"
	"testing"

	"bitbucket.org/dtolpin/gogp/gp"
	adkernel "bitbucket.org/dtolpin/gogp/kernel/ad"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const (
	dx  = 1e-6
	eps = 1e-5
)

func TestSelect(t *testing.T) {
	for _, name := range []string{"rbf", "ou"} {
		k, err := Select(name)
		require.NoError(t, err, name)
		assert.NotNil(t, k, name)
		_, err = New(name, 4, Devices{})
		assert.NoError(t, err, name)
	}
	for _, name := range []string{"", "RBF", "matern52", "periodic"} {
		_, err := Select(name)
		assert.Equal(t, ErrUnknownKernel, errors.Cause(err), name)
		_, err = New(name, 4, Devices{})
		assert.Equal(t, ErrUnknownKernel, errors.Cause(err), name)
	}
}

func TestInputGradient(t *testing.T) {
	for _, k := range []Input{RBF, OU} {
		for i, c := range []struct {
			l, ta, tb float64
		}{
			{0, 0, 1},
			{-1, 0.5, 0.2},
			{1, 3, -2},
			{0.3, -1, 0.7},
		} {
			k0, dl, dt := k.Cov(c.l, c.ta, c.tb)
			kl, _, _ := k.Cov(c.l+dx, c.ta, c.tb)
			kt, _, _ := k.Cov(c.l, c.ta+dx, c.tb)
			if math.Abs((kl-k0)/dx-dl) > eps*10 {
				t.Errorf("%T %d: dk/dl mismatch: got %.6f, want %.6f",
					k, i, dl, (kl-k0)/dx)
			}
			if math.Abs((kt-k0)/dx-dt) > eps*10 {
				t.Errorf("%T %d: dk/dt mismatch: got %.6f, want %.6f",
					k, i, dt, (kt-k0)/dx)
			}
		}
	}
}

func TestDevices(t *testing.T) {
	for _, c := range []struct {
		d  Devices
		ok bool
	}{
		{Devices{N: 1}, true},
		{Devices{N: 4, Output: 3}, true},
		{Devices{N: 2, Output: 2}, false},
		{Devices{N: 2, Output: -1}, false},
		{Devices{N: -1}, false},
	} {
		_, err := New("rbf", 3, c.d)
		if c.ok {
			assert.NoError(t, err, "%+v", c.d)
		} else {
			assert.Equal(t, ErrDevices, errors.Cause(err), "%+v", c.d)
		}
	}

	// every row is visited exactly once
	visits := make([]int, 11)
	Devices{N: 4}.Run(len(visits), func(_, lo, hi int) {
		for i := lo; i != hi; i++ {
			visits[i]++
		}
	})
	for i, v := range visits {
		assert.Equal(t, 1, v, "row %d", i)
	}
}

// points returns n random points over tasks 1..ntasks-1.
func points(rng *rand.Rand, n, ntasks int) []Point {
	p := make([]Point, n)
	for i := range p {
		p[i] = Point{
			Time: 10 * rng.Float64(),
			Task: 1 + rng.Intn(ntasks-1),
		}
	}
	return p
}

func TestShardedEquivalence(t *testing.T) {
	const ntasks = 4
	rng := rand.New(rand.NewSource(1))
	a, b := points(rng, 17, ntasks), points(rng, 9, ntasks)
	gK := mat.NewDense(len(a), len(b), nil)
	for i := 0; i != len(a); i++ {
		for j := 0; j != len(b); j++ {
			gK.Set(i, j, rng.NormFloat64())
		}
	}
	for _, name := range Names() {
		single, err := New(name, ntasks, Devices{N: 1})
		require.NoError(t, err)
		sharded, err := New(name, ntasks, Devices{N: 3, Output: 2})
		require.NoError(t, err)
		theta := single.Init(rng)

		k1 := mat.NewDense(len(a), len(b), nil)
		k3 := mat.NewDense(len(a), len(b), nil)
		single.Cov(k1, theta, a, b)
		sharded.Cov(k3, theta, a, b)
		assert.True(t, mat.EqualApprox(k1, k3, 1e-5), name)

		g1 := make([]float64, single.NTheta())
		g3 := make([]float64, sharded.NTheta())
		single.Backward(g1, theta, gK, a, b)
		sharded.Backward(g3, theta, gK, a, b)
		assert.InDeltaSlice(t, g1, g3, 1e-5, name)
	}
}

func TestComposerGradient(t *testing.T) {
	const ntasks = 3
	rng := rand.New(rand.NewSource(2))
	a, b := points(rng, 5, ntasks), points(rng, 4, ntasks)
	gK := mat.NewDense(len(a), len(b), nil)
	for i := 0; i != len(a); i++ {
		for j := 0; j != len(b); j++ {
			gK.Set(i, j, rng.NormFloat64())
		}
	}
	for _, name := range Names() {
		c, err := New(name, ntasks, Devices{N: 2, Output: 1})
		require.NoError(t, err)
		theta := c.Init(rng)
		f := func() float64 {
			k := mat.NewDense(len(a), len(b), nil)
			c.Cov(k, theta, a, b)
			var sum float64
			for i := 0; i != len(a); i++ {
				for j := 0; j != len(b); j++ {
					sum += gK.At(i, j) * k.At(i, j)
				}
			}
			return sum
		}
		grad := make([]float64, c.NTheta())
		c.Backward(grad, theta, gK, a, b)
		for j := range theta {
			x0 := theta[j]
			theta[j] = x0 + dx
			fp := f()
			theta[j] = x0 - dx
			fm := f()
			theta[j] = x0
			want := (fp - fm) / (2 * dx)
			if math.Abs(grad[j]-want) > eps*math.Max(1, math.Abs(want)) {
				t.Errorf("%s: df/dtheta%d mismatch: got %.6f, want %.6f",
					name, j, grad[j], want)
			}
		}
	}
}

func TestIndexMatrix(t *testing.T) {
	k := Index{NTasks: 2}
	theta := []float64{
		1, 0, 0,
		1, 1, 0,
		0, math.Log(2),
	}
	b := k.Matrix(theta)
	want := mat.NewDense(2, 2, []float64{
		2, 1,
		1, 4,
	})
	assert.True(t, mat.EqualApprox(b, want, 1e-12))
}

func TestHadamardGP(t *testing.T) {
	c, err := New("rbf", 3, Devices{})
	require.NoError(t, err)
	theta := c.Init(rand.New(rand.NewSource(3)))
	h := NewHadamard(c, theta)

	g := &gp.GP{
		NDim:  2,
		Simil: h,
		Noise: adkernel.ConstantNoise(0.0001),
	}
	X := [][]float64{{1, 1}, {2, 2}}
	Y := []float64{1, -1}
	require.NoError(t, g.Absorb(X, Y))
	mu, sigma, err := g.Produce(X)
	require.NoError(t, err)
	for i := range Y {
		assert.InDelta(t, Y[i], mu[i], 0.1)
		assert.True(t, sigma[i] < 0.5)
	}

	// the gradient is by the time coordinates only
	h.Observe([]float64{0.5, 1, 1.5, 2})
	grad := h.Gradient()
	assert.Equal(t, 0., grad[1])
	assert.Equal(t, 0., grad[3])
	assert.InDelta(t, -grad[0], grad[2], 1e-12)
}
