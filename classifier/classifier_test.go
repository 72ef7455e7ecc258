package classifier

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

const (
	dx  = 1e-6
	eps = 1e-4
)

var cfg = Config{
	Channels:  2,
	Timesteps: 5,
	Classes:   3,
	Hidden:    4,
	Width:     3,
	Dropout:   0.5,
}

const batch = 2

func input(rng *rand.Rand) []float64 {
	z := make([]float64, batch*cfg.Channels*cfg.Timesteps)
	for i := range z {
		z[i] = rng.NormFloat64()
	}
	return z
}

func tensorOf(z []float64) *tensor.Dense {
	return tensor.New(
		tensor.WithShape(batch, cfg.Channels, cfg.Timesteps),
		tensor.WithBacking(append([]float64(nil), z...)))
}

func TestRegistry(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, name := range Names() {
		_, err := New(name, cfg, rng)
		assert.NoError(t, err, name)
	}
	_, err := New("transformer", cfg, rng)
	assert.Equal(t, ErrUnknownClassifier, errors.Cause(err))
	_, err = New("linear", Config{Channels: 2, Timesteps: 5, Classes: 1}, rng)
	assert.Error(t, err)
	_, err = New("convnet", Config{Channels: 2, Classes: 2, Width: 2}, rng)
	assert.Error(t, err)
}

func TestGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	z := input(rng)
	g := mat.NewDense(batch, cfg.Classes, nil)
	for i := 0; i != batch; i++ {
		for j := 0; j != cfg.Classes; j++ {
			g.Set(i, j, rng.NormFloat64())
		}
	}

	for _, name := range Names() {
		m, err := New(name, cfg, rng)
		require.NoError(t, err)
		m.Eval()
		f := func() float64 {
			logits, err := m.Forward(tensorOf(z), rng)
			require.NoError(t, err)
			return mat.Sum(mulElem(g, logits))
		}

		f()
		grad := make([]float64, m.NTheta())
		gz, err := m.Backward(g, grad)
		require.NoError(t, err)
		assert.Equal(t, []int{batch, cfg.Channels, cfg.Timesteps}, []int(gz.Shape()))
		gzData := gz.Data().([]float64)

		for _, c := range []struct {
			what string
			x    []float64
			grad []float64
		}{
			{"parameters", m.Theta(), grad},
			{"input", z, gzData},
		} {
			for j := range c.x {
				x0 := c.x[j]
				c.x[j] = x0 + dx
				fp := f()
				c.x[j] = x0 - dx
				fm := f()
				c.x[j] = x0
				want := (fp - fm) / (2 * dx)
				if math.Abs(c.grad[j]-want) > eps*math.Max(1, math.Abs(want)) {
					t.Errorf("%s: d/d%s[%d] mismatch: got %.6f, want %.6f",
						name, c.what, j, c.grad[j], want)
				}
			}
		}
	}
}

func mulElem(a, b *mat.Dense) *mat.Dense {
	var c mat.Dense
	c.MulElem(a, b)
	return &c
}

func TestShape(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, name := range Names() {
		m, err := New(name, cfg, rng)
		require.NoError(t, err)
		_, err = m.Backward(mat.NewDense(1, cfg.Classes, nil),
			make([]float64, m.NTheta()))
		assert.Equal(t, ErrNoForward, errors.Cause(err))

		z := tensor.New(
			tensor.WithShape(batch, cfg.Channels+1, cfg.Timesteps),
			tensor.WithBacking(make([]float64, batch*(cfg.Channels+1)*cfg.Timesteps)))
		_, err = m.Forward(z, rng)
		assert.Equal(t, ErrShape, errors.Cause(err), name)
	}
}

func TestDropout(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	m, err := New("convnet", cfg, rng)
	require.NoError(t, err)
	z := input(rng)

	m.Eval()
	l1, err := m.Forward(tensorOf(z), rng)
	require.NoError(t, err)
	l2, err := m.Forward(tensorOf(z), rng)
	require.NoError(t, err)
	assert.True(t, mat.Equal(l1, l2))

	m.Train()
	assert.True(t, m.Training())
	differ := false
	for i := 0; i != 10 && !differ; i++ {
		l, err := m.Forward(tensorOf(z), rng)
		require.NoError(t, err)
		differ = !mat.Equal(l, l1)
	}
	assert.True(t, differ)
}

func TestLogLikelihood(t *testing.T) {
	logits := mat.NewDense(2, 3, []float64{
		1, 2, 3,
		0, 0, 0,
	})
	labels := []int{2, 0}
	ll, grad, err := LogLikelihood(logits, labels)
	require.NoError(t, err)
	want := 0.5 * (3 - math.Log(math.Exp(1)+math.Exp(2)+math.Exp(3)) - math.Log(3))
	assert.InDelta(t, want, ll, 1e-12)

	for i := 0; i != 2; i++ {
		for j := 0; j != 3; j++ {
			x0 := logits.At(i, j)
			logits.Set(i, j, x0+dx)
			fp, _, _ := LogLikelihood(logits, labels)
			logits.Set(i, j, x0-dx)
			fm, _, _ := LogLikelihood(logits, labels)
			logits.Set(i, j, x0)
			assert.InDelta(t, (fp-fm)/(2*dx), grad.At(i, j), eps)
		}
	}

	_, _, err = LogLikelihood(logits, []int{0})
	assert.Equal(t, ErrShape, errors.Cause(err))
	_, _, err = LogLikelihood(logits, []int{0, 3})
	assert.Error(t, err)
}

func TestMeanProbabilities(t *testing.T) {
	// two replicas of two samples
	logits := mat.NewDense(4, 2, []float64{
		0, 0,
		0, math.Log(3),
		math.Log(3), 0,
		0, math.Log(3),
	})
	p, err := MeanProbabilities(logits, 2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.625, 0.375}, mat.Row(nil, 0, p), 1e-12)
	assert.InDeltaSlice(t, []float64{0.25, 0.75}, mat.Row(nil, 1, p), 1e-12)

	_, err = MeanProbabilities(logits, 3)
	assert.Equal(t, ErrShape, errors.Cause(err))
}
