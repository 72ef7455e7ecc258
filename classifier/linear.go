package classifier

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Linear is multinomial logistic regression on the flattened
// latent tensor. Parameters: weights [classes, channels×time]
// row-major, then biases [classes].
type Linear struct {
	mode
	cfg   Config
	theta []float64
	z     *mat.Dense // last input, [batch, channels×time]
}

func newLinear(cfg Config, rng *rand.Rand) (Classifier, error) {
	if cfg.Timesteps < 1 {
		return nil, errors.Errorf("%d time steps", cfg.Timesteps)
	}
	m := &Linear{cfg: cfg}
	m.theta = make([]float64, m.NTheta())
	scale := 1 / math.Sqrt(float64(cfg.Channels*cfg.Timesteps))
	for i := 0; i != cfg.Classes*cfg.Channels*cfg.Timesteps; i++ {
		m.theta[i] = scale * rng.NormFloat64()
	}
	return m, nil
}

func (m *Linear) NTheta() int {
	return m.cfg.Classes * (m.cfg.Channels*m.cfg.Timesteps + 1)
}

func (m *Linear) Theta() []float64 { return m.theta }

func (m *Linear) weights() (*mat.Dense, []float64) {
	nw := m.cfg.Classes * m.cfg.Channels * m.cfg.Timesteps
	w := mat.NewDense(m.cfg.Classes, m.cfg.Channels*m.cfg.Timesteps, m.theta[:nw])
	return w, m.theta[nw:]
}

func (m *Linear) Forward(z *tensor.Dense, _ *rand.Rand) (*mat.Dense, error) {
	n, c, t, err := dims(z, m.cfg.Channels)
	if err != nil {
		return nil, err
	}
	if t != m.cfg.Timesteps {
		return nil, errors.Wrapf(ErrShape,
			"%d time steps, want %d", t, m.cfg.Timesteps)
	}
	data := append([]float64(nil), z.Data().([]float64)...)
	m.z = mat.NewDense(n, c*t, data)

	w, b := m.weights()
	logits := mat.NewDense(n, m.cfg.Classes, nil)
	logits.Mul(m.z, w.T())
	for i := 0; i != n; i++ {
		for j := range b {
			logits.Set(i, j, logits.At(i, j)+b[j])
		}
	}
	return logits, nil
}

func (m *Linear) Backward(gLogits *mat.Dense, grad []float64) (*tensor.Dense, error) {
	if m.z == nil {
		return nil, ErrNoForward
	}
	n, ct := m.z.Dims()
	w, _ := m.weights()
	nw := len(m.theta) - m.cfg.Classes

	var gw mat.Dense
	gw.Mul(gLogits.T(), m.z)
	raw := gw.RawMatrix()
	for j := 0; j != m.cfg.Classes; j++ {
		for k := 0; k != ct; k++ {
			grad[j*ct+k] += raw.Data[j*raw.Stride+k]
		}
		for i := 0; i != n; i++ {
			grad[nw+j] += gLogits.At(i, j)
		}
	}

	gz := mat.NewDense(n, ct, nil)
	gz.Mul(gLogits, w)
	return tensor.New(
		tensor.WithShape(n, m.cfg.Channels, m.cfg.Timesteps),
		tensor.WithBacking(gz.RawMatrix().Data)), nil
}
