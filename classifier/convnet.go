package classifier

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// ConvNet is a temporal convolution with ReLU activations,
// mean pooling over time, dropout, and a linear output layer.
// Parameters, row-major:
//
//	filters [hidden, channels, width], filter biases [hidden],
//	output weights [classes, hidden], output biases [classes].
type ConvNet struct {
	mode
	cfg   Config
	theta []float64

	// cache of the last forward pass
	n, t   int
	z      []float64 // input [n, channels, t]
	h      []float64 // pre-activations [n, hidden, t]
	mask   []float64 // dropout scale [n, hidden]
	pooled []float64 // [n, hidden], after dropout
}

func newConvNet(cfg Config, rng *rand.Rand) (Classifier, error) {
	if cfg.Hidden == 0 {
		cfg.Hidden = 16
	}
	if cfg.Width == 0 {
		cfg.Width = 3
	}
	if cfg.Hidden < 1 || cfg.Width < 1 || cfg.Width%2 != 1 {
		return nil, errors.Errorf(
			"%d filters of width %d, width must be odd", cfg.Hidden, cfg.Width)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, errors.Errorf("dropout probability %g", cfg.Dropout)
	}
	m := &ConvNet{cfg: cfg}
	m.theta = make([]float64, m.NTheta())
	iw, _, iu, _ := m.offsets()
	scale := 1 / math.Sqrt(float64(cfg.Channels*cfg.Width))
	for i := iw; i != iw+cfg.Hidden*cfg.Channels*cfg.Width; i++ {
		m.theta[i] = scale * rng.NormFloat64()
	}
	scale = 1 / math.Sqrt(float64(cfg.Hidden))
	for i := iu; i != iu+cfg.Classes*cfg.Hidden; i++ {
		m.theta[i] = scale * rng.NormFloat64()
	}
	return m, nil
}

func (m *ConvNet) NTheta() int {
	_, _, _, iv := m.offsets()
	return iv + m.cfg.Classes
}

func (m *ConvNet) Theta() []float64 { return m.theta }

// offsets of filters, filter biases, output weights, output biases
func (m *ConvNet) offsets() (iw, ib, iu, iv int) {
	c := m.cfg
	ib = iw + c.Hidden*c.Channels*c.Width
	iu = ib + c.Hidden
	iv = iu + c.Classes*c.Hidden
	return iw, ib, iu, iv
}

func (m *ConvNet) Forward(z *tensor.Dense, rng *rand.Rand) (*mat.Dense, error) {
	n, nc, nt, err := dims(z, m.cfg.Channels)
	if err != nil {
		return nil, err
	}
	nh, nk, nq := m.cfg.Hidden, m.cfg.Width, m.cfg.Classes
	iw, ib, iu, iv := m.offsets()
	w, b := m.theta[iw:ib], m.theta[ib:iu]
	u, v := m.theta[iu:iv], m.theta[iv:]
	off := nk / 2

	m.n, m.t = n, nt
	m.z = append(m.z[:0], z.Data().([]float64)...)
	m.h = make([]float64, n*nh*nt)
	m.mask = make([]float64, n*nh)
	m.pooled = make([]float64, n*nh)
	logits := mat.NewDense(n, nq, nil)

	for i := 0; i != n; i++ {
		for o := 0; o != nh; o++ {
			sum := 0.
			for tt := 0; tt != nt; tt++ {
				a := b[o]
				for c := 0; c != nc; c++ {
					wrow := w[(o*nc+c)*nk:]
					zrow := m.z[(i*nc+c)*nt:]
					for k := 0; k != nk; k++ {
						s := tt + k - off
						if s < 0 || s >= nt {
							continue
						}
						a += wrow[k] * zrow[s]
					}
				}
				m.h[(i*nh+o)*nt+tt] = a
				if a > 0 {
					sum += a
				}
			}
			scale := 1.
			if m.training && m.cfg.Dropout > 0 {
				if rng.Float64() < m.cfg.Dropout {
					scale = 0
				} else {
					scale = 1 / (1 - m.cfg.Dropout)
				}
			}
			m.mask[i*nh+o] = scale
			m.pooled[i*nh+o] = scale * sum / float64(nt)
		}
		for j := 0; j != nq; j++ {
			l := v[j]
			for o := 0; o != nh; o++ {
				l += u[j*nh+o] * m.pooled[i*nh+o]
			}
			logits.Set(i, j, l)
		}
	}
	return logits, nil
}

func (m *ConvNet) Backward(gLogits *mat.Dense, grad []float64) (*tensor.Dense, error) {
	if m.h == nil {
		return nil, ErrNoForward
	}
	n, nt := m.n, m.t
	nc, nh, nk, nq := m.cfg.Channels, m.cfg.Hidden, m.cfg.Width, m.cfg.Classes
	iw, ib, iu, iv := m.offsets()
	w, u := m.theta[iw:ib], m.theta[iu:iv]
	off := nk / 2

	gz := make([]float64, n*nc*nt)
	for i := 0; i != n; i++ {
		for j := 0; j != nq; j++ {
			gl := gLogits.At(i, j)
			grad[iv+j] += gl
			for o := 0; o != nh; o++ {
				grad[iu+j*nh+o] += gl * m.pooled[i*nh+o]
			}
		}
		for o := 0; o != nh; o++ {
			gp := 0.
			for j := 0; j != nq; j++ {
				gp += gLogits.At(i, j) * u[j*nh+o]
			}
			ga := gp * m.mask[i*nh+o] / float64(nt)
			if ga == 0 {
				continue
			}
			for tt := 0; tt != nt; tt++ {
				if m.h[(i*nh+o)*nt+tt] <= 0 {
					continue
				}
				grad[ib+o] += ga
				for c := 0; c != nc; c++ {
					iwrow := iw + (o*nc+c)*nk
					zrow := (i*nc + c) * nt
					for k := 0; k != nk; k++ {
						s := tt + k - off
						if s < 0 || s >= nt {
							continue
						}
						grad[iwrow+k] += ga * m.z[zrow+s]
						gz[zrow+s] += ga * w[iwrow-iw+k]
					}
				}
			}
		}
	}
	return tensor.New(
		tensor.WithShape(n, nc, nt),
		tensor.WithBacking(gz)), nil
}
