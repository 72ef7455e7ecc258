package adapter

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ChannelReshape splits every row of flat into channels
// consecutive runs of time steps and stacks the rows into a
// tensor of shape [rows, channels, time], or [rows, time,
// channels] for TimeFirst. All rows must have the same length,
// divisible by channels.
func ChannelReshape(flat [][]float64, channels int, layout Layout) (*tensor.Dense, error) {
	if len(flat) == 0 || channels < 1 {
		return nil, errors.Wrapf(ErrChannelDim,
			"%d rows, %d channels", len(flat), channels)
	}
	m := len(flat[0])
	if m == 0 || m%channels != 0 {
		return nil, errors.Wrapf(ErrChannelDim,
			"row length %d, %d channels", m, channels)
	}
	data := make([]float64, 0, len(flat)*m)
	for i, row := range flat {
		if len(row) != m {
			return nil, errors.Wrapf(ErrChannelDim,
				"row %d has length %d, want %d", i, len(row), m)
		}
		data = append(data, row...)
	}

	z := tensor.New(tensor.WithShape(len(flat), m), tensor.WithBacking(data))
	if err := z.Reshape(len(flat), channels, m/channels); err != nil {
		return nil, errors.Wrap(err, "splitting channels")
	}
	if layout == TimeFirst {
		if err := transpose(z); err != nil {
			return nil, err
		}
	}
	return z, nil
}

// ChannelUnreshape inverts ChannelReshape.
func ChannelUnreshape(z *tensor.Dense, layout Layout) ([][]float64, error) {
	shape := z.Shape()
	if len(shape) != 3 {
		return nil, errors.Wrapf(ErrChannelDim, "shape %v", []int(shape))
	}
	if layout == TimeFirst {
		z = z.Clone().(*tensor.Dense)
		if err := transpose(z); err != nil {
			return nil, err
		}
	}
	n := shape[0]
	m := shape[1] * shape[2]
	data := z.Data().([]float64)
	flat := make([][]float64, n)
	for i := range flat {
		flat[i] = append([]float64(nil), data[i*m:(i+1)*m]...)
	}
	return flat, nil
}

// transpose swaps the last two axes of z in place.
func transpose(z *tensor.Dense) error {
	if err := z.T(0, 2, 1); err != nil {
		return errors.Wrap(err, "transposing")
	}
	return errors.Wrap(z.Transpose(), "transposing")
}
