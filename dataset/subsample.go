package dataset

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

var ErrUnknownSubsampler = errors.New("unknown subsampler")

// Subsampler thins out the observations of a sample, to train
// and test on sparser series than recorded.
type Subsampler interface {
	Subsample(s Sample, rng *rand.Rand) Sample
}

var subsamplers = map[string]func(params map[string]float64) (Subsampler, error){
	"none":              newNoSubsampler,
	"missing_at_random": newMissingAtRandom,
}

// NewSubsampler builds the subsampler registered under name.
func NewSubsampler(name string, params map[string]float64) (Subsampler, error) {
	ctor, ok := subsamplers[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSubsampler,
			"%q not among %v", name, SubsamplerNames())
	}
	return ctor(params)
}

// SubsamplerNames lists the registered subsamplers.
func SubsamplerNames() []string {
	names := make([]string, 0, len(subsamplers))
	for name := range subsamplers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type noSubsampler struct{}

func newNoSubsampler(map[string]float64) (Subsampler, error) {
	return noSubsampler{}, nil
}

func (noSubsampler) Subsample(s Sample, _ *rand.Rand) Sample {
	return s
}

// MissingAtRandom drops every observation independently with
// probability Probability.
type MissingAtRandom struct {
	Probability float64
}

func newMissingAtRandom(params map[string]float64) (Subsampler, error) {
	p, ok := params["probability"]
	if !ok {
		p = 0.5
	}
	if p < 0 || p >= 1 {
		return nil, errors.Errorf("missing_at_random: probability %g", p)
	}
	return MissingAtRandom{Probability: p}, nil
}

func (m MissingAtRandom) Subsample(s Sample, rng *rand.Rand) Sample {
	sub := Sample{ID: s.ID, Label: s.Label}
	for i := range s.Inputs {
		if rng.Float64() < m.Probability {
			continue
		}
		sub.Inputs = append(sub.Inputs, s.Inputs[i])
		sub.Tasks = append(sub.Tasks, s.Tasks[i])
		sub.Values = append(sub.Values, s.Values[i])
	}
	return sub
}
