package adapter

import (
	"fmt"

	"bitbucket.org/dtolpin/mgp/likelihood"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Sampling is the way the latent representation is extracted
// from the posterior.
type Sampling int

const (
	// MonteCarlo draws reparameterized samples, each becoming a
	// replica of the sample in the batch.
	MonteCarlo Sampling = iota
	// Moments concatenates the posterior mean and variance along
	// the channel axis.
	Moments
)

var samplings = map[string]Sampling{
	"monte_carlo": MonteCarlo,
	"moments":     Moments,
}

// ParseSampling maps a configuration name to a Sampling.
func ParseSampling(name string) (Sampling, error) {
	s, ok := samplings[name]
	if !ok {
		return 0, errors.Wrapf(ErrConfig, "unknown sampling type %q", name)
	}
	return s, nil
}

func (s Sampling) String() string {
	for name, v := range samplings {
		if v == s {
			return name
		}
	}
	return fmt.Sprintf("Sampling(%d)", int(s))
}

// Layout is the axis order of the tensor passed to the
// classifier.
type Layout int

const (
	// ChannelsFirst is [batch, channels, time].
	ChannelsFirst Layout = iota
	// TimeFirst is [batch, time, channels]: the channels are
	// split from the flat posterior as for ChannelsFirst and
	// then transposed, so step t carries the value of every
	// task at time t. Sequence classifiers expect this order.
	TimeFirst
)

// Config configures an adapter. Zero values select the
// defaults: Gaussian noise with standard deviation 0.1, the rbf
// kernel, a single device, Monte Carlo sampling with 10 draws,
// channels-first layout, a no-op logger.
type Config struct {
	// Likelihood is the observation noise. The adapter switches
	// it to training numerics and never switches it back.
	Likelihood *likelihood.Gaussian
	// NumTasks is the number of task ids including the dummy
	// task, that is one more than the number of real tasks.
	NumTasks     int
	NDevices     int
	OutputDevice int
	Kernel       string
	Sampling     Sampling
	// NMCSamples is the number of draws per sample in Monte
	// Carlo mode. In Moments mode it must be 0 or 1.
	NMCSamples int
	Layout     Layout
	Seed       int64
	Logger     *zap.Logger
}

const (
	DefaultKernel     = "rbf"
	DefaultNMCSamples = 10
)

// normalize fills in the defaults and checks the configuration.
func (cfg Config) normalize() (Config, error) {
	if cfg.Likelihood == nil {
		cfg.Likelihood = likelihood.NewGaussian()
	}
	if cfg.NumTasks < 2 {
		return cfg, errors.Wrapf(ErrConfig,
			"%d task ids, need the dummy task and at least one real task",
			cfg.NumTasks)
	}
	if cfg.NDevices == 0 {
		cfg.NDevices = 1
	}
	if cfg.Kernel == "" {
		cfg.Kernel = DefaultKernel
	}
	switch cfg.Sampling {
	case MonteCarlo:
		if cfg.NMCSamples == 0 {
			cfg.NMCSamples = DefaultNMCSamples
		}
		if cfg.NMCSamples < 1 {
			return cfg, errors.Wrapf(ErrConfig,
				"%d Monte Carlo samples", cfg.NMCSamples)
		}
	case Moments:
		if cfg.NMCSamples > 1 {
			return cfg, errors.Wrapf(ErrReplicas,
				"%d Monte Carlo samples with %v", cfg.NMCSamples, cfg.Sampling)
		}
		cfg.NMCSamples = 1
	default:
		return cfg, errors.Wrapf(ErrConfig, "%v", cfg.Sampling)
	}
	if cfg.Layout != ChannelsFirst && cfg.Layout != TimeFirst {
		return cfg, errors.Wrapf(ErrConfig, "layout %d", int(cfg.Layout))
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg, nil
}
