package train

import (
	"io"
	"io/ioutil"

	"bitbucket.org/dtolpin/mgp/adapter"
	"bitbucket.org/dtolpin/mgp/classifier"
	"bitbucket.org/dtolpin/mgp/dataset"
	"bitbucket.org/dtolpin/mgp/kernel"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

var ErrConfig = errors.New("invalid training configuration")

// Config is the training configuration, read from YAML.
type Config struct {
	Kernel       string `yaml:"kernel"`
	Sampling     string `yaml:"sampling"`
	NMCSamples   int    `yaml:"n_mc_samples"`
	NDevices     int    `yaml:"n_devices"`
	OutputDevice int    `yaml:"output_device"`
	// GridSpacing is the distance between query times.
	GridSpacing float64 `yaml:"grid_spacing"`

	Classifier string  `yaml:"classifier"`
	Hidden     int     `yaml:"hidden"`
	Width      int     `yaml:"width"`
	Dropout    float64 `yaml:"dropout"`

	Subsampler           string             `yaml:"subsampler"`
	SubsamplerParameters map[string]float64 `yaml:"subsampler_parameters"`

	Epochs       int     `yaml:"n_epochs"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
	WeightDecay  float64 `yaml:"weight_decay"`
	// PriorWeight scales the log-priors of the GP
	// hyperparameters in the training objective.
	PriorWeight float64 `yaml:"prior_weight"`
	// PretrainIterations bounds type II maximum likelihood
	// fitting of the GP before training, 0 skips it.
	PretrainIterations int   `yaml:"pretrain_iterations"`
	Seed               int64 `yaml:"seed"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Kernel:       adapter.DefaultKernel,
		Sampling:     "monte_carlo",
		NMCSamples:   adapter.DefaultNMCSamples,
		NDevices:     1,
		GridSpacing:  1,
		Classifier:   "convnet",
		Subsampler:   "none",
		Epochs:       50,
		BatchSize:    32,
		LearningRate: 5e-4,
		WeightDecay:  1e-3,
		PriorWeight:  1,
	}
}

// LoadConfig reads a configuration over the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := Default()
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return cfg, errors.Wrap(err, "reading configuration")
	}
	if err := yaml.UnmarshalStrict(buf, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parsing configuration")
	}
	return cfg, nil
}

// Normalize validates the configuration. Outside Monte Carlo
// sampling every sample has a single replica, so the number of
// draws is forced to 1 rather than duplicating labels.
func (cfg *Config) Normalize(logger *zap.Logger) error {
	sampling, err := adapter.ParseSampling(cfg.Sampling)
	if err != nil {
		return err
	}
	if sampling != adapter.MonteCarlo && cfg.NMCSamples != 1 {
		logger.Warn("forcing a single replica",
			zap.String("sampling", cfg.Sampling),
			zap.Int("n_mc_samples", cfg.NMCSamples))
		cfg.NMCSamples = 1
	}
	if _, err := kernel.Select(cfg.Kernel); err != nil {
		return err
	}
	if !contains(classifier.Names(), cfg.Classifier) {
		return errors.Wrapf(classifier.ErrUnknownClassifier,
			"%q not among %v", cfg.Classifier, classifier.Names())
	}
	if _, err := dataset.NewSubsampler(cfg.Subsampler, cfg.SubsamplerParameters); err != nil {
		return err
	}
	switch {
	case cfg.NMCSamples < 1:
		return errors.Wrapf(ErrConfig, "n_mc_samples %d", cfg.NMCSamples)
	case !(cfg.GridSpacing > 0):
		return errors.Wrapf(ErrConfig, "grid_spacing %g", cfg.GridSpacing)
	case cfg.Epochs < 0:
		return errors.Wrapf(ErrConfig, "n_epochs %d", cfg.Epochs)
	case cfg.BatchSize < 1:
		return errors.Wrapf(ErrConfig, "batch_size %d", cfg.BatchSize)
	case !(cfg.LearningRate > 0):
		return errors.Wrapf(ErrConfig, "learning_rate %g", cfg.LearningRate)
	case cfg.WeightDecay < 0:
		return errors.Wrapf(ErrConfig, "weight_decay %g", cfg.WeightDecay)
	}
	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
