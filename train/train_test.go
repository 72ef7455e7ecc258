package train

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"bitbucket.org/dtolpin/mgp/adapter"
	"bitbucket.org/dtolpin/mgp/classifier"
	"bitbucket.org/dtolpin/mgp/dataset"
	"bitbucket.org/dtolpin/mgp/kernel"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// synthetic returns n samples of two tasks on [0, 5], with slow
// oscillations for label 0 and fast ones for label 1.
func synthetic(n int, seed int64) []dataset.Sample {
	rng := rand.New(rand.NewSource(seed))
	samples := make([]dataset.Sample, n)
	for i := range samples {
		s := dataset.Sample{ID: i, Label: i % 2}
		freq := 1 + 2*float64(s.Label)
		nobs := 6 + rng.Intn(6)
		for j := 0; j != nobs; j++ {
			t := 5 * rng.Float64()
			task := 1 + rng.Intn(2)
			s.Inputs = append(s.Inputs, t)
			s.Tasks = append(s.Tasks, task)
			s.Values = append(s.Values,
				math.Sin(freq*t+float64(task))+0.1*rng.NormFloat64())
		}
		samples[i] = s
	}
	// both ends of the time range are observed
	samples[0].Inputs[0] = 0
	samples[1].Inputs[0] = 5
	return samples
}

func smallConfig() Config {
	cfg := Default()
	cfg.Classifier = "linear"
	cfg.NMCSamples = 2
	cfg.Epochs = 2
	cfg.BatchSize = 3
	cfg.LearningRate = 0.01
	cfg.PretrainIterations = 3
	cfg.Seed = 1
	return cfg
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`
kernel: ou
sampling: moments
n_mc_samples: 10
subsampler: missing_at_random
subsampler_parameters:
  probability: 0.2
n_epochs: 3
`))
	require.NoError(t, err)
	assert.Equal(t, "ou", cfg.Kernel)
	assert.Equal(t, "moments", cfg.Sampling)
	assert.Equal(t, 0.2, cfg.SubsamplerParameters["probability"])
	assert.Equal(t, 3, cfg.Epochs)
	assert.Equal(t, Default().BatchSize, cfg.BatchSize)

	_, err = LoadConfig(strings.NewReader("n_mc_smps: 10\n"))
	assert.Error(t, err)
}

func TestReplicaPolicy(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	cfg := Default()
	cfg.Sampling = "moments"
	cfg.NMCSamples = 10
	require.NoError(t, cfg.Normalize(zap.New(core)))
	assert.Equal(t, 1, cfg.NMCSamples)
	assert.Equal(t, 1, logs.FilterMessage("forcing a single replica").Len())

	cfg = Default()
	require.NoError(t, cfg.Normalize(zap.New(core)))
	assert.Equal(t, adapter.DefaultNMCSamples, cfg.NMCSamples)
	assert.Equal(t, 1, logs.Len())
}

func TestNormalizeErrors(t *testing.T) {
	for i, c := range []struct {
		edit func(*Config)
		err  error
	}{
		{func(c *Config) { c.Kernel = "matern" }, kernel.ErrUnknownKernel},
		{func(c *Config) { c.Sampling = "lanczos" }, adapter.ErrConfig},
		{func(c *Config) { c.Classifier = "gru" }, classifier.ErrUnknownClassifier},
		{func(c *Config) { c.Subsampler = "MissingAtRandomSubsampler" }, dataset.ErrUnknownSubsampler},
		{func(c *Config) { c.GridSpacing = 0 }, ErrConfig},
		{func(c *Config) { c.BatchSize = 0 }, ErrConfig},
		{func(c *Config) { c.LearningRate = -1 }, ErrConfig},
	} {
		cfg := Default()
		c.edit(&cfg)
		err := cfg.Normalize(zap.NewNop())
		assert.Equal(t, c.err, errors.Cause(err), "case %d", i)
	}
}

func TestTrainer(t *testing.T) {
	for _, sampling := range []string{"monte_carlo", "moments"} {
		cfg := smallConfig()
		cfg.Sampling = sampling
		train, test := synthetic(8, 1), synthetic(4, 2)
		tr, err := New(cfg, train, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, tr.NTasks)
		assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, tr.Grid)

		before, after, err := tr.Pretrain(train)
		require.NoError(t, err)
		assert.True(t, after >= before, "%v: evidence %f -> %f", sampling, before, after)

		require.NoError(t, tr.Fit(train, test))
		assert.False(t, tr.Adapter.Training())
		assert.False(t, tr.Adapter.Layer().Training())

		probs, err := tr.Predict(test)
		require.NoError(t, err)
		rows, cols := probs.Dims()
		assert.Equal(t, len(test), rows)
		assert.Equal(t, 2, cols)

		score, err := tr.Evaluate(test)
		require.NoError(t, err)
		assert.False(t, math.IsNaN(score.NLL) || math.IsInf(score.NLL, 0))
		assert.True(t, score.Accuracy >= 0 && score.Accuracy <= 1)
	}
}

func TestEmptySample(t *testing.T) {
	cfg := smallConfig()
	cfg.Epochs = 1
	train := synthetic(4, 3)
	train = append(train, dataset.Sample{ID: 99, Label: 1})
	tr, err := New(cfg, train, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Fit(train, nil))
	probs, err := tr.Predict(train[len(train)-1:])
	require.NoError(t, err)
	assert.InDelta(t, 1, probs.At(0, 0)+probs.At(0, 1), 1e-12)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]*Prediction{
		{Label: 1, Predicted: 1, Probability: 0.5},
		{Label: 0, Predicted: 1, Probability: 0.25},
	})
	assert.InDelta(t, 0.5*(math.Log(2)+math.Log(4)), s.NLL, 1e-12)
	assert.Equal(t, 0.5, s.Accuracy)
	assert.Equal(t, Score{}, Summarize(nil))
}
