package main

import (
	"io"
	"math/rand"
	"os"

	"bitbucket.org/dtolpin/mgp/dataset"
	"bitbucket.org/dtolpin/mgp/train"
	"github.com/alexflint/go-arg"
	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type args struct {
	Config     string `arg:"-c" help:"training configuration, YAML"`
	Train      string `arg:"positional,required" help:"training observations, CSV"`
	Validation string `arg:"-v" help:"validation observations, CSV"`
	Test       string `arg:"-t" help:"test observations to predict, CSV; the training set if omitted"`
	Output     string `arg:"-o" help:"predictions file, standard output if omitted"`
}

func (args) Description() string {
	return `Classifies irregularly sampled multitask time series through
a multitask Gaussian process adapter. Observation files have
columns sample,label,time,task,value; tasks are numbered from 1.`
}

func fail(logger *zap.Logger, err error) {
	if err != nil {
		logger.Fatal("failed", zap.Error(err))
	}
}

func main() {
	var a args
	arg.MustParse(&a)

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := train.Default()
	if a.Config != "" {
		cfg, err = readConfig(a.Config)
		fail(logger, err)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	trainSet, err := load(a.Train)
	fail(logger, err)
	var validation, test []dataset.Sample
	if a.Validation != "" {
		validation, err = load(a.Validation)
		fail(logger, err)
	}
	if a.Test != "" {
		test, err = load(a.Test)
		fail(logger, err)
	}
	logger.Info("loaded",
		zap.Int("train", len(trainSet)),
		zap.Int("validation", len(validation)),
		zap.Int("test", len(test)))

	subsampler, err := dataset.NewSubsampler(cfg.Subsampler, cfg.SubsamplerParameters)
	fail(logger, err)
	for _, set := range [][]dataset.Sample{trainSet, validation, test} {
		for i := range set {
			set[i] = subsampler.Subsample(set[i], rng)
		}
	}

	scaler := dataset.NewScaler(trainSet, dataset.NTasks(trainSet))
	for _, set := range [][]dataset.Sample{trainSet, validation, test} {
		scaler.Transform(set)
	}

	tr, err := train.New(cfg, trainSet, logger)
	fail(logger, err)
	if cfg.PretrainIterations > 0 {
		_, _, err = tr.Pretrain(trainSet)
		fail(logger, err)
	}
	fail(logger, tr.Fit(trainSet, validation))

	if test == nil {
		test = trainSet
	}
	probs, err := tr.Predict(test)
	fail(logger, err)
	preds := train.Predictions(test, probs)
	score := train.Summarize(preds)
	logger.Info("predicted",
		zap.Int("samples", len(preds)),
		zap.Float64("nll", score.NLL),
		zap.Float64("accuracy", score.Accuracy))

	var output io.Writer = os.Stdout
	if a.Output != "" {
		f, err := os.Create(a.Output)
		fail(logger, err)
		defer f.Close()
		output = f
	}
	fail(logger, errors.Wrap(gocsv.Marshal(preds, output), "writing predictions"))
}

func readConfig(path string) (train.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return train.Config{}, errors.Wrap(err, "opening configuration")
	}
	defer f.Close()
	return train.LoadConfig(f)
}

func load(path string) ([]dataset.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	samples, err := dataset.Load(f)
	return samples, errors.Wrapf(err, "loading %s", path)
}
