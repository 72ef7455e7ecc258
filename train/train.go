// Package train fits an adapter to labeled multitask time
// series: type II maximum likelihood pretraining of the GP,
// then stochastic gradient ascent on the label likelihood.
package train

import (
	"math"
	"math/rand"

	"bitbucket.org/dtolpin/infergo/infer"
	"bitbucket.org/dtolpin/infergo/model"
	"bitbucket.org/dtolpin/mgp/adapter"
	"bitbucket.org/dtolpin/mgp/classifier"
	"bitbucket.org/dtolpin/mgp/dataset"
	mgp "bitbucket.org/dtolpin/mgp/model"
	priors "bitbucket.org/dtolpin/mgp/priors/ad"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Trainer holds an adapter sized for a dataset.
type Trainer struct {
	Config  Config
	Adapter *adapter.Adapter
	// Grid is the query grid shared by all samples.
	Grid   []float64
	NTasks int
	Logger *zap.Logger
	priors *priors.Priors
	rng    *rand.Rand
}

// New normalizes cfg and builds an adapter with the tasks,
// classes and time range of samples.
func New(cfg Config, samples []dataset.Sample, logger *zap.Logger) (*Trainer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Normalize(logger); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.Wrap(ErrConfig, "no samples")
	}
	nTasks, nClasses := dataset.NTasks(samples), dataset.NClasses(samples)
	if nClasses < 2 {
		nClasses = 2
	}
	lo, hi := dataset.TimeRange(samples)
	grid, err := dataset.Grid(lo, hi, cfg.GridSpacing)
	if err != nil {
		return nil, err
	}
	sampling, _ := adapter.ParseSampling(cfg.Sampling)
	channels := nTasks
	if sampling == adapter.Moments {
		channels *= 2
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	clf, err := classifier.New(cfg.Classifier, classifier.Config{
		Channels:  channels,
		Timesteps: len(grid),
		Classes:   nClasses,
		Hidden:    cfg.Hidden,
		Width:     cfg.Width,
		Dropout:   cfg.Dropout,
	}, rng)
	if err != nil {
		return nil, err
	}
	a, err := adapter.New(clf, adapter.Config{
		NumTasks:     nTasks + 1,
		NDevices:     cfg.NDevices,
		OutputDevice: cfg.OutputDevice,
		Kernel:       cfg.Kernel,
		Sampling:     sampling,
		NMCSamples:   cfg.NMCSamples,
		Seed:         cfg.Seed,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("trainable parameters",
		zap.Int("gp", a.Layer().NTheta()),
		zap.Int("classifier", clf.NTheta()),
		zap.Int("total", a.NTheta()))
	return &Trainer{
		Config:  cfg,
		Adapter: a,
		Grid:    grid,
		NTasks:  nTasks,
		Logger:  logger,
		priors:  &priors.Priors{NTasks: nTasks + 1},
		rng:     rng,
	}, nil
}

// Pretrain fits the GP hyperparameters to the observations of
// samples by maximizing their evidence, and returns the log
// evidence before and after.
func (t *Trainer) Pretrain(samples []dataset.Sample) (before, after float64, err error) {
	layer := t.Adapter.Layer()
	ev := &mgp.Evidence{Layer: layer, Priors: t.priors}
	for _, s := range samples {
		ev.Inputs = append(ev.Inputs, s.Inputs)
		ev.Tasks = append(ev.Tasks, s.Tasks)
		ev.Values = append(ev.Values, s.Values)
	}

	x := layer.Parameters()
	before = ev.Observe(x)
	model.DropGradient(ev)
	if ev.Err != nil {
		return before, before, ev.Err
	}

	Func, Grad := infer.FuncGrad(ev)
	p := optimize.Problem{Func: Func, Grad: Grad}
	result, err := optimize.Minimize(
		p, append([]float64(nil), x...), &optimize.Settings{
			MajorIterations: t.Config.PretrainIterations,
		}, nil)
	if result == nil {
		return before, before, errors.Wrap(err, "pretraining")
	}
	// A few iterations bring most of the improvement, the
	// optimizer need not converge.
	if err != nil && result.Stats.MajorIterations <= 1 {
		t.Logger.Warn("pretraining stopped", zap.Error(err))
	}

	after = ev.Observe(result.X)
	model.DropGradient(ev)
	if ev.Err != nil || after < before {
		layer.SetParameters(x)
		after = before
	}
	t.Logger.Info("pretrained",
		zap.Float64("before", before),
		zap.Float64("after", after),
		zap.Int("iterations", result.Stats.MajorIterations))
	return before, after, nil
}

// Fit trains all parameters of the adapter with Adam on
// shuffled batches of samples. After every epoch the loss, and
// the scores on validation if any, are logged.
func (t *Trainer) Fit(samples, validation []dataset.Sample) error {
	a := t.Adapter
	opt := &infer.Adam{
		Rate:  t.Config.LearningRate,
		Beta1: 0.9,
		Beta2: 0.999,
		Eps:   1e-8,
	}
	x := a.Parameters()
	for epoch := 1; epoch <= t.Config.Epochs; epoch++ {
		a.Train()
		perm := t.rng.Perm(len(samples))
		sum, n := 0., 0
		for lo := 0; lo < len(perm); lo += t.Config.BatchSize {
			hi := lo + t.Config.BatchSize
			if hi > len(perm) {
				hi = len(perm)
			}
			batch := make([]dataset.Sample, 0, hi-lo)
			for _, i := range perm[lo:hi] {
				batch = append(batch, samples[i])
			}
			m := t.objective(batch, len(samples))
			ll, _ := opt.Step(m, x)
			if m.Err != nil {
				return errors.Wrapf(m.Err, "epoch %d, batch %d", epoch, n)
			}
			sum += ll
			n++
		}
		a.SetParameters(x)

		fields := []zap.Field{
			zap.Int("epoch", epoch),
			zap.Float64("loss", -sum/float64(n)),
		}
		if len(validation) != 0 {
			score, err := t.Evaluate(validation)
			if err != nil {
				return errors.Wrapf(err, "validation after epoch %d", epoch)
			}
			fields = append(fields,
				zap.Float64("val_nll", score.NLL),
				zap.Float64("val_accuracy", score.Accuracy))
		}
		t.Logger.Info("epoch", fields...)
	}
	a.Eval()
	return nil
}

// objective is the training objective on a batch out of
// nSamples training samples.
func (t *Trainer) objective(batch []dataset.Sample, nSamples int) *decayed {
	a := t.Adapter
	req, labels := dataset.Batch(batch, t.Grid, t.NTasks)
	return &decayed{
		Objective: &adapter.Objective{
			Adapter:     a,
			Request:     req,
			Labels:      dataset.AugmentLabels(labels, a.Replicas()),
			Priors:      t.priors,
			PriorWeight: t.Config.PriorWeight / float64(nSamples),
		},
		from:  a.Layer().NTheta(),
		decay: t.Config.WeightDecay,
	}
}

// decayed adds L2 weight decay on the parameters from index
// from on, those of the classifier.
type decayed struct {
	*adapter.Objective
	from  int
	decay float64
}

func (m *decayed) Observe(x []float64) float64 {
	ll := m.Objective.Observe(x)
	if m.Err != nil || m.decay == 0 {
		return ll
	}
	grad := m.Objective.Gradient()
	for i := m.from; i != len(x); i++ {
		ll -= 0.5 * m.decay * x[i] * x[i]
		grad[i] -= m.decay * x[i]
	}
	return ll
}

// Predict returns the class probabilities of samples, averaged
// over replicas, one row per sample.
func (t *Trainer) Predict(samples []dataset.Sample) (*mat.Dense, error) {
	a := t.Adapter
	a.Eval()
	var rows [][]float64
	for lo := 0; lo < len(samples); lo += t.Config.BatchSize {
		hi := lo + t.Config.BatchSize
		if hi > len(samples) {
			hi = len(samples)
		}
		req, _ := dataset.Batch(samples[lo:hi], t.Grid, t.NTasks)
		p, err := a.Predict(req)
		if err != nil {
			return nil, errors.Wrapf(err, "samples %d to %d", lo, hi)
		}
		for i := 0; i != hi-lo; i++ {
			rows = append(rows, mat.Row(nil, i, p))
		}
	}
	if len(rows) == 0 {
		return nil, errors.Wrap(ErrConfig, "nothing to predict")
	}
	probs := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, row := range rows {
		probs.SetRow(i, row)
	}
	return probs, nil
}

// Prediction is a record of a predictions file.
type Prediction struct {
	Sample    int `csv:"sample"`
	Label     int `csv:"label"`
	Predicted int `csv:"predicted"`
	// Probability is the predicted probability of the label.
	Probability float64 `csv:"probability"`
}

// Predictions pairs samples with rows of probs.
func Predictions(samples []dataset.Sample, probs *mat.Dense) []*Prediction {
	preds := make([]*Prediction, len(samples))
	_, nc := probs.Dims()
	for i, s := range samples {
		best := 0
		for j := 1; j != nc; j++ {
			if probs.At(i, j) > probs.At(i, best) {
				best = j
			}
		}
		p := 0.
		if s.Label < nc {
			p = probs.At(i, s.Label)
		}
		preds[i] = &Prediction{
			Sample:      s.ID,
			Label:       s.Label,
			Predicted:   best,
			Probability: p,
		}
	}
	return preds
}

// Score is the mean negative log probability of the labels and
// the accuracy.
type Score struct {
	NLL      float64
	Accuracy float64
}

// minProbability bounds the log probability of a label.
const minProbability = 1e-12

// Summarize scores predictions.
func Summarize(preds []*Prediction) Score {
	var s Score
	if len(preds) == 0 {
		return s
	}
	for _, p := range preds {
		s.NLL -= math.Log(math.Max(p.Probability, minProbability))
		if p.Predicted == p.Label {
			s.Accuracy++
		}
	}
	s.NLL /= float64(len(preds))
	s.Accuracy /= float64(len(preds))
	return s
}

// Evaluate scores the predictions on samples.
func (t *Trainer) Evaluate(samples []dataset.Sample) (Score, error) {
	probs, err := t.Predict(samples)
	if err != nil {
		return Score{}, err
	}
	return Summarize(Predictions(samples, probs)), nil
}
