// Package adapter connects irregularly sampled multitask time
// series to a classifier through a multitask Gaussian process:
// the GP is conditioned on the observations of each sample, the
// posterior on a regular query grid is turned into a latent
// tensor, and the classifier maps the tensor to logits.
package adapter

import (
	"math/rand"

	"bitbucket.org/dtolpin/mgp/classifier"
	"bitbucket.org/dtolpin/mgp/kernel"
	"bitbucket.org/dtolpin/mgp/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrConfig     = errors.New("invalid adapter configuration")
	ErrChannelDim = errors.New("channel dimension mismatch")
	ErrNoForward  = errors.New("backward without forward")
	ErrReplicas   = errors.New("replicas require Monte Carlo sampling")
)

// Request is a batch of samples. Observations of sample b are
// Inputs[b], Tasks[b], Values[b], padded with the dummy task;
// the posterior is computed at QueryInputs[b], QueryTasks[b].
// All query sets must have the same length.
type Request struct {
	Inputs      [][]float64
	Tasks       [][]int
	Values      [][]float64
	QueryInputs [][]float64
	QueryTasks  [][]int
}

// Len is the batch size.
func (r Request) Len() int {
	return len(r.Inputs)
}

func (r Request) validate() error {
	n := r.Len()
	if n == 0 {
		return errors.Wrap(model.ErrShapeMismatch, "empty batch")
	}
	if len(r.Tasks) != n || len(r.Values) != n ||
		len(r.QueryInputs) != n || len(r.QueryTasks) != n {
		return errors.Wrapf(model.ErrShapeMismatch,
			"batch of %d inputs, %d tasks, %d values, %d query inputs, %d query tasks",
			n, len(r.Tasks), len(r.Values), len(r.QueryInputs), len(r.QueryTasks))
	}
	for i := range r.QueryInputs {
		if len(r.QueryInputs[i]) != len(r.QueryInputs[0]) {
			return errors.Wrapf(model.ErrShapeMismatch,
				"sample %d has %d query points, sample 0 has %d",
				i, len(r.QueryInputs[i]), len(r.QueryInputs[0]))
		}
	}
	return nil
}

// Adapter is the GP layer followed by the classifier. The
// parameters are those of the layer followed by those of the
// classifier. An adapter is not safe for concurrent use.
type Adapter struct {
	cfg        Config
	layer      *model.Layer
	classifier classifier.Classifier
	rng        *rand.Rand
	logger     *zap.Logger

	// cache of the last forward pass
	batch      int
	posteriors []*model.Posterior
	samples    []*model.Samples
}

// New builds an adapter around clf. The number of channels clf
// expects is the number of real tasks in Monte Carlo mode and
// twice that in Moments mode.
func New(clf classifier.Classifier, cfg Config) (*Adapter, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	k, err := kernel.New(cfg.Kernel, cfg.NumTasks, kernel.Devices{
		N:      cfg.NDevices,
		Output: cfg.OutputDevice,
	})
	if err != nil {
		return nil, errors.Wrap(err, "building kernel")
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	a := &Adapter{
		cfg:        cfg,
		layer:      model.NewLayer(model.NewMultitaskGP(k, rng), cfg.Likelihood),
		classifier: clf,
		rng:        rng,
		logger:     cfg.Logger,
	}
	a.logger.Info("adapter",
		zap.String("kernel", cfg.Kernel),
		zap.Int("tasks", cfg.NumTasks-1),
		zap.Stringer("sampling", cfg.Sampling),
		zap.Int("replicas", a.Replicas()),
		zap.Int("devices", cfg.NDevices),
		zap.Int("parameters", a.NTheta()))
	return a, nil
}

// Layer is the GP layer.
func (a *Adapter) Layer() *model.Layer { return a.layer }

func (a *Adapter) Classifier() classifier.Classifier { return a.classifier }

// Replicas is the number of classifier rows per sample: the
// number of draws in Monte Carlo mode, 1 in Moments mode.
// Labels must be augmented accordingly by the caller.
func (a *Adapter) Replicas() int {
	return a.cfg.NMCSamples
}

// Channels is the channel dimension of the latent tensor.
func (a *Adapter) Channels() int {
	c := a.cfg.NumTasks - 1
	if a.cfg.Sampling == Moments {
		c *= 2
	}
	return c
}

// Seed resets the random source of draws and dropout.
func (a *Adapter) Seed(seed int64) {
	a.rng.Seed(seed)
}

// Train switches the classifier to training mode. The GP layer
// stays in posterior inference mode.
func (a *Adapter) Train() { a.classifier.Train() }

// Eval switches the classifier to evaluation mode.
func (a *Adapter) Eval() { a.classifier.Eval() }

func (a *Adapter) Training() bool { return a.classifier.Training() }

func (a *Adapter) NTheta() int {
	return a.layer.NTheta() + a.classifier.NTheta()
}

// Parameters returns a copy of the parameters.
func (a *Adapter) Parameters() []float64 {
	return append(a.layer.Parameters(), a.classifier.Theta()...)
}

// SetParameters copies x into the layer and the classifier.
func (a *Adapter) SetParameters(x []float64) {
	nl := a.layer.NTheta()
	a.layer.SetParameters(x[:nl])
	copy(a.classifier.Theta(), x[nl:])
}

// Forward returns the logits of the batch. In Monte Carlo mode
// row s·batch+b holds draw s of sample b.
func (a *Adapter) Forward(req Request) (*mat.Dense, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	n := req.Len()
	a.batch = n
	a.posteriors = make([]*model.Posterior, n)
	a.samples = nil

	for b := 0; b != n; b++ {
		c, err := a.layer.Condition(req.Inputs[b], req.Tasks[b], req.Values[b])
		if err != nil {
			return nil, errors.Wrapf(err, "conditioning sample %d", b)
		}
		a.posteriors[b], err = c.Forward(req.QueryInputs[b], req.QueryTasks[b])
		if err != nil {
			return nil, errors.Wrapf(err, "posterior of sample %d", b)
		}
	}

	var flat [][]float64
	switch a.cfg.Sampling {
	case MonteCarlo:
		s := a.Replicas()
		flat = make([][]float64, s*n)
		a.samples = make([]*model.Samples, n)
		for b, p := range a.posteriors {
			smps, err := p.Rsample(s, a.rng)
			if err != nil {
				return nil, errors.Wrapf(err, "drawing from sample %d", b)
			}
			a.samples[b] = smps
			for i, z := range smps.Z {
				flat[i*n+b] = z
			}
		}
	case Moments:
		flat = make([][]float64, n)
		for b, p := range a.posteriors {
			flat[b] = append(append([]float64(nil), p.Mean...), p.Variance()...)
		}
	}

	z, err := ChannelReshape(flat, a.Channels(), a.cfg.Layout)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("latent", zap.Ints("shape", []int(z.Shape())))
	return a.classifier.Forward(z, a.rng)
}

// Backward returns the gradient by the parameters given the
// gradient by the logits of the last Forward.
func (a *Adapter) Backward(gLogits *mat.Dense) ([]float64, error) {
	if a.posteriors == nil {
		return nil, ErrNoForward
	}
	nl := a.layer.NTheta()
	grad := make([]float64, a.NTheta())
	gz, err := a.classifier.Backward(gLogits, grad[nl:])
	if err != nil {
		return nil, err
	}
	flat, err := ChannelUnreshape(gz, a.cfg.Layout)
	if err != nil {
		return nil, err
	}

	n := a.batch
	switch a.cfg.Sampling {
	case MonteCarlo:
		gZ := make([][]float64, a.Replicas())
		for b, p := range a.posteriors {
			for i := range gZ {
				gZ[i] = flat[i*n+b]
			}
			gMean, gCov, err := a.samples[b].Backward(gZ)
			if err != nil {
				return nil, errors.Wrapf(err, "sample %d", b)
			}
			p.Backward(grad[:nl], gMean, gCov)
		}
	case Moments:
		for b, p := range a.posteriors {
			m := p.Len()
			gCov := mat.NewDense(m, m, nil)
			for i := 0; i != m; i++ {
				gCov.Set(i, i, flat[b][m+i])
			}
			p.Backward(grad[:nl], flat[b][:m], gCov)
		}
	}
	return grad, nil
}

// Predict returns the class probabilities of the batch,
// averaged over replicas.
func (a *Adapter) Predict(req Request) (*mat.Dense, error) {
	logits, err := a.Forward(req)
	if err != nil {
		return nil, err
	}
	return classifier.MeanProbabilities(logits, a.Replicas())
}
