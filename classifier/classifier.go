// Package classifier provides the downstream models that map a
// latent tensor of shape [batch, channels, time] to class
// logits, with hand-coded backward passes.
package classifier

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

var (
	ErrUnknownClassifier = errors.New("unknown classifier")
	ErrShape             = errors.New("unexpected input shape")
	ErrNoForward         = errors.New("backward without forward")
)

// Classifier is a differentiable model over a flat parameter
// vector. Forward caches what the following Backward needs.
type Classifier interface {
	NTheta() int
	// Theta is the live parameter vector.
	Theta() []float64
	// Forward maps z of shape [batch, channels, time] to
	// logits of shape [batch, classes]. rng drives dropout.
	Forward(z *tensor.Dense, rng *rand.Rand) (*mat.Dense, error)
	// Backward adds to grad the gradient by the parameters
	// given the gradient by the logits of the last Forward,
	// and returns the gradient by z.
	Backward(gLogits *mat.Dense, grad []float64) (*tensor.Dense, error)
	Train()
	Eval()
	Training() bool
}

// Config describes the input and output dimensions of a
// classifier and the architecture knobs of those that have
// them.
type Config struct {
	Channels  int
	Timesteps int
	Classes   int
	Hidden    int     // convnet filters
	Width     int     // convnet filter width
	Dropout   float64 // convnet dropout probability
}

var constructors = map[string]func(Config, *rand.Rand) (Classifier, error){
	"linear":  newLinear,
	"convnet": newConvNet,
}

// New builds the classifier registered under name.
func New(name string, cfg Config, rng *rand.Rand) (Classifier, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownClassifier,
			"%q not among %v", name, Names())
	}
	if cfg.Channels < 1 || cfg.Classes < 2 {
		return nil, errors.Errorf(
			"%d channels, %d classes", cfg.Channels, cfg.Classes)
	}
	return ctor(cfg, rng)
}

// Names lists the registered classifiers.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// dims checks that z is [batch, channels, time].
func dims(z *tensor.Dense, channels int) (n, c, t int, err error) {
	shape := z.Shape()
	if len(shape) != 3 || shape[1] != channels {
		return 0, 0, 0, errors.Wrapf(ErrShape,
			"got %v, want [batch %d time]", []int(shape), channels)
	}
	return shape[0], shape[1], shape[2], nil
}

// mode is the training flag shared by the classifiers.
type mode struct {
	training bool
}

func (m *mode) Train()         { m.training = true }
func (m *mode) Eval()          { m.training = false }
func (m *mode) Training() bool { return m.training }
