package classifier

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LogLikelihood returns the mean log-softmax probability of the
// labels under logits and its gradient by the logits.
func LogLikelihood(logits *mat.Dense, labels []int) (float64, *mat.Dense, error) {
	n, nq := logits.Dims()
	if len(labels) != n {
		return 0, nil, errors.Wrapf(ErrShape,
			"%d labels for %d rows of logits", len(labels), n)
	}
	grad := mat.NewDense(n, nq, nil)
	ll := 0.
	row := make([]float64, nq)
	for i, y := range labels {
		if y < 0 || y >= nq {
			return 0, nil, errors.Errorf("label %d out of %d classes", y, nq)
		}
		mat.Row(row, i, logits)
		lse := floats.LogSumExp(row)
		ll += row[y] - lse
		for j := range row {
			grad.Set(i, j, -math.Exp(row[j]-lse)/float64(n))
		}
		grad.Set(i, y, grad.At(i, y)+1/float64(n))
	}
	return ll / float64(n), grad, nil
}

// Softmax returns the class probabilities of every row.
func Softmax(logits *mat.Dense) *mat.Dense {
	n, nq := logits.Dims()
	p := mat.NewDense(n, nq, nil)
	row := make([]float64, nq)
	for i := 0; i != n; i++ {
		mat.Row(row, i, logits)
		lse := floats.LogSumExp(row)
		for j := range row {
			p.Set(i, j, math.Exp(row[j]-lse))
		}
	}
	return p
}

// MeanProbabilities averages the class probabilities over
// replicas. Row s·batch+b of logits is replica s of sample b.
func MeanProbabilities(logits *mat.Dense, replicas int) (*mat.Dense, error) {
	n, nq := logits.Dims()
	if replicas < 1 || n%replicas != 0 {
		return nil, errors.Wrapf(ErrShape,
			"%d rows of logits, %d replicas", n, replicas)
	}
	p := Softmax(logits)
	nb := n / replicas
	mean := mat.NewDense(nb, nq, nil)
	for s := 0; s != replicas; s++ {
		mean.Add(mean, p.Slice(s*nb, (s+1)*nb, 0, nq))
	}
	mean.Scale(1/float64(replicas), mean)
	return mean, nil
}
