// Package dataset reads and writes irregularly sampled
// multitask time series with class labels, and turns them into
// batches for the adapter.
package dataset

import (
	"io"
	"math"

	"bitbucket.org/dtolpin/mgp/adapter"
	"bitbucket.org/dtolpin/mgp/kernel"
	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrTask  = errors.New("task id must be positive")
	ErrLabel = errors.New("inconsistent label")
)

// Observation is a record of a data file: value of task at time
// in sample, and the label of the sample.
type Observation struct {
	Sample int     `csv:"sample"`
	Label  int     `csv:"label"`
	Time   float64 `csv:"time"`
	Task   int     `csv:"task"`
	Value  float64 `csv:"value"`
}

// Sample is a labeled multitask time series. Tasks are numbered
// from 1.
type Sample struct {
	ID     int
	Label  int
	Inputs []float64
	Tasks  []int
	Values []float64
}

// Len is the number of observations.
func (s Sample) Len() int {
	return len(s.Inputs)
}

// Load reads observations grouped into samples, in the order
// of first appearance.
func Load(r io.Reader) ([]Sample, error) {
	var records []*Observation
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, errors.Wrap(err, "reading observations")
	}
	var samples []Sample
	index := map[int]int{}
	for i, o := range records {
		if o.Task < 1 {
			return nil, errors.Wrapf(ErrTask, "record %d: task %d", i+1, o.Task)
		}
		j, ok := index[o.Sample]
		if !ok {
			j = len(samples)
			index[o.Sample] = j
			samples = append(samples, Sample{ID: o.Sample, Label: o.Label})
		}
		s := &samples[j]
		if s.Label != o.Label {
			return nil, errors.Wrapf(ErrLabel,
				"record %d: sample %d labeled %d and %d",
				i+1, o.Sample, s.Label, o.Label)
		}
		s.Inputs = append(s.Inputs, o.Time)
		s.Tasks = append(s.Tasks, o.Task)
		s.Values = append(s.Values, o.Value)
	}
	return samples, nil
}

// Save writes the observations of samples.
func Save(w io.Writer, samples []Sample) error {
	var records []*Observation
	for _, s := range samples {
		for i := range s.Inputs {
			records = append(records, &Observation{
				Sample: s.ID,
				Label:  s.Label,
				Time:   s.Inputs[i],
				Task:   s.Tasks[i],
				Value:  s.Values[i],
			})
		}
	}
	return errors.Wrap(gocsv.Marshal(records, w), "writing observations")
}

// NTasks is the number of real tasks, the largest task id.
func NTasks(samples []Sample) int {
	n := 0
	for _, s := range samples {
		for _, t := range s.Tasks {
			if t > n {
				n = t
			}
		}
	}
	return n
}

// NClasses is one more than the largest label.
func NClasses(samples []Sample) int {
	n := 0
	for _, s := range samples {
		if s.Label+1 > n {
			n = s.Label + 1
		}
	}
	return n
}

// TimeRange returns the earliest and the latest observation
// time.
func TimeRange(samples []Sample) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		for _, t := range s.Inputs {
			lo = math.Min(lo, t)
			hi = math.Max(hi, t)
		}
	}
	return lo, hi
}

// Scaler standardizes values per task.
type Scaler struct {
	Mean, Std []float64 // indexed by task id
}

// NewScaler computes the mean and the standard deviation of
// every task from samples.
func NewScaler(samples []Sample, nTasks int) *Scaler {
	byTask := make([][]float64, nTasks+1)
	for _, s := range samples {
		for i, t := range s.Tasks {
			if t <= nTasks {
				byTask[t] = append(byTask[t], s.Values[i])
			}
		}
	}
	sc := &Scaler{
		Mean: make([]float64, nTasks+1),
		Std:  make([]float64, nTasks+1),
	}
	for t := range byTask {
		sc.Std[t] = 1
		if len(byTask[t]) < 2 {
			continue
		}
		mean, std := stat.MeanStdDev(byTask[t], nil)
		sc.Mean[t] = mean
		if std > 0 {
			sc.Std[t] = std
		}
	}
	return sc
}

// Transform standardizes the values of samples in place.
func (sc *Scaler) Transform(samples []Sample) {
	for _, s := range samples {
		for i, t := range s.Tasks {
			if t < len(sc.Mean) {
				s.Values[i] = (s.Values[i] - sc.Mean[t]) / sc.Std[t]
			}
		}
	}
}

// Grid returns regularly spaced query times from lo to hi.
func Grid(lo, hi, spacing float64) ([]float64, error) {
	if !(spacing > 0) || hi < lo {
		return nil, errors.Errorf("grid from %g to %g by %g", lo, hi, spacing)
	}
	n := int(math.Floor((hi-lo)/spacing+1e-9)) + 1
	grid := make([]float64, n)
	for i := range grid {
		grid[i] = lo + float64(i)*spacing
	}
	return grid, nil
}

// Query lays the grid out over real tasks 1..nTasks, task-major,
// so that the posterior at the query splits into task channels.
func Query(grid []float64, nTasks int) (inputs []float64, tasks []int) {
	inputs = make([]float64, 0, nTasks*len(grid))
	tasks = make([]int, 0, nTasks*len(grid))
	for t := 1; t <= nTasks; t++ {
		inputs = append(inputs, grid...)
		for range grid {
			tasks = append(tasks, t)
		}
	}
	return inputs, tasks
}

// Batch pads the observations of samples with dummy-task
// entries to a common length and returns the adapter request
// on the query over grid, and the labels.
func Batch(samples []Sample, grid []float64, nTasks int) (adapter.Request, []int) {
	maxLen := 0
	for _, s := range samples {
		if s.Len() > maxLen {
			maxLen = s.Len()
		}
	}
	qInputs, qTasks := Query(grid, nTasks)
	var req adapter.Request
	labels := make([]int, len(samples))
	for i, s := range samples {
		inputs := make([]float64, maxLen)
		tasks := make([]int, maxLen)
		values := make([]float64, maxLen)
		copy(inputs, s.Inputs)
		copy(tasks, s.Tasks)
		copy(values, s.Values)
		for j := s.Len(); j != maxLen; j++ {
			tasks[j] = kernel.Dummy
		}
		req.Inputs = append(req.Inputs, inputs)
		req.Tasks = append(req.Tasks, tasks)
		req.Values = append(req.Values, values)
		req.QueryInputs = append(req.QueryInputs, qInputs)
		req.QueryTasks = append(req.QueryTasks, qTasks)
		labels[i] = s.Label
	}
	return req, labels
}

// AugmentLabels repeats labels for each of the replicas, in
// the row order of the adapter's logits.
func AugmentLabels(labels []int, replicas int) []int {
	aug := make([]int, 0, replicas*len(labels))
	for s := 0; s != replicas; s++ {
		aug = append(aug, labels...)
	}
	return aug
}
