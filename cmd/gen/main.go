package main

import (
	"bitbucket.org/dtolpin/gogp/gp"
	adkernel "bitbucket.org/dtolpin/gogp/kernel/ad"
	"bitbucket.org/dtolpin/infergo/ad"
	"bitbucket.org/dtolpin/mgp/dataset"
	"bitbucket.org/dtolpin/mgp/kernel"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
)

var (
	NSAMPLES = 100
	NTASKS   = 3
	NCLASSES = 2
	MINOBS   = 10
	MAXOBS   = 30
	SPAN     = 50.
	KERNEL   = "rbf"
	NOISE    = 0.01
	SEED     = int64(1)
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			`Generate a synthetic classification dataset of irregularly
sampled multitask time series. Invocation:
	%s [OPTIONS] > OUTPUT
Samples of class c are drawn from a multitask GP with length
scale 2^c.
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.IntVar(&NSAMPLES, "n", NSAMPLES, "number of samples")
	flag.IntVar(&NTASKS, "tasks", NTASKS, "number of tasks")
	flag.IntVar(&NCLASSES, "classes", NCLASSES, "number of classes")
	flag.IntVar(&MINOBS, "min", MINOBS, "minimum observations per sample")
	flag.IntVar(&MAXOBS, "max", MAXOBS, "maximum observations per sample")
	flag.Float64Var(&SPAN, "span", SPAN, "time span")
	flag.StringVar(&KERNEL, "kernel", KERNEL, "input kernel")
	flag.Float64Var(&NOISE, "noise", NOISE, "observation noise variance")
	flag.Int64Var(&SEED, "seed", SEED, "random seed")
	ad.MTSafeOn()
}

// sample draws the observations one at a time, conditioning
// the GP on the observations drawn so far.
func sample(g *gp.GP, times []float64, tasks []int, rng *rand.Rand) ([]float64, error) {
	values := make([]float64, len(times))
	for i := range times {
		X := [][]float64{{times[i], float64(tasks[i])}}
		Y, Sigma, err := g.Produce(X)
		if err != nil {
			return nil, fmt.Errorf("produce: %v", err)
		}
		values[i] = Y[0] + Sigma[0]*rng.NormFloat64()
		if err := g.Absorb(append(g.X, X...), append(g.Y, values[i])); err != nil {
			return nil, fmt.Errorf("absorb: %v", err)
		}
	}
	return values, nil
}

type result struct {
	i      int
	sample dataset.Sample
	err    error
}

func main() {
	flag.Parse()
	if NTASKS < 1 || NCLASSES < 2 || MINOBS < 1 || MAXOBS < MINOBS {
		flag.Usage()
		os.Exit(1)
	}

	c, err := kernel.New(KERNEL, NTASKS+1, kernel.Devices{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	rng := rand.New(rand.NewSource(SEED))
	theta := c.Init(rng)

	// Samples are drawn concurrently, each with its own GP and
	// random source.
	results := make(chan result, NSAMPLES)
	for i := 0; i != NSAMPLES; i++ {
		label := rng.Intn(NCLASSES)
		seed := rng.Int63()
		go func(i, label int, seed int64) {
			rng := rand.New(rand.NewSource(seed))
			th := append([]float64(nil), theta...)
			th[0] = float64(label) * math.Ln2
			g := &gp.GP{
				NDim:  2,
				Simil: kernel.NewHadamard(c, th),
				Noise: adkernel.ConstantNoise(NOISE),
			}
			s := dataset.Sample{ID: i, Label: label}
			n := MINOBS + rng.Intn(MAXOBS-MINOBS+1)
			s.Inputs = make([]float64, n)
			s.Tasks = make([]int, n)
			for j := range s.Inputs {
				s.Inputs[j] = SPAN * rng.Float64()
			}
			sort.Float64s(s.Inputs)
			for j := range s.Tasks {
				s.Tasks[j] = 1 + rng.Intn(NTASKS)
			}
			var err error
			s.Values, err = sample(g, s.Inputs, s.Tasks, rng)
			results <- result{i, s, err}
		}(i, label, seed)
	}

	samples := make([]dataset.Sample, NSAMPLES)
	for range samples {
		r := <-results
		if r.err != nil {
			fmt.Fprintf(os.Stderr, "sample %d: %v\n", r.i, r.err)
			os.Exit(1)
		}
		samples[r.i] = r.sample
		fmt.Fprint(os.Stderr, ".")
	}
	fmt.Fprintln(os.Stderr, "done")

	if err := dataset.Save(os.Stdout, samples); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
