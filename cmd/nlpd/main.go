package main

import (
	"bitbucket.org/dtolpin/mgp/train"
	"flag"
	"fmt"
	"github.com/gocarina/gocsv"
	"log"
	"os"
)

var (
	SKIP     = 0
	ACCURACY = false
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			`Computes average negative log predictive density of labels
in a predictions file. Invocation:
	%s  [OPTIONS] < PREDICTIONS
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.IntVar(&SKIP, "s", SKIP, "initial records to skip")
	flag.BoolVar(&ACCURACY, "accuracy", ACCURACY, "print accuracy as well")
}

func main() {
	flag.Parse()

	var preds []*train.Prediction
	if err := gocsv.Unmarshal(os.Stdin, &preds); err != nil {
		log.Fatal(err)
	}
	if SKIP < len(preds) {
		preds = preds[SKIP:]
	} else {
		preds = nil
	}

	score := train.Summarize(preds)
	if ACCURACY {
		fmt.Printf("%f %f\n", score.NLL, score.Accuracy)
	} else {
		fmt.Printf("%f\n", score.NLL)
	}
}
