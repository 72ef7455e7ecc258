package kernel

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrDevices is returned for an invalid device configuration.
var ErrDevices = errors.New("invalid device configuration")

// Devices shards the rows of a Gram matrix across N workers,
// one goroutine per device. All devices are joined before Run
// returns, and partial results are reduced on Output.
type Devices struct {
	N      int
	Output int
}

func (d Devices) validate() error {
	if d.N < 1 {
		return errors.Wrapf(ErrDevices, "%d devices", d.N)
	}
	if d.Output < 0 || d.Output >= d.N {
		return errors.Wrapf(ErrDevices,
			"output device %d not among %d devices", d.Output, d.N)
	}
	return nil
}

// Run calls f on consecutive row blocks [lo, hi), one block
// per device, and waits for all of them.
func (d Devices) Run(rows int, f func(device, lo, hi int)) {
	if d.N <= 1 {
		f(0, 0, rows)
		return
	}
	block := (rows + d.N - 1) / d.N
	var wg sync.WaitGroup
	for device := 0; device != d.N; device++ {
		lo := device * block
		hi := lo + block
		if hi > rows {
			hi = rows
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(device, lo, hi int) {
			defer wg.Done()
			f(device, lo, hi)
		}(device, lo, hi)
	}
	wg.Wait()
}
