package likelihood

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoise(t *testing.T) {
	g := NewGaussian()
	assert.InDelta(t, 0.01+MinNoise, g.Noise(), 1e-15)
	assert.InDelta(t, 0.01, g.DNoise(), 1e-15)

	// the variance never drops below the floor
	g.LogNoise = -1000
	assert.Equal(t, MinNoise, g.Noise())
	assert.Equal(t, 0., g.DNoise())

	const dx = 1e-6
	g.LogNoise = math.Log(0.3)
	fp := (&Gaussian{LogNoise: g.LogNoise + dx}).Noise()
	fm := (&Gaussian{LogNoise: g.LogNoise - dx}).Noise()
	assert.InDelta(t, (fp-fm)/(2*dx), g.DNoise(), 1e-8)
}

func TestMode(t *testing.T) {
	g := NewGaussian()
	assert.False(t, g.Training())
	g.Train()
	assert.True(t, g.Training())
	g.Eval()
	assert.False(t, g.Training())
}
