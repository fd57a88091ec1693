package audio

import (
	"math"
	"sync/atomic"
)

// RMS returns the root mean square of normalised samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// LevelMeter keeps the RMS of the most recent frame for level displays.
// Safe for concurrent use.
type LevelMeter struct {
	bits atomic.Uint64
}

// Observe records the level of samples.
func (m *LevelMeter) Observe(samples []float32) {
	m.bits.Store(math.Float64bits(RMS(samples)))
}

// Level returns the last observed RMS.
func (m *LevelMeter) Level() float64 {
	return math.Float64frombits(m.bits.Load())
}

// Reset clears the meter.
func (m *LevelMeter) Reset() {
	m.bits.Store(0)
}
