package fftutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForwardInverseRoundTrip(t *testing.T) {
	c := NewPlanCache()

	src := make([]complex128, 16)
	for i := range src {
		src[i] = complex(math.Sin(float64(i)), 0)
	}

	spectrum := c.Forward(src)
	back := c.Inverse(spectrum)

	for i := range src {
		assert.InDelta(t, real(src[i]), real(back[i]), 1e-9)
		assert.InDelta(t, imag(src[i]), imag(back[i]), 1e-9)
	}
}

func TestCircularCorrelatePeaksAtShift(t *testing.T) {
	c := NewPlanCache()
	n := 64
	ref := make([]complex128, n)
	for i := range ref {
		if i%7 == 0 {
			ref[i] = 1
		}
	}
	refSpectrumConj := c.Forward(ref)
	for i := range refSpectrumConj {
		refSpectrumConj[i] = complex(real(refSpectrumConj[i]), -imag(refSpectrumConj[i]))
	}

	shift := 10
	signal := make([]complex128, n)
	for i := range ref {
		signal[(i+shift)%n] = ref[i]
	}

	corr := c.CircularCorrelate(signal, refSpectrumConj)

	peakIdx := 0
	peakVal := math.Inf(-1)
	for i, v := range corr {
		mag := math.Hypot(real(v), imag(v))
		if mag > peakVal {
			peakVal = mag
			peakIdx = i
		}
	}
	assert.Equal(t, shift, peakIdx)
}

func TestNextPow2(t *testing.T) {
	assert.Equal(t, 1, NextPow2(1))
	assert.Equal(t, 8, NextPow2(5))
	assert.Equal(t, 1024, NextPow2(1024))
	assert.Equal(t, 2048, NextPow2(1025))
}
