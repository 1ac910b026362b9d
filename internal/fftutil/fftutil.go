// Package fftutil wraps gonum's FFT implementation behind a small plan
// cache: build one gonum fourier instance per transform length and reuse
// it, one cache per worker.
package fftutil

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// PlanCache caches gonum CmplxFFT plans by length. It is not safe for
// concurrent use across goroutines; each acquisition worker owns its own
// PlanCache.
type PlanCache struct {
	plans map[int]*fourier.CmplxFFT
}

// NewPlanCache returns an empty, per-worker plan cache.
func NewPlanCache() *PlanCache {
	return &PlanCache{plans: make(map[int]*fourier.CmplxFFT)}
}

func (c *PlanCache) plan(n int) *fourier.CmplxFFT {
	if p, ok := c.plans[n]; ok {
		return p
	}
	p := fourier.NewCmplxFFT(n)
	c.plans[n] = p
	return p
}

// Forward computes the length-len(src) complex DFT of src into a freshly
// allocated slice.
func (c *PlanCache) Forward(src []complex128) []complex128 {
	p := c.plan(len(src))
	return p.Coefficients(nil, src)
}

// Inverse computes the inverse DFT of src into a freshly allocated slice,
// scaled by 1/N so that Inverse(Forward(x)) == x. gonum's Sequence is
// unnormalized, so the 1/N factor is applied here.
func (c *PlanCache) Inverse(src []complex128) []complex128 {
	p := c.plan(len(src))
	out := p.Sequence(nil, src)
	scale := complex(1/float64(len(src)), 0)
	for i := range out {
		out[i] *= scale
	}
	return out
}

// CircularCorrelate computes the circular cross-correlation of signal and
// conjugated-reference-spectrum refSpectrum (both length n, refSpectrum
// already conj(FFT(reference))): IFFT(FFT(signal) .* refSpectrum).
func (c *PlanCache) CircularCorrelate(signal []complex128, refSpectrum []complex128) []complex128 {
	n := len(signal)
	spectrum := c.Forward(signal)
	product := make([]complex128, n)
	for i := range product {
		product[i] = spectrum[i] * refSpectrum[i]
	}
	return c.Inverse(product)
}

// NextPow2 returns the smallest power of two >= n.
func NextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
