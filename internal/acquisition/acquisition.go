// Package acquisition implements the 2-D FFT-based code-phase x Doppler
// search: given a window of raw samples and a PRN's C/A code, it decides
// whether the satellite is present and, if so, at what code phase and
// carrier frequency.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/bramburn/gnssreceiver/internal/cacode"
	"github.com/bramburn/gnssreceiver/internal/fftutil"
	"github.com/bramburn/gnssreceiver/internal/gpsconst"
	"github.com/bramburn/gnssreceiver/internal/ringbuffer"
	"github.com/sirupsen/logrus"
)

// ErrNotPresent is returned when the two-peak ratio test fails: the PRN is
// not detectable in the supplied window.
var ErrNotPresent = errors.New("acquisition: satellite not present")

// Result is the outcome of a successful acquisition.
type Result struct {
	PRN           int
	CodePhase     int     // samples within one 1ms window
	CarrierFreqHz float64 // IF + Doppler
	PeakRatio     float64
	SampleIndex   uint64 // absolute buffer index of the detected code epoch
}

// Engine runs acquisition for a single PRN. It owns its own FFT plan cache
// and is not safe for concurrent use — one Engine per channel worker.
type Engine struct {
	prn           int
	fs            float64
	fIF           float64
	isComplex     bool
	ns            int // resampled code length, samples per 1ms
	codeResampled []int8
	refSpectrum   []complex128 // conj(FFT(ca_resampled)), precomputed once
	plans         *fftutil.PlanCache
	log           logrus.FieldLogger
}

// NewEngine builds an acquisition engine for prn at the given sample rate
// and intermediate frequency. isComplex indicates whether the front end
// supplies true I/Q (if false, the synthesized Q channel is already zero by
// the time samples reach the ring buffer, and the Doppler search sign
// convention still applies unchanged).
func NewEngine(prn int, fs, fIF float64, isComplex bool, log logrus.FieldLogger) (*Engine, error) {
	code, err := cacode.Generate(prn)
	if err != nil {
		return nil, err
	}
	resampled := cacode.Resample(code, fs)
	ns := len(resampled)

	plans := fftutil.NewPlanCache()
	codeComplex := make([]complex128, ns)
	for i, c := range resampled {
		codeComplex[i] = complex(float64(c), 0)
	}
	spectrum := plans.Forward(codeComplex)
	for i := range spectrum {
		spectrum[i] = complex(real(spectrum[i]), -imag(spectrum[i])) // conjugate
	}

	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Engine{
		prn:           prn,
		fs:            fs,
		fIF:           fIF,
		isComplex:     isComplex,
		ns:            ns,
		codeResampled: resampled,
		refSpectrum:   spectrum,
		plans:         plans,
		log:           log.WithField("prn", prn),
	}, nil
}

// RequiredSamples is the minimum window length (at least 11 code
// periods) the caller must supply to Search.
func (e *Engine) RequiredSamples() int {
	return 11 * e.ns
}

// dopplerBins returns the set of Doppler hypotheses searched, f_IF-14kHz to
// f_IF+14kHz in 500Hz steps (57 bins for the default span/step).
func (e *Engine) dopplerBins() []float64 {
	n := int(2*gpsconst.DopplerSearchSpanHz/gpsconst.DopplerSearchStepHz) + 1
	bins := make([]float64, n)
	for i := range bins {
		bins[i] = e.fIF - gpsconst.DopplerSearchSpanHz + float64(i)*gpsconst.DopplerSearchStepHz
	}
	return bins
}

// Search runs the two-peak-ratio acquisition test against window (which
// must be at least RequiredSamples() long) whose first sample is at the
// absolute buffer index windowStart. On success it also performs the fine
// Doppler refinement (step 5) before returning.
func (e *Engine) Search(ctx context.Context, window []ringbuffer.Sample, windowStart uint64) (Result, error) {
	if len(window) < e.RequiredSamples() {
		return Result{}, fmt.Errorf("acquisition: window too short: have %d, need %d", len(window), e.RequiredSamples())
	}

	block1 := liftComplex(window[0:e.ns])
	block2 := liftComplex(window[e.ns : 2*e.ns])

	bins := e.dopplerBins()
	magnitudes := make([][]float64, len(bins)) // M[bin][phase]

	type job struct {
		idx int
		fd  float64
	}
	jobs := make(chan job)
	var wg sync.WaitGroup
	workers := runtime.GOMAXPROCS(0)
	if workers > len(bins) {
		workers = len(bins)
	}
	if workers < 1 {
		workers = 1
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			plans := fftutil.NewPlanCache() // FFT plans are not shared across goroutines
			for j := range jobs {
				magnitudes[j.idx] = e.correlateAtDoppler(plans, block1, block2, j.fd)
			}
		}()
	}

	for i, fd := range bins {
		select {
		case jobs <- job{idx: i, fd: fd}:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return Result{}, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	binIdx, phaseIdx, peak1 := argmax2D(magnitudes)
	peak2 := secondPeak(magnitudes[binIdx], phaseIdx, e.ns, cacode.SamplesPerChip(e.fs))

	ratio := peak1 / peak2
	if ratio < gpsconst.TwoPeakRatioThresh {
		e.log.WithFields(logrus.Fields{"peak_ratio": ratio}).Debug("acquisition: two-peak test failed")
		return Result{}, ErrNotPresent
	}

	result := Result{
		PRN:           e.prn,
		CodePhase:     phaseIdx,
		CarrierFreqHz: bins[binIdx],
		PeakRatio:     ratio,
		SampleIndex:   windowStart + uint64(phaseIdx),
	}

	if refined, ok := e.refineDoppler(window, phaseIdx); ok {
		result.CarrierFreqHz = refined
	}

	e.log.WithFields(logrus.Fields{
		"code_phase":      result.CodePhase,
		"carrier_freq_hz": result.CarrierFreqHz,
		"peak_ratio":      result.PeakRatio,
	}).Info("acquisition: satellite acquired")

	return result, nil
}

// correlateAtDoppler wipes the given Doppler hypothesis off one 1ms block,
// circularly correlates it against the reference code spectrum, and
// returns the per-phase magnitude. It returns the larger of the two
// non-coherent blocks per phase bin, protecting against a data-bit edge
// landing inside the coherent integration window.
func (e *Engine) correlateAtDoppler(plans *fftutil.PlanCache, block1, block2 []complex128, fd float64) []float64 {
	wiped1 := wipeCarrier(block1, fd, e.fs)
	wiped2 := wipeCarrier(block2, fd, e.fs)

	corr1 := plans.CircularCorrelate(wiped1, e.refSpectrum)
	corr2 := plans.CircularCorrelate(wiped2, e.refSpectrum)

	out := make([]float64, e.ns)
	for i := range out {
		m1 := cmplxAbs(corr1[i])
		m2 := cmplxAbs(corr2[i])
		if m2 > m1 {
			out[i] = m2
		} else {
			out[i] = m1
		}
	}
	return out
}

// refineDoppler strips the prompt code from the time-domain signal over
// ~10ms, zero-pads, takes an FFT, and locates the residual carrier.
func (e *Engine) refineDoppler(window []ringbuffer.Sample, codePhase int) (float64, bool) {
	const msUsed = 10
	needed := msUsed * e.ns
	if len(window) < needed {
		return 0, false
	}

	iq := liftComplex(window[:needed])

	var meanI, meanQ float64
	for _, s := range iq {
		meanI += real(s)
		meanQ += imag(s)
	}
	meanI /= float64(len(iq))
	meanQ /= float64(len(iq))

	wiped := make([]complex128, len(iq))
	for n, s := range iq {
		chipIdx := ((n-codePhase)%e.ns + e.ns) % e.ns
		c := float64(e.codeResampled[chipIdx])
		wiped[n] = complex(real(s)-meanI, imag(s)-meanQ) * complex(c, 0)
	}

	fftSize := 8 * fftutil.NextPow2(len(wiped))
	padded := make([]complex128, fftSize)
	copy(padded, wiped)

	plans := fftutil.NewPlanCache()
	spectrum := plans.Forward(padded)

	peakIdx := 0
	peakMag := -1.0
	for i, v := range spectrum {
		mag := cmplxAbs(v)
		if mag > peakMag {
			peakMag = mag
			peakIdx = i
		}
	}

	var freq float64
	if peakIdx <= fftSize/2 {
		freq = float64(peakIdx) * e.fs / float64(fftSize)
	} else {
		freq = float64(peakIdx-fftSize) * e.fs / float64(fftSize)
	}
	return freq, true
}

func wipeCarrier(block []complex128, fd, fs float64) []complex128 {
	out := make([]complex128, len(block))
	w := -2 * math.Pi * fd / fs
	for n, s := range block {
		angle := w * float64(n)
		lo := complex(math.Cos(angle), math.Sin(angle))
		out[n] = s * lo
	}
	return out
}

func liftComplex(samples []ringbuffer.Sample) []complex128 {
	out := make([]complex128, len(samples))
	for i, s := range samples {
		out[i] = complex(float64(s.I), float64(s.Q))
	}
	return out
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// argmax2D returns the lowest-index (row,col) achieving the maximum value
// in m, and that maximum value.
func argmax2D(m [][]float64) (row, col int, val float64) {
	val = math.Inf(-1)
	for r, rowVals := range m {
		for c, v := range rowVals {
			if v > val {
				val = v
				row, col = r, c
			}
		}
	}
	return row, col, val
}

// secondPeak returns the maximum of row with the +/- samplesPerChip
// neighborhood of phaseIdx excised, modulo n (circular correlation).
func secondPeak(row []float64, phaseIdx, n int, samplesPerChip float64) float64 {
	excl := int(math.Ceil(samplesPerChip))
	excluded := make(map[int]bool, 2*excl+1)
	for d := -excl; d <= excl; d++ {
		excluded[((phaseIdx+d)%n+n)%n] = true
	}

	val := math.Inf(-1)
	for i, v := range row {
		if excluded[i] {
			continue
		}
		if v > val {
			val = v
		}
	}
	return val
}
