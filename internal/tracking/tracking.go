// Package tracking implements the Costas carrier PLL and early/prompt/late
// code DLL. The discriminators and loop-filter formulas are ported
// value-for-value from the prototype's tracking.rs, generalized from its
// fixed-global-state functions into a State value that one channel
// goroutine owns exclusively and passes through Step once per code period.
package tracking

import (
	"fmt"
	"math"

	"github.com/bramburn/gnssreceiver/internal/gpsconst"
	"github.com/bramburn/gnssreceiver/internal/ringbuffer"
)

// State is the loop state carried from one code-period step to the next.
type State struct {
	AcqCarrierFreqHz float64 // fixed at acquisition; carrier_freq = this + CarrierNCO

	CodeFreqHz     float64
	CodePhaseError float64
	CodeNCO        float64
	CodeError      float64

	CarrierFreqHz     float64
	CarrierPhaseError float64
	CarrierNCO        float64
	CarrierError      float64
}

// NewState seeds loop state from an acquisition carrier frequency estimate.
func NewState(acqCarrierFreqHz float64) State {
	return State{
		AcqCarrierFreqHz: acqCarrierFreqHz,
		CodeFreqHz:       gpsconst.CodeRateChipsHz,
		CarrierFreqHz:    acqCarrierFreqHz,
	}
}

// NextEpochSamples returns how many samples the caller must supply to Step
// to complete the next code period, given the current loop state.
func (s State) NextEpochSamples(fs float64) int {
	codePhaseStep := s.CodeFreqHz / fs
	n := math.Ceil((gpsconst.CodeLengthChips - s.CodePhaseError) / codePhaseStep)
	return int(n)
}

// Update is the per-epoch tracking output: the correlator and
// discriminator values produced by one Step call.
type Update struct {
	IPrompt, QPrompt float64
	IEarly, QEarly   float64
	ILate, QLate     float64
	CodeError        float64
	CarrierError     float64
	State            State
}

// extendedCode wraps a 1023-chip code with one guard chip on each side so
// that early/late/prompt indices produced by ceil() never go out of range.
func extendedCode(code [gpsconst.CodeLengthChips]int8) []float64 {
	out := make([]float64, gpsconst.CodeLengthChips+2)
	out[0] = float64(code[gpsconst.CodeLengthChips-1])
	for i, c := range code {
		out[i+1] = float64(c)
	}
	out[gpsconst.CodeLengthChips+1] = float64(code[0])
	return out
}

func codeAt(ext []float64, idx float64) float64 {
	i := int(math.Ceil(idx))
	if i < 0 {
		i = 0
	}
	if i >= len(ext) {
		i = len(ext) - 1
	}
	return ext[i]
}

// Step advances the loop by one code period. samples must have length
// state.NextEpochSamples(fs); code is the PRN's un-resampled 1023-chip
// sequence (+-1).
func Step(samples []ringbuffer.Sample, code [gpsconst.CodeLengthChips]int8, state State, fs float64) (Update, error) {
	n := state.NextEpochSamples(fs)
	if len(samples) != n {
		return Update{}, fmt.Errorf("tracking: need %d samples for this epoch, got %d", n, len(samples))
	}
	ext := extendedCode(code)
	codePhaseStep := state.CodeFreqHz / fs

	qArm := make([]float64, n)
	iArm := make([]float64, n)
	w := 2 * math.Pi * state.CarrierFreqHz / fs
	for x := 0; x < n; x++ {
		angle := w*float64(x) + state.CarrierPhaseError
		lc := complex(math.Cos(angle), math.Sin(angle))
		sig := complex(float64(samples[x].I), float64(samples[x].Q))
		p := lc * sig
		qArm[x] = real(p)
		iArm[x] = imag(p)
	}
	newCarrierPhaseError := math.Mod(w*float64(n)+state.CarrierPhaseError, 2*math.Pi)
	if newCarrierPhaseError < 0 {
		newCarrierPhaseError += 2 * math.Pi
	}

	promptCode := make([]float64, n)
	for x := 0; x < n; x++ {
		promptCode[x] = codeAt(ext, float64(x)*codePhaseStep+state.CodePhaseError)
	}
	var qPromptCostas, iPromptCostas float64
	for x := 0; x < n; x++ {
		qPromptCostas += qArm[x] * promptCode[x]
		iPromptCostas += iArm[x] * promptCode[x]
	}
	dCarrierError := math.Atan(qPromptCostas/iPromptCostas) / (2 * math.Pi)

	tau1Carr, tau2Carr := calculateLoopEfficient(gpsconst.PLLNoiseBandwidthHz, gpsconst.PLLDampingRatio, gpsconst.PLLGain)
	carrierNCO := state.CarrierNCO +
		(tau2Carr/tau1Carr)*(dCarrierError-state.CarrierError) +
		dCarrierError*(gpsconst.LoopUpdateIntervalS/tau1Carr)
	carrierFreq := state.AcqCarrierFreqHz + carrierNCO

	var qEarly, iEarly, qLate, iLate, qPrompt, iPrompt float64
	for x := 0; x < n; x++ {
		phase := float64(x)*codePhaseStep + state.CodePhaseError
		early := codeAt(ext, phase-gpsconst.EarlyLateSpacingChips)
		late := codeAt(ext, phase+gpsconst.EarlyLateSpacingChips)
		prompt := codeAt(ext, phase)
		qEarly += qArm[x] * early
		iEarly += iArm[x] * early
		qLate += qArm[x] * late
		iLate += iArm[x] * late
		qPrompt += qArm[x] * prompt
		iPrompt += iArm[x] * prompt
	}
	newCodePhaseError := float64(n)*codePhaseStep + state.CodePhaseError - gpsconst.CodeLengthChips

	earlyMag := math.Hypot(iEarly, qEarly)
	lateMag := math.Hypot(iLate, qLate)
	dCodeError := (earlyMag - lateMag) / (earlyMag + lateMag)

	tau1Code, tau2Code := calculateLoopEfficient(gpsconst.DLLNoiseBandwidthHz, gpsconst.DLLDampingRatio, gpsconst.DLLGain)
	codeNCO := state.CodeNCO +
		(tau2Code/tau1Code)*(dCodeError-state.CodeError) +
		dCodeError*(gpsconst.LoopUpdateIntervalS/tau1Code)
	codeFreq := gpsconst.CodeRateChipsHz - codeNCO

	newState := State{
		AcqCarrierFreqHz:  state.AcqCarrierFreqHz,
		CodeFreqHz:        codeFreq,
		CodePhaseError:    newCodePhaseError,
		CodeNCO:           codeNCO,
		CodeError:         dCodeError,
		CarrierFreqHz:     carrierFreq,
		CarrierPhaseError: newCarrierPhaseError,
		CarrierNCO:        carrierNCO,
		CarrierError:      dCarrierError,
	}

	return Update{
		IPrompt:      iPrompt,
		QPrompt:      qPrompt,
		IEarly:       iEarly,
		QEarly:       qEarly,
		ILate:        iLate,
		QLate:        qLate,
		CodeError:    dCodeError,
		CarrierError: dCarrierError,
		State:        newState,
	}, nil
}

// calculateLoopEfficient returns the (tau1, tau2) loop-filter time constants
// for a second-order loop with the given noise bandwidth, damping ratio and
// discriminator gain.
func calculateLoopEfficient(noiseBW, dampingRatio, gain float64) (tau1, tau2 float64) {
	w := noiseBW * 8.0 * dampingRatio / (4.0*dampingRatio*dampingRatio + 1.0)
	tau1 = gain / (w * w)
	tau2 = 2.0 * dampingRatio / w
	return tau1, tau2
}
