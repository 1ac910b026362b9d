// Package gpsconst holds the GPS L1 C/A constants shared by every stage of
// the receiver pipeline: the code generator, acquisition, tracking and the
// navigation bit/frame decoder all key off the same numbers.
package gpsconst

import "time"

// RF and code-domain constants.
const (
	L1FreqHz        = 1.57542e9 // L1 carrier frequency
	CodeRateChipsHz = 1.023e6   // C/A chipping rate, chips/s
	CodeLengthChips = 1023      // chips per C/A code period
	CodePeriod      = time.Millisecond
	MinPRN          = 1
	MaxPRN          = 32
)

// Navigation message structure (IS-GPS-200 §20.3).
const (
	BitPeriod          = 20 * time.Millisecond // one nav bit = 20 code periods
	SymbolsPerBit      = 20
	WordBits           = 30
	WordsPerSubframe   = 10
	SubframeBits       = WordsPerSubframe * WordBits // 300
	PreambleLengthBits = 8
	HOWTowBits         = 17 // truncated TOW count in word 2 (HOW)
	HOWSubframeIDBits  = 3  // subframe ID, bits 20-22 of word 2
	WeekNumberBits     = 10 // bits 1-10 of word 3, subframe 1 only
)

// Preamble is the fixed 8-bit TLM prefix, in ±1 (bipolar) form.
var Preamble = [PreambleLengthBits]int8{1, -1, -1, -1, 1, -1, 1, 1}

// Tracking loop-filter constants, ported from the reference
// implementation's tracking.rs (PLL_*/DLL_* statics).
const (
	PLLNoiseBandwidthHz = 25.0
	PLLDampingRatio     = 0.7
	PLLGain             = 0.25

	DLLNoiseBandwidthHz = 2.0
	DLLDampingRatio     = 0.7
	DLLGain             = 1.0

	EarlyLateSpacingChips = 0.5

	LoopUpdateIntervalS = 0.001 // T, one code period
)

// Acquisition search parameters.
const (
	DopplerSearchSpanHz = 14000.0
	DopplerSearchStepHz = 500.0
	TwoPeakRatioThresh  = 1.4
)

// Default ring-buffer sizing, matching the original's APP_BUFFER_NUM x
// BUFFER_SIZE.
const (
	DefaultRingBlocks    = 6000
	DefaultRingBlockSize = 16384
)
