// Package cacode generates the GPS L1 C/A (Gold code) pseudo-random
// sequences used by acquisition and tracking to correlate against the
// received signal for a given PRN.
package cacode

import (
	"fmt"
	"math"

	"github.com/bramburn/gnssreceiver/internal/gpsconst"
)

// g2Taps holds the two G2 output-tap positions (1-indexed, per the
// standard published GPS ICD table) used to select each PRN's unique delay
// of the G2 sequence. Index 0 is unused so PRN can index directly.
var g2Taps = [gpsconst.MaxPRN + 1][2]int{
	1:  {2, 6},
	2:  {3, 7},
	3:  {4, 8},
	4:  {5, 9},
	5:  {1, 9},
	6:  {2, 10},
	7:  {1, 8},
	8:  {2, 9},
	9:  {3, 10},
	10: {2, 3},
	11: {3, 4},
	12: {5, 6},
	13: {6, 7},
	14: {7, 8},
	15: {8, 9},
	16: {9, 10},
	17: {1, 4},
	18: {2, 5},
	19: {3, 6},
	20: {4, 7},
	21: {5, 8},
	22: {6, 9},
	23: {1, 3},
	24: {4, 6},
	25: {5, 7},
	26: {6, 8},
	27: {7, 9},
	28: {8, 10},
	29: {1, 6},
	30: {2, 7},
	31: {3, 8},
	32: {4, 9},
}

// g1FeedbackTaps and g2FeedbackTaps are the fixed feedback-polynomial taps
// shared across every PRN (1-indexed register positions).
var (
	g1FeedbackTaps = [2]int{3, 10}
	g2FeedbackTaps = [6]int{2, 3, 6, 8, 9, 10}
)

// Generate returns the length-1023 Gold code for prn, as bipolar {-1,+1}
// chips. PRNs outside [1,32] are rejected.
func Generate(prn int) ([gpsconst.CodeLengthChips]int8, error) {
	var code [gpsconst.CodeLengthChips]int8

	if prn < gpsconst.MinPRN || prn > gpsconst.MaxPRN {
		return code, fmt.Errorf("cacode: prn %d out of range [%d,%d]", prn, gpsconst.MinPRN, gpsconst.MaxPRN)
	}

	// 10-bit shift registers, all-ones initial state. Tap positions are
	// 1-indexed as in the ICD, so each lookup subtracts one.
	var g1, g2 [10]int8
	for i := range g1 {
		g1[i] = 1
		g2[i] = 1
	}

	taps := g2Taps[prn]

	for chip := 0; chip < gpsconst.CodeLengthChips; chip++ {
		g1Out := g1[9]
		g2Out := g2[taps[0]-1] ^ g2[taps[1]-1]

		bit := g1Out ^ g2Out
		if bit == 0 {
			code[chip] = -1
		} else {
			code[chip] = 1
		}

		g1Fb := g1[g1FeedbackTaps[0]-1] ^ g1[g1FeedbackTaps[1]-1]
		var g2Fb int8
		for _, t := range g2FeedbackTaps {
			g2Fb ^= g2[t-1]
		}

		copy(g1[1:], g1[:9])
		g1[0] = g1Fb
		copy(g2[1:], g2[:9])
		g2[0] = g2Fb
	}

	return code, nil
}

// Resample returns the C/A code resampled to fs samples/sec via nearest-chip
// lookup: length Ns = round(fs / (chipRate/1023)).
func Resample(code [gpsconst.CodeLengthChips]int8, fs float64) []int8 {
	chipPeriod := gpsconst.CodeLengthChips / gpsconst.CodeRateChipsHz // 1ms
	ns := int(math.Round(fs * chipPeriod))

	out := make([]int8, ns)
	chipsPerSample := gpsconst.CodeLengthChips / float64(ns)
	for i := 0; i < ns; i++ {
		chipIdx := int(float64(i) * chipsPerSample)
		if chipIdx >= gpsconst.CodeLengthChips {
			chipIdx = gpsconst.CodeLengthChips - 1
		}
		out[i] = code[chipIdx]
	}
	return out
}

// SamplesPerChip returns fs / chipRate, used by acquisition to size the
// second-peak exclusion window.
func SamplesPerChip(fs float64) float64 {
	return fs / gpsconst.CodeRateChipsHz
}
