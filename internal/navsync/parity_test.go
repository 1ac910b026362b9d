package navsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeParityRoundTrip(t *testing.T) {
	cases := []struct {
		data             uint32
		prevD29, prevD30 uint8
	}{
		{data: 0x000000, prevD29: 0, prevD30: 0},
		{data: 0xFFFFFF, prevD29: 0, prevD30: 0},
		{data: 0xABCDEF, prevD29: 1, prevD30: 0},
		{data: 0x123456, prevD29: 0, prevD30: 1},
		{data: 0x555555, prevD29: 1, prevD30: 1},
	}

	for _, tc := range cases {
		word := encodeParity(tc.data, tc.prevD29, tc.prevD30)
		got, ok := checkParity(word, tc.prevD29, tc.prevD30)
		assert.True(t, ok, "data=%#x prevD29=%d prevD30=%d", tc.data, tc.prevD29, tc.prevD30)
		assert.Equal(t, tc.data, got)
	}
}

func TestCheckParityDetectsCorruption(t *testing.T) {
	word := encodeParity(0x123456, 0, 0)
	corrupted := word ^ (1 << 10) // flip one data bit
	_, ok := checkParity(corrupted, 0, 0)
	assert.False(t, ok)
}

func TestCheckParityUsesDeInvertedBitsForOddRows(t *testing.T) {
	// All-zero source data with prevD30=1: rows 4 and 5 have an odd count
	// of data-bit terms, so computing parity from the still-inverted
	// transmitted bits instead of the de-inverted source bits would flip
	// D29/D30 for exactly these rows.
	word := encodeParity(0x000000, 0, 1)
	_, ok := checkParity(word, 0, 1)
	assert.True(t, ok)
}

func TestPrevBitsReadsLastTwoBits(t *testing.T) {
	word := encodeParity(0, 1, 0)
	d29, d30 := prevBits(word)
	assert.Equal(t, d29, uint8(word>>1)&1)
	assert.Equal(t, d30, uint8(word&1))
}
