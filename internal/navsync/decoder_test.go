package navsync

import (
	"testing"

	"github.com/bramburn/gnssreceiver/internal/gpsconst"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedSymbol drives the decoder through one 20ms navigation bit, holding
// sign for all 20 one-millisecond steps, and returns whatever Step last
// produced.
func feedSymbol(d *Decoder, sign int8, cursor *uint64) (*NavBitEvent, *SubframeMessage) {
	var bit *NavBitEvent
	var sf *SubframeMessage
	for i := 0; i < gpsconst.SymbolsPerBit; i++ {
		bit, sf = d.Step(float64(sign)*1000, *cursor)
		*cursor++
	}
	return bit, sf
}

// wordSymbols converts a 30-bit transmitted word into its +-1 symbol
// sequence, MSB first.
func wordSymbols(word uint32) []int8 {
	out := make([]int8, gpsconst.WordBits)
	for i := 0; i < gpsconst.WordBits; i++ {
		bitPos := gpsconst.WordBits - 1 - i
		if (word>>uint(bitPos))&1 == 1 {
			out[i] = 1
		} else {
			out[i] = -1
		}
	}
	return out
}

func TestDecoderLocksAndDecodesSubframe(t *testing.T) {
	d := NewDecoder(12)
	var cursor uint64

	// Drive bit sync: alternating symbols produce a transition every
	// 20 samples, all landing in the same histogram slot.
	for i := 0; i < 35; i++ {
		sign := int8(1)
		if i%2 == 1 {
			sign = -1
		}
		feedSymbol(d, sign, &cursor)
	}
	require.True(t, d.BitLocked())

	// Word 1 (TLM): d1-d8 must equal the preamble bit pattern 10001011.
	word1 := encodeParity(0x8B0000, 0, 0)
	prevD29, prevD30 := prevBits(word1)

	const tow = uint32(100000)
	const subframeID = uint32(3)
	data2 := ((tow & 0x1FFFF) << 7) | ((subframeID & 0x7) << 2)
	word2 := encodeParity(data2, prevD29, prevD30)
	prevD29, prevD30 = prevBits(word2)

	words := []uint32{word1, word2}
	for w := 2; w < gpsconst.WordsPerSubframe; w++ {
		word := encodeParity(0, prevD29, prevD30)
		words = append(words, word)
		prevD29, prevD30 = prevBits(word)
	}

	var symbols []int8
	for _, w := range words {
		symbols = append(symbols, wordSymbols(w)...)
	}
	require.Len(t, symbols, gpsconst.SubframeBits)

	var lastSubframe *SubframeMessage
	for _, sym := range symbols {
		_, sf := feedSymbol(d, sym, &cursor)
		if sf != nil {
			lastSubframe = sf
		}
	}

	require.True(t, d.FrameLocked())
	require.NotNil(t, lastSubframe)
	assert.Equal(t, 12, lastSubframe.PRN)
	assert.Equal(t, tow, lastSubframe.TOW)
	assert.Equal(t, uint8(subframeID), lastSubframe.SubframeID)
	assert.Nil(t, lastSubframe.WeekNumber)
}

func TestDecoderEmitsSubframeDespiteCorruptionPastHOW(t *testing.T) {
	d := NewDecoder(12)
	var cursor uint64
	for i := 0; i < 35; i++ {
		sign := int8(1)
		if i%2 == 1 {
			sign = -1
		}
		feedSymbol(d, sign, &cursor)
	}
	require.True(t, d.BitLocked())

	word1 := encodeParity(0x8B0000, 0, 0)
	prevD29, prevD30 := prevBits(word1)

	const tow = uint32(200000)
	const subframeID = uint32(2)
	data2 := ((tow & 0x1FFFF) << 7) | ((subframeID & 0x7) << 2)
	word2 := encodeParity(data2, prevD29, prevD30)
	prevD29, prevD30 = prevBits(word2)

	words := []uint32{word1, word2}
	for w := 2; w < gpsconst.WordsPerSubframe; w++ {
		word := encodeParity(0, prevD29, prevD30)
		if w == 3 {
			word ^= 1 // corrupt word 4's parity only, well past TLM/HOW
		}
		words = append(words, word)
		prevD29, prevD30 = prevBits(word)
	}

	var symbols []int8
	for _, w := range words {
		symbols = append(symbols, wordSymbols(w)...)
	}

	var lastSubframe *SubframeMessage
	for _, sym := range symbols {
		_, sf := feedSymbol(d, sym, &cursor)
		if sf != nil {
			lastSubframe = sf
		}
	}

	require.NotNil(t, lastSubframe, "a bit error past HOW must not suppress an otherwise-valid TOW")
	assert.Equal(t, tow, lastSubframe.TOW)
	assert.Equal(t, uint8(subframeID), lastSubframe.SubframeID)
}

func TestDecoderOmitsWeekNumberWhenWord3FailsParity(t *testing.T) {
	d := NewDecoder(12)
	var cursor uint64
	for i := 0; i < 35; i++ {
		sign := int8(1)
		if i%2 == 1 {
			sign = -1
		}
		feedSymbol(d, sign, &cursor)
	}
	require.True(t, d.BitLocked())

	word1 := encodeParity(0x8B0000, 0, 0)
	prevD29, prevD30 := prevBits(word1)

	const tow = uint32(300000)
	const subframeID = uint32(1)
	data2 := ((tow & 0x1FFFF) << 7) | ((subframeID & 0x7) << 2)
	word2 := encodeParity(data2, prevD29, prevD30)
	prevD29, prevD30 = prevBits(word2)

	words := []uint32{word1, word2}
	for w := 2; w < gpsconst.WordsPerSubframe; w++ {
		word := encodeParity(0, prevD29, prevD30)
		if w == 2 {
			word ^= 1 // corrupt word 3's parity: week number must be omitted
		}
		words = append(words, word)
		prevD29, prevD30 = prevBits(word)
	}

	var symbols []int8
	for _, w := range words {
		symbols = append(symbols, wordSymbols(w)...)
	}

	var lastSubframe *SubframeMessage
	for _, sym := range symbols {
		_, sf := feedSymbol(d, sym, &cursor)
		if sf != nil {
			lastSubframe = sf
		}
	}

	require.NotNil(t, lastSubframe)
	assert.Equal(t, tow, lastSubframe.TOW)
	assert.Nil(t, lastSubframe.WeekNumber)
}

func TestDecoderRejectsCorruptedSubframe(t *testing.T) {
	d := NewDecoder(1)
	var cursor uint64
	for i := 0; i < 35; i++ {
		sign := int8(1)
		if i%2 == 1 {
			sign = -1
		}
		feedSymbol(d, sign, &cursor)
	}
	require.True(t, d.BitLocked())

	word1 := encodeParity(0x8B0000, 0, 0) ^ 1 // corrupt one parity bit
	symbols := wordSymbols(word1)
	for i := 0; i < gpsconst.WordsPerSubframe-1; i++ {
		symbols = append(symbols, wordSymbols(0)...)
	}

	var lastSubframe *SubframeMessage
	for _, sym := range symbols {
		_, sf := feedSymbol(d, sym, &cursor)
		if sf != nil {
			lastSubframe = sf
		}
	}
	assert.Nil(t, lastSubframe)
}
