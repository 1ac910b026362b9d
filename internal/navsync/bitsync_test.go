package navsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedBits drives a BitSync with one sample per millisecond for each of
// symbols, each symbol held for 20ms (so every 20th sample is a
// transition boundary).
func feedBits(b *BitSync, symbols []int8) {
	for _, sym := range symbols {
		for i := 0; i < 20; i++ {
			b.Observe(float64(sym) * 1000)
		}
	}
}

func TestBitSyncLocksOnRepeatedTransitions(t *testing.T) {
	b := NewBitSync()
	symbols := make([]int8, 40)
	for i := range symbols {
		if i%2 == 0 {
			symbols[i] = 1
		} else {
			symbols[i] = -1
		}
	}
	feedBits(b, symbols)

	_, locked := b.Locked()
	require.True(t, locked)
}

func TestBitSyncStaysUnlockedWithoutTransitions(t *testing.T) {
	b := NewBitSync()
	for i := 0; i < 2000; i++ {
		b.Observe(1000)
	}
	_, locked := b.Locked()
	assert.False(t, locked)
}

func TestSignOf(t *testing.T) {
	assert.Equal(t, 1, signOf(5))
	assert.Equal(t, -1, signOf(-5))
	assert.Equal(t, 0, signOf(0))
}
