package navsync

import "github.com/bramburn/gnssreceiver/internal/gpsconst"

// BitSync finds the 20ms navigation-bit boundary within the 1kHz prompt
// correlator stream using the histogram method: a sign transition between
// consecutive I_P values can only occur at a bit edge, so tallying which
// of the 20 possible offsets sees transitions reveals the edge.
type BitSync struct {
	hist       [gpsconst.SymbolsPerBit]int
	stepCount  int
	havePrevIP bool
	prevIP     float64
	locked     bool
	offset     int
	lastSlot   int
}

// lockThreshold is the histogram count at which an offset is accepted as
// the bit boundary.
const lockThreshold = 30

// NewBitSync returns an unlocked bit synchronizer.
func NewBitSync() *BitSync {
	return &BitSync{}
}

// Locked reports whether bit sync has been achieved, and if so the slot
// (0..19) at which a new navigation bit begins.
func (b *BitSync) Locked() (offset int, locked bool) {
	return b.offset, b.locked
}

// Observe feeds one 1ms prompt correlator value. It returns true the
// instant the histogram first reaches lockThreshold.
func (b *BitSync) Observe(ip float64) (justLocked bool) {
	slot := b.stepCount % gpsconst.SymbolsPerBit
	b.lastSlot = slot
	if b.havePrevIP && signOf(b.prevIP) != signOf(ip) && signOf(ip) != 0 && signOf(b.prevIP) != 0 {
		b.hist[slot]++
		if !b.locked && b.hist[slot] >= lockThreshold {
			b.locked = true
			b.offset = slot
			justLocked = true
		}
	}
	b.prevIP = ip
	b.havePrevIP = true
	b.stepCount++
	return justLocked
}

// Slot returns the 0..19 histogram slot of the sample most recently passed
// to Observe.
func (b *BitSync) Slot() int {
	return b.lastSlot
}

func signOf(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
