package channel

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/bramburn/gnssreceiver/internal/cacode"
	"github.com/bramburn/gnssreceiver/internal/metrics"
	"github.com/bramburn/gnssreceiver/internal/ringbuffer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testFs = 2_046_000.0

// buildDroppingSignal generates a continuous synthetic capture of a single
// PRN at a fixed code phase and small Doppler, strong for the first
// transitionSample samples and then scaled down (never to exactly zero, to
// avoid feeding the Costas discriminator a 0/0) for the remainder -- enough
// to drive a locked channel into loss-of-lock once it reads past the
// transition.
func buildDroppingSignal(t *testing.T, prn int, dopplerHz float64, codePhase, total, transitionSample int) []ringbuffer.Sample {
	t.Helper()
	code, err := cacode.Generate(prn)
	require.NoError(t, err)
	resampled := cacode.Resample(code, testFs)
	ns := len(resampled)

	out := make([]ringbuffer.Sample, total)
	for n := range out {
		chip := resampled[((n+codePhase)%ns+ns)%ns]
		angle := 2 * math.Pi * dopplerHz * float64(n) / testFs
		amp := 2000.0
		if n >= transitionSample {
			amp = 4.0
		}
		v := amp * float64(chip)
		out[n] = ringbuffer.Sample{
			I: int16(v * math.Cos(angle)),
			Q: int16(v * math.Sin(angle)),
		}
	}
	return out
}

func TestChannelAcquiresTracksAndRecoversFromLossOfLock(t *testing.T) {
	const prn = 7
	const total = 230000
	const transitionSample = 90000

	signal := buildDroppingSignal(t, prn, 150.0, 100, total, transitionSample)

	rb := ringbuffer.New(1, total)
	require.NoError(t, rb.WriteBlock(signal))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ch, err := New(prn, testFs, 0, true, rb, nil, m, logrus.New())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ch.Start(ctx))

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(m.LossOfLockCounter(prn)) >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	ch.Stop()

	require.Equal(t, float64(1), testutil.ToFloat64(m.LossOfLockCounter(prn)))
	require.GreaterOrEqual(t, testutil.ToFloat64(m.AcquisitionAttemptsCounter(prn)), float64(2))
}

func TestWaitForSamplesResyncsOnOverrunInsteadOfStopping(t *testing.T) {
	const prn = 3
	rb := ringbuffer.New(2, 100) // capacity 200

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ch, err := New(prn, testFs, 0, true, rb, nil, m, logrus.New())
	require.NoError(t, err)

	block := make([]ringbuffer.Sample, 100)
	// Write enough blocks that a reader still waiting at sample 0 has
	// fallen out of the retained 200-sample history.
	for i := 0; i < 5; i++ {
		require.NoError(t, rb.WriteBlock(block))
	}

	window, freshCursor, err := ch.waitForSamples(context.Background(), 0, 50)
	require.Nil(t, window)
	require.ErrorIs(t, err, ringbuffer.ErrOverrun)
	require.Equal(t, uint64(500), freshCursor)
	require.Equal(t, float64(1), testutil.ToFloat64(m.BufferOverrunCounter(prn)))
}

func TestStateStringer(t *testing.T) {
	require.Equal(t, "acquiring", StateAcquiring.String())
	require.Equal(t, "tracking", StateTracking.String())
	require.Equal(t, "decoding", StateDecoding.String())
}
