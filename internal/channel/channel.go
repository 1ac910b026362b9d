// Package channel runs the per-PRN state machine: Acquiring, Tracking
// and Decoding, wiring internal/acquisition, internal/tracking and
// internal/navsync against one PRN's slice of the shared ring buffer.
// Lifecycle shape (running bool, ctx/cancel pair guarded by a mutex, a
// single run goroutine) follows pkg/server.Server.Start/Stop.
package channel

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bramburn/gnssreceiver/internal/acquisition"
	"github.com/bramburn/gnssreceiver/internal/cacode"
	"github.com/bramburn/gnssreceiver/internal/gpsconst"
	"github.com/bramburn/gnssreceiver/internal/metrics"
	"github.com/bramburn/gnssreceiver/internal/navsync"
	"github.com/bramburn/gnssreceiver/internal/ringbuffer"
	"github.com/bramburn/gnssreceiver/internal/telemetry"
	"github.com/bramburn/gnssreceiver/internal/tracking"
	"github.com/bramburn/gnssreceiver/pkg/gnssgo/gtime"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// lossOfLockStreak is how many consecutive weak-signal tracking steps are
// tolerated before the channel reports loss of lock and falls back to
// Acquiring.
const lossOfLockStreak = 50

// weakSignalRatio is how far below the EWMA-tracked prompt magnitude a
// single step's prompt magnitude |(I_P, Q_P)| must fall to count toward
// lossOfLockStreak.
const weakSignalRatio = 0.3

// codeFreqToleranceChipsHz bounds how far the DLL's code frequency may
// drift from the nominal chipping rate before it is treated as a diverged
// NCO.
const codeFreqToleranceChipsHz = 1000.0

// State is the channel FSM's current state.
type State int

const (
	StateAcquiring State = iota
	StateTracking
	StateDecoding
)

func (s State) String() string {
	switch s {
	case StateAcquiring:
		return "acquiring"
	case StateTracking:
		return "tracking"
	case StateDecoding:
		return "decoding"
	default:
		return "unknown"
	}
}

// Channel owns one PRN's acquisition engine, tracking loop and nav-message
// decoder. It reads the shared ring buffer read-only and never mutates
// another channel's state.
type Channel struct {
	prn       int
	fs, fIF   float64
	isComplex bool
	code      [gpsconst.CodeLengthChips]int8

	rb        *ringbuffer.RingBuffer
	acqEngine *acquisition.Engine
	telemetry *telemetry.Hub
	metrics   *metrics.Metrics
	log       logrus.FieldLogger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Channel for prn against the shared ring buffer rb. hub and
// m may be nil (telemetry/metrics become no-ops in that case, useful for
// tests that only care about FSM behavior).
func New(prn int, fs, fIF float64, isComplex bool, rb *ringbuffer.RingBuffer, hub *telemetry.Hub, m *metrics.Metrics, log logrus.FieldLogger) (*Channel, error) {
	code, err := cacode.Generate(prn)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("prn", prn)

	eng, err := acquisition.NewEngine(prn, fs, fIF, isComplex, log)
	if err != nil {
		return nil, err
	}

	return &Channel{
		prn:       prn,
		fs:        fs,
		fIF:       fIF,
		isComplex: isComplex,
		code:      code,
		rb:        rb,
		acqEngine: eng,
		telemetry: hub,
		metrics:   m,
		log:       log,
	}, nil
}

// Start spawns the channel's run loop. It returns an error if the channel
// is already running.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("channel: prn %d already running", c.prn)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.run(runCtx)
	return nil
}

// Stop cancels the channel's run loop and waits for it to exit.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	attemptID := uuid.New().String()
	c.log.WithField("attempt_id", attemptID).Info("channel: starting in Acquiring")

	var sampleCursor uint64
	state := StateAcquiring
	var trackState tracking.State
	var decoder *navsync.Decoder
	var weakStreak int
	var ipEWMA float64
	var ipEWMAWarm bool

	c.setMetricState(state)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch state {
		case StateAcquiring:
			needed := c.acqEngine.RequiredSamples()
			window, freshCursor, err := c.waitForSamples(ctx, sampleCursor, needed)
			if err == ringbuffer.ErrOverrun {
				sampleCursor = freshCursor
				continue
			}
			if err != nil {
				return
			}

			if c.metrics != nil {
				c.metrics.IncAcquisitionAttempt(c.prn)
			}
			result, err := c.acqEngine.Search(ctx, window, sampleCursor)
			if err != nil {
				if err == acquisition.ErrNotPresent {
					sampleCursor += uint64(needed)
					continue
				}
				if ctx.Err() != nil {
					return
				}
				c.log.WithError(err).Warn("channel: acquisition search error")
				sampleCursor += uint64(needed)
				continue
			}

			if c.telemetry != nil {
				c.telemetry.PublishAcquisition(telemetry.AcquisitionReport{
					PRN:           result.PRN,
					CodePhase:     float64(result.CodePhase),
					CarrierFreqHz: result.CarrierFreqHz,
					PeakRatio:     result.PeakRatio,
				})
			}

			trackState = tracking.NewState(result.CarrierFreqHz)
			sampleCursor = result.SampleIndex
			decoder = navsync.NewDecoder(c.prn)
			weakStreak = 0
			ipEWMAWarm = false
			state = StateTracking
			c.setMetricState(state)

		case StateTracking, StateDecoding:
			n := trackState.NextEpochSamples(c.fs)
			window, freshCursor, err := c.waitForSamples(ctx, sampleCursor, n)
			if err == ringbuffer.ErrOverrun {
				sampleCursor = freshCursor
				trackState = tracking.State{}
				state = StateAcquiring
				c.setMetricState(state)
				continue
			}
			if err != nil {
				return
			}

			update, err := tracking.Step(window, c.code, trackState, c.fs)
			if err != nil {
				c.log.WithError(err).Error("channel: tracking step error")
				state = c.dropLock()
				trackState = tracking.State{}
				continue
			}
			trackState = update.State
			sampleCursor += uint64(n)

			if c.telemetry != nil {
				c.telemetry.PublishTracking(telemetry.TrackingSample{
					PRN:            c.prn,
					SampleCursor:   sampleCursor,
					IPrompt:        update.IPrompt,
					QPrompt:        update.QPrompt,
					CarrierFreqHz:  trackState.CarrierFreqHz,
					CodeFreqChipsS: trackState.CodeFreqHz,
				})
			}

			if lossOfLock(update, trackState, &ipEWMA, &ipEWMAWarm, &weakStreak) {
				if c.metrics != nil {
					c.metrics.IncLossOfLock(c.prn)
				}
				c.log.Warn("channel: loss of lock, returning to Acquiring")
				state = StateAcquiring
				c.setMetricState(state)
				continue
			}

			bitEvent, subframe := decoder.Step(update.IPrompt, sampleCursor)
			if bitEvent != nil {
				if state == StateTracking && decoder.BitLocked() {
					state = StateDecoding
					c.setMetricState(state)
				}
				if c.telemetry != nil {
					c.telemetry.PublishNavBit(telemetry.NavBit{
						PRN:          c.prn,
						SampleCursor: bitEvent.SampleCursor,
						Bit:          int(bitEvent.Bit),
					})
				}
			}
			if subframe != nil {
				if c.metrics != nil {
					c.metrics.IncSubframesDecoded(c.prn)
				}
				logEntry := c.log.WithFields(logrus.Fields{
					"subframe_id": subframe.SubframeID,
					"tow":         subframe.TOW,
				})
				if subframe.WeekNumber != nil {
					t := gtime.GpsT2Time(int(*subframe.WeekNumber), float64(subframe.TOW))
					logEntry = logEntry.WithField("time", gtime.TimeStr(t, 1))
				}
				logEntry.Info("channel: subframe decoded")
				if c.telemetry != nil {
					c.telemetry.PublishSubframe(telemetry.SubframeMessage{
						PRN:        subframe.PRN,
						TOW:        subframe.TOW,
						SubframeID: subframe.SubframeID,
						WeekNumber: subframe.WeekNumber,
					})
				}
			}
		}
	}
}

// dropLock records a tracking-step-error-triggered return to Acquiring (as
// opposed to a signal-quality loss of lock) and returns the next state.
func (c *Channel) dropLock() State {
	if c.metrics != nil {
		c.metrics.IncLossOfLock(c.prn)
	}
	c.setMetricState(StateAcquiring)
	return StateAcquiring
}

func (c *Channel) setMetricState(s State) {
	if c.metrics != nil {
		c.metrics.SetChannelState(c.prn, metrics.ChannelState(s))
	}
}

// waitForSamples blocks until the ring buffer holds at least n samples
// starting at start, polling with an exponential back-off that settles at
// a constant 1ms (bounded latency over correctness, not a condition
// variable).
//
// It returns (window, freshCursor, nil) on success. If the window has
// fallen behind the buffer's retained history (a buffer overrun), it
// returns (nil, freshCursor, ringbuffer.ErrOverrun); the caller should
// resume at freshCursor rather than stop. Any other non-nil error (ctx
// cancelled, or an unexpected ring buffer error) means the caller should
// stop.
func (c *Channel) waitForSamples(ctx context.Context, start uint64, n int) ([]ringbuffer.Sample, uint64, error) {
	backoff := 100 * time.Microsecond
	for {
		select {
		case <-ctx.Done():
			return nil, start, ctx.Err()
		default:
		}

		window, err := c.rb.Read(start, n)
		if err == nil {
			return window, start, nil
		}
		if err != ringbuffer.ErrOverrun {
			c.log.WithError(err).Error("channel: unexpected ring buffer error")
			return nil, start, err
		}

		cursor := c.rb.WriteCursor()
		if cursor >= start+uint64(n) && cursor-start > uint64(c.rb.Capacity()) {
			// Not a not-yet-written gap: the window has already fallen out
			// of the retained history. Treat as an overrun and resync to
			// the freshest available cursor.
			if c.metrics != nil {
				c.metrics.IncBufferOverrun(c.prn)
			}
			return nil, cursor, ringbuffer.ErrOverrun
		}

		select {
		case <-ctx.Done():
			return nil, start, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < time.Millisecond {
			backoff *= 2
			if backoff > time.Millisecond {
				backoff = time.Millisecond
			}
		}
	}
}

// lossOfLock flags sustained low |I_P| relative to a running estimate of
// its locked-on magnitude, or a diverged code-tracking NCO.
func lossOfLock(update tracking.Update, state tracking.State, ipEWMA *float64, warm *bool, weakStreak *int) bool {
	mag := math.Hypot(update.IPrompt, update.QPrompt)
	if !*warm {
		*ipEWMA = mag
		*warm = true
	} else {
		const alpha = 0.01
		*ipEWMA = alpha*mag + (1-alpha)*(*ipEWMA)
	}

	if *ipEWMA > 0 && mag < weakSignalRatio*(*ipEWMA) {
		*weakStreak++
	} else {
		*weakStreak = 0
	}

	diverged := math.Abs(state.CodeFreqHz-gpsconst.CodeRateChipsHz) > codeFreqToleranceChipsHz

	return *weakStreak >= lossOfLockStreak || diverged
}

// PRN returns the satellite PRN this channel tracks.
func (c *Channel) PRN() int {
	return c.prn
}
