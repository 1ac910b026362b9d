// Package receiver is the scheduler/host: it owns the sample ring
// buffer, drives the front end's producer loop, and runs one
// internal/channel worker per masked PRN. Lifecycle shape (running bool,
// ctx/cancel pair under a mutex, Start/Stop) follows pkg/server.Server.
package receiver

import (
	"context"
	"fmt"
	"sync"

	"github.com/bramburn/gnssreceiver/internal/channel"
	"github.com/bramburn/gnssreceiver/internal/config"
	"github.com/bramburn/gnssreceiver/internal/frontend"
	"github.com/bramburn/gnssreceiver/internal/metrics"
	"github.com/bramburn/gnssreceiver/internal/ringbuffer"
	"github.com/bramburn/gnssreceiver/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// Receiver wires a frontend.Source to the ring buffer and fans it out to
// one channel.Channel per PRN in the configured mask.
type Receiver struct {
	cfg     *config.Config
	src     frontend.Source
	rb      *ringbuffer.RingBuffer
	hub     *telemetry.Hub
	metrics *metrics.Metrics
	log     logrus.FieldLogger

	channels []*channel.Channel

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Receiver from cfg, wiring src as the front end. hub and m
// may be nil.
func New(cfg *config.Config, src frontend.Source, hub *telemetry.Hub, m *metrics.Metrics, log logrus.FieldLogger) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("receiver: invalid config: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	rb := ringbuffer.New(cfg.RingBuffer.NumBlocks, cfg.RingBuffer.BlockSize)

	r := &Receiver{
		cfg:     cfg,
		src:     src,
		rb:      rb,
		hub:     hub,
		metrics: m,
		log:     log.WithField("component", "receiver"),
	}

	for _, prn := range cfg.PRNMask {
		ch, err := channel.New(prn, cfg.SampleRateHz, cfg.IntermediateFrequencyHz, cfg.IsComplex, rb, hub, m, log)
		if err != nil {
			return nil, fmt.Errorf("receiver: build channel for prn %d: %w", prn, err)
		}
		r.channels = append(r.channels, ch)
	}

	return r, nil
}

// FrontendBlockSizeBytes is how many raw bytes the front end must deliver
// per OnBuffer call to produce exactly one ring-buffer block: 2 bytes per
// sample pair when the front end supplies true I/Q, 1 byte per sample
// (mono, Q synthesized as zero) otherwise.
func (r *Receiver) FrontendBlockSizeBytes() int {
	if r.cfg.IsComplex {
		return 2 * r.rb.BlockSize()
	}
	return r.rb.BlockSize()
}

// RingBuffer exposes the shared buffer, primarily for tests.
func (r *Receiver) RingBuffer() *ringbuffer.RingBuffer {
	return r.rb
}

// Start begins the producer loop and every channel worker. It returns an
// error if the receiver is already running.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("receiver: already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	for _, ch := range r.channels {
		if err := ch.Start(runCtx); err != nil {
			cancel()
			r.running = false
			return fmt.Errorf("receiver: start channel: %w", err)
		}
	}

	go r.runProducer(runCtx)
	return nil
}

// Stop cancels the producer and every channel worker, then waits for the
// producer to exit.
func (r *Receiver) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	cancel()
	if err := r.src.Stop(); err != nil {
		r.log.WithError(err).Warn("receiver: error stopping front end")
	}
	<-done

	for _, ch := range r.channels {
		ch.Stop()
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return nil
}

func (r *Receiver) runProducer(ctx context.Context) {
	defer close(r.done)
	r.log.Info("receiver: starting front end")
	if err := r.src.Start(ctx, r.onBuffer); err != nil {
		if ctx.Err() == nil {
			r.log.WithError(err).Error("receiver: front end stopped with error")
		}
	}
	r.log.Info("receiver: front end stopped")
}

// onBuffer lifts one fixed-size raw byte block into the ring buffer.
// Malformed blocks (wrong length for the configured I/Q layout) are
// logged and dropped, not propagated to the front end.
func (r *Receiver) onBuffer(buf []byte) {
	want := r.FrontendBlockSizeBytes()
	if len(buf) != want {
		r.log.WithFields(logrus.Fields{"got": len(buf), "want": want}).
			Error("receiver: malformed sample block, dropping")
		return
	}

	samples := make([]ringbuffer.Sample, r.rb.BlockSize())
	if r.cfg.IsComplex {
		for i := range samples {
			samples[i] = ringbuffer.Sample{
				I: centerByte(buf[2*i]),
				Q: centerByte(buf[2*i+1]),
			}
		}
	} else {
		for i := range samples {
			samples[i] = ringbuffer.Sample{I: centerByte(buf[i]), Q: 0}
		}
	}

	if err := r.rb.WriteBlock(samples); err != nil {
		r.log.WithError(err).Error("receiver: write block")
	}
}

// centerByte lifts an unsigned 8-bit sample to a signed value centered on
// zero (subtracting 127.5); the half-bit offset is absorbed into the
// int16 rounding, which costs negligible precision at this bit depth.
func centerByte(b byte) int16 {
	return int16(int(b) - 128)
}
