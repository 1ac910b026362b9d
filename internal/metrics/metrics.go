// Package metrics exposes per-channel receiver counters and gauges over
// Prometheus: a struct of promauto collectors built in one constructor,
// labeled gauge/counter vectors keyed by "prn", plus a promhttp.Handler
// for scraping.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChannelState mirrors the channel FSM's states for the "state" gauge,
// encoded as 0/1/2 so Prometheus can graph state transitions over time.
type ChannelState int

const (
	StateAcquiring ChannelState = iota
	StateTracking
	StateDecoding
)

// Metrics holds every collector the receiver exports, each labeled by
// "prn" so a single process covering all 32 satellites produces one
// coherent metric family per concern rather than 32 independent metrics.
type Metrics struct {
	channelState          *prometheus.GaugeVec
	lossOfLockTotal       *prometheus.CounterVec
	bufferOverrunTotal    *prometheus.CounterVec
	subframesDecodedTotal *prometheus.CounterVec
	parityFailureTotal    *prometheus.CounterVec
	acquisitionAttempts   *prometheus.CounterVec
}

// New registers every collector against reg and returns the handle used
// to update them. Callers that want the process-wide default registry
// (for wiring into promhttp.Handler()'s package-level registerer) should
// pass prometheus.DefaultRegisterer; tests typically pass a fresh
// prometheus.NewRegistry() so repeated construction doesn't panic on
// duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		channelState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gnss_channel_state",
			Help: "Current channel FSM state per PRN (0=acquiring, 1=tracking, 2=decoding).",
		}, []string{"prn"}),
		lossOfLockTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gnss_loss_of_lock_total",
			Help: "Count of tracking loop loss-of-lock events per PRN.",
		}, []string{"prn"}),
		bufferOverrunTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gnss_buffer_overrun_total",
			Help: "Count of ring-buffer overrun events observed per PRN.",
		}, []string{"prn"}),
		subframesDecodedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gnss_subframes_decoded_total",
			Help: "Count of subframes whose TLM and HOW words passed parity per PRN.",
		}, []string{"prn"}),
		parityFailureTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gnss_parity_failure_total",
			Help: "Count of words that failed parity per PRN.",
		}, []string{"prn"}),
		acquisitionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gnss_acquisition_attempts_total",
			Help: "Count of acquisition search attempts per PRN.",
		}, []string{"prn"}),
	}
}

// Handler returns the HTTP handler the metrics listener should mount at
// /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func prnLabel(prn int) prometheus.Labels {
	return prometheus.Labels{"prn": strconv.Itoa(prn)}
}

// SetChannelState records the current FSM state for prn.
func (m *Metrics) SetChannelState(prn int, state ChannelState) {
	m.channelState.With(prnLabel(prn)).Set(float64(state))
}

// IncLossOfLock records one loss-of-lock event for prn.
func (m *Metrics) IncLossOfLock(prn int) {
	m.lossOfLockTotal.With(prnLabel(prn)).Inc()
}

// IncBufferOverrun records one ring-buffer overrun observed by prn's
// channel.
func (m *Metrics) IncBufferOverrun(prn int) {
	m.bufferOverrunTotal.With(prnLabel(prn)).Inc()
}

// IncSubframesDecoded records one decoded subframe (TLM and HOW passed
// parity) for prn.
func (m *Metrics) IncSubframesDecoded(prn int) {
	m.subframesDecodedTotal.With(prnLabel(prn)).Inc()
}

// IncParityFailure records one parity-failing word for prn.
func (m *Metrics) IncParityFailure(prn int) {
	m.parityFailureTotal.With(prnLabel(prn)).Inc()
}

// IncAcquisitionAttempt records one acquisition search attempt for prn.
func (m *Metrics) IncAcquisitionAttempt(prn int) {
	m.acquisitionAttempts.With(prnLabel(prn)).Inc()
}

// LossOfLockCounter returns the loss-of-lock counter for prn, for callers
// (typically tests, via prometheus/client_golang/prometheus/testutil) that
// need the current value rather than just incrementing it.
func (m *Metrics) LossOfLockCounter(prn int) prometheus.Counter {
	return m.lossOfLockTotal.With(prnLabel(prn))
}

// AcquisitionAttemptsCounter returns the acquisition-attempts counter for
// prn.
func (m *Metrics) AcquisitionAttemptsCounter(prn int) prometheus.Counter {
	return m.acquisitionAttempts.With(prnLabel(prn))
}

// BufferOverrunCounter returns the buffer-overrun counter for prn.
func (m *Metrics) BufferOverrunCounter(prn int) prometheus.Counter {
	return m.bufferOverrunTotal.With(prnLabel(prn))
}
