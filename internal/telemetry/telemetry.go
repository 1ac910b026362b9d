// Package telemetry fans out per-channel receiver events to structured
// logs and to any connected websocket client. The client registry shape
// (websocket.go, user_spectrum_websocket.go) is stripped of the
// session/auth machinery that belongs to a multi-user SDR front end, not
// a single-receiver telemetry feed.
package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// AcquisitionReport is emitted once per successful acquisition.
type AcquisitionReport struct {
	PRN           int     `json:"prn"`
	CodePhase     float64 `json:"code_phase"`
	CarrierFreqHz float64 `json:"carrier_freq_hz"`
	PeakRatio     float64 `json:"peak_ratio"`
}

// TrackingSample is emitted once per 1 ms tracking step.
type TrackingSample struct {
	PRN            int     `json:"prn"`
	SampleCursor   uint64  `json:"sample_cursor"`
	IPrompt        float64 `json:"i_p"`
	QPrompt        float64 `json:"q_p"`
	CarrierFreqHz  float64 `json:"carrier_freq_hz"`
	CodeFreqChipsS float64 `json:"code_freq_chips_s"`
}

// NavBit is emitted once per decoded 50 Hz navigation bit.
type NavBit struct {
	PRN          int    `json:"prn"`
	SampleCursor uint64 `json:"sample_cursor"`
	Bit          int    `json:"bit"`
}

// SubframeMessage is emitted once a subframe's TLM and HOW words pass
// parity.
type SubframeMessage struct {
	PRN        int     `json:"prn"`
	TOW        uint32  `json:"tow"`
	SubframeID uint8   `json:"subframe_id"`
	WeekNumber *uint16 `json:"week_number,omitempty"`
}

// envelope tags a payload with its event type so a websocket client can
// dispatch on a single field without inspecting shape.
type envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub logs every published event via logrus and broadcasts it as JSON to
// every connected websocket client. The zero value is not usable; use
// NewHub.
type Hub struct {
	log logrus.FieldLogger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // guards concurrent writes, per gorilla's single-writer rule
}

// NewHub returns an idle Hub; call ServeWS to register connections and
// Publish* to emit events.
func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		log:     log.WithField("component", "telemetry"),
		clients: make(map[*client]struct{}),
	}
}

// ServeWS upgrades the HTTP request to a websocket and registers the
// connection until it is closed by the peer or a write fails.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("telemetry: websocket upgrade failed")
		return
	}

	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
	}()

	// Telemetry is server-to-client only; read and discard to detect
	// close/disconnect via a blocking read loop whose only job is to
	// notice the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) broadcast(eventType string, payload interface{}) {
	b, err := json.Marshal(envelope{Type: eventType, Payload: payload})
	if err != nil {
		h.log.WithError(err).Error("telemetry: marshal event")
		return
	}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, b)
		c.mu.Unlock()
		if err != nil {
			h.log.WithError(err).Debug("telemetry: drop client after write error")
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			c.conn.Close()
		}
	}
}

// PublishAcquisition logs and broadcasts an AcquisitionReport.
func (h *Hub) PublishAcquisition(r AcquisitionReport) {
	h.log.WithFields(logrus.Fields{
		"prn":             r.PRN,
		"code_phase":      r.CodePhase,
		"carrier_freq_hz": r.CarrierFreqHz,
		"peak_ratio":      r.PeakRatio,
	}).Info("acquisition")
	h.broadcast("acquisition", r)
}

// PublishTracking logs and broadcasts a TrackingSample.
func (h *Hub) PublishTracking(s TrackingSample) {
	h.log.WithFields(logrus.Fields{
		"prn":            s.PRN,
		"sample_cursor":  s.SampleCursor,
		"carrier_freq_hz": s.CarrierFreqHz,
	}).Trace("tracking")
	h.broadcast("tracking", s)
}

// PublishNavBit logs and broadcasts a NavBit.
func (h *Hub) PublishNavBit(b NavBit) {
	h.log.WithFields(logrus.Fields{
		"prn":           b.PRN,
		"sample_cursor": b.SampleCursor,
		"bit":           b.Bit,
	}).Trace("nav_bit")
	h.broadcast("nav_bit", b)
}

// PublishSubframe logs and broadcasts a SubframeMessage.
func (h *Hub) PublishSubframe(m SubframeMessage) {
	entry := h.log.WithFields(logrus.Fields{
		"prn":         m.PRN,
		"tow":         m.TOW,
		"subframe_id": m.SubframeID,
	})
	if m.WeekNumber != nil {
		entry = entry.WithField("week_number", *m.WeekNumber)
	}
	entry.Info("subframe")
	h.broadcast("subframe", m)
}

// ClientCount reports how many websocket clients are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
