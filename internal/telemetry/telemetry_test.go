package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsAcquisitionToConnectedClient(t *testing.T) {
	h := NewHub(nil)
	conn := dialHub(t, h)

	// Give the server goroutine a moment to register the client before
	// we publish, matching the inherent async nature of the upgrade.
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, h.ClientCount())

	h.PublishAcquisition(AcquisitionReport{PRN: 7, CodePhase: 317, CarrierFreqHz: 1500, PeakRatio: 2.1})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"type":"acquisition"`)
	require.Contains(t, string(msg), `"prn":7`)
}

func TestHubClientCountDropsAfterClose(t *testing.T) {
	h := NewHub(nil)
	conn := dialHub(t, h)

	deadline := time.Now().Add(time.Second)
	for h.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, h.ClientCount())

	conn.Close()

	deadline = time.Now().Add(time.Second)
	for h.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 0, h.ClientCount())
}
