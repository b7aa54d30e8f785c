package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimpatfx/backend/internal/contracts"
	"github.com/aimpatfx/backend/pkg/config"
	"github.com/aimpatfx/backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&config.Config{LogLevel: "error", LogFormat: "console"})
}

func newTestClient() *client {
	return &client{
		send:     make(chan Envelope, sendBufferSize),
		requests: make(map[string]bool),
	}
}

func addClient(h *Hub, c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func TestRequestUpdated_OnlySubscribersReceive(t *testing.T) {
	hub := NewHub(testLogger())

	subscribed := newTestClient()
	subscribed.requests["req-1"] = true
	other := newTestClient()
	other.requests["req-2"] = true

	addClient(hub, subscribed)
	addClient(hub, other)

	hub.RequestUpdated(&contracts.AnalysisRequest{ID: "req-1", Status: contracts.StatusComplete})

	select {
	case env := <-subscribed.send:
		assert.Equal(t, "request_update", env.Type)
	default:
		t.Fatal("subscribed client received nothing")
	}

	select {
	case <-other.send:
		t.Fatal("unsubscribed client received an update")
	default:
	}
}

func TestSignalCreated_RespectsSignalSubscription(t *testing.T) {
	hub := NewHub(testLogger())

	listener := newTestClient()
	listener.signals = true
	silent := newTestClient()

	addClient(hub, listener)
	addClient(hub, silent)

	hub.SignalCreated(&contracts.TradingSignal{Asset: "EUR/USD", Direction: "COMPRA"})

	select {
	case env := <-listener.send:
		assert.Equal(t, "signal", env.Type)
	default:
		t.Fatal("signal subscriber received nothing")
	}

	select {
	case <-silent.send:
		t.Fatal("non-subscriber received a signal")
	default:
	}
}

func TestBroadcast_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub(testLogger())

	slow := newTestClient()
	slow.signals = true
	addClient(hub, slow)

	// Nothing drains the channel, so messages past the buffer are
	// dropped rather than blocking the caller.
	for i := 0; i < sendBufferSize+5; i++ {
		hub.SignalCreated(&contracts.TradingSignal{Asset: "EUR/USD"})
	}

	assert.Len(t, slow.send, sendBufferSize)
}

func TestServeWS_SubscribeAndReceive(t *testing.T) {
	hub := NewHub(testLogger())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":       "subscribe",
		"request_id": "req-9",
	}))

	// The read loop processes the subscription asynchronously.
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if c.wants("req-9") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	hub.RequestUpdated(&contracts.AnalysisRequest{ID: "req-9", Status: contracts.StatusAnalyzing})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "request_update", env.Type)

	assert.Equal(t, 1, hub.ClientCount())
}
