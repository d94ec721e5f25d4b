package events

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/pkg/logger"
)

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/events", hub.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/events", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestHub_BroadcastsStatusEvents(t *testing.T) {
	hub := NewHub(logger.Nop())
	conn := dial(t, hub)

	hub.Notify(t.Context(), fiscal.StatusEvent{ID: "e1", Status: fiscal.StatusFailed, LastError: "Transport: timeout"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, TypeStatus, m.Type)

	var ev fiscal.StatusEvent
	require.NoError(t, json.Unmarshal(m.Data, &ev))
	assert.Equal(t, "e1", ev.ID)
	assert.Equal(t, fiscal.StatusFailed, ev.Status)
	assert.Equal(t, "Transport: timeout", ev.LastError)
}

func TestHub_AnswersHeartbeat(t *testing.T) {
	hub := NewHub(logger.Nop())
	conn := dial(t, hub)

	require.NoError(t, conn.WriteJSON(Message{Type: TypeHeartbeat}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, TypeHeartbeat, m.Type)
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(logger.Nop())
	conn := dial(t, hub)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	// no clients: must not block
	hub.Notify(t.Context(), fiscal.StatusEvent{ID: "e2"})
}
