package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/dbpulse/pkg/config"
	"github.com/nicktill/dbpulse/pkg/logger"
	"github.com/nicktill/dbpulse/pkg/models"
)

func TestHub_StreamsEventsToClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(logger.Discard())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	ev := models.AlertEvent{ID: "ev-1", RuleID: "r", InstanceID: "db-1", Status: models.StatusTriggered}
	require.NoError(t, hub.Notify(ctx, ev))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageTypeAlertEvent, msg.Type)
	assert.Equal(t, "ev-1", msg.Event.ID)
	assert.Equal(t, models.StatusTriggered, msg.Event.Status)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub(logger.Discard())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := map[string][]string{"Origin": {"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}

func TestHub_NotifyWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewHub(logger.Discard())

	// Hub loop not running: the queue fills and further events are dropped.
	for i := 0; i < 1000; i++ {
		require.NoError(t, hub.Notify(context.Background(), models.AlertEvent{ID: "x"}))
	}
}

func TestHub_DropsManyDeadClientsWithoutBlocking(t *testing.T) {
	accepted := make(chan *websocket.Conn, 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	defer srv.Close()

	hub := NewHub(logger.Discard())

	// More dead clients than the unregister buffer holds.
	numClients := config.WSChannelBuffer + 4
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	for i := 0; i < numClients; i++ {
		client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer client.Close()

		conn := <-accepted
		conn.Close()
		hub.clients[conn] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	require.NoError(t, hub.Notify(ctx, models.AlertEvent{ID: "ev-1"}))
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after cancel")
	}
}
