package server

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbtoolkit/agent/internal/logger"
)

func TestEventHubPublish(t *testing.T) {
	hub := NewEventHub(logger.NewLogger(io.Discard, logger.ErrorLevel))
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// subscription registers synchronously on upgrade
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 },
		time.Second, 10*time.Millisecond)

	hub.Publish("pairing_request", map[string]any{"confirm_code": "123456"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "pairing_request", ev.Type)
	assert.Equal(t, "123456", ev.Data["confirm_code"])
	assert.NotZero(t, ev.At)
}

func TestEventHubDropsDeadSubscribers(t *testing.T) {
	hub := NewEventHub(logger.NewLogger(io.Discard, logger.ErrorLevel))
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	conn.Close()

	// publishing to a closed subscriber prunes it
	require.Eventually(t, func() bool {
		hub.Publish("tick", nil)
		return hub.Subscribers() == 0
	}, 2*time.Second, 50*time.Millisecond)
}
