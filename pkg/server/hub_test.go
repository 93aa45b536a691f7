package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// Broadcasts and keepalive pings race for the same connection; the run
// below keeps both hot so the race detector trips if the keepalive ever
// goes back to a plain data write.
func TestWebSocket_BroadcastDuringKeepalive(t *testing.T) {
	oldInterval := pingInterval
	pingInterval = time.Millisecond
	defer func() { pingInterval = oldInterval }()

	hub := NewFlightHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(HandleWebSocket(hub))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, hub.HasClients, time.Second, 5*time.Millisecond)

	// Reading also services the incoming pings (gorilla answers them from
	// inside ReadMessage). A read error means a corrupted frame reached us.
	received := make(chan []byte, 64)
	go func() {
		defer close(received)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case received <- msg:
			default:
			}
		}
	}()

	deadline := time.Now().Add(200 * time.Millisecond)
	for i := 0; time.Now().Before(deadline); i++ {
		require.NoError(t, hub.Broadcast(map[string]any{"type": "board_update", "seq": i}))
	}

	select {
	case msg := <-received:
		var got map[string]any
		require.NoError(t, json.Unmarshal(msg, &got))
		require.Equal(t, "board_update", got["type"])
	case <-time.After(time.Second):
		t.Fatal("no broadcast reached the client")
	}
}
