package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinflip-miniapp-backend/internal/fairness"
)

type wsEvent struct {
	Type   string          `json:"type"`
	UserID int64           `json:"user_id"`
	Data   json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wsEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWebSocketPushesSettlement(t *testing.T) {
	s := newTestServer(t, false)
	s.onboard(t, 10, "")

	token, err := s.jwt.GenerateToken(10, "sid")
	require.NoError(t, err)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	ev := readEvent(t, conn)
	assert.Equal(t, "BALANCE_UPDATE", ev.Type)
	assert.Equal(t, int64(10), ev.UserID)
	var balance struct {
		TokenBalance float64 `json:"tokenBalance"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &balance))
	assert.Equal(t, 100.0, balance.TokenBalance)

	w := s.do(t, http.MethodPost, "/api/casino/bet", gin.H{
		"telegramId": 10,
		"betAmount":  5,
		"choice":     fairness.Heads,
		"clientSeed": "ws",
		"nonce":      0,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ev = readEvent(t, conn)
	assert.Equal(t, "BET_SETTLED", ev.Type)
	var settled struct {
		ClientSeed string  `json:"clientSeed"`
		NewBalance float64 `json:"newBalance"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &settled))
	assert.Equal(t, "ws", settled.ClientSeed)

	ev = readEvent(t, conn)
	assert.Equal(t, "BALANCE_UPDATE", ev.Type)
	require.NoError(t, json.Unmarshal(ev.Data, &balance))
	assert.Equal(t, settled.NewBalance, balance.TokenBalance)

	require.NoError(t, conn.WriteJSON(Message{Type: "PING"}))
	ev = readEvent(t, conn)
	assert.Equal(t, "PONG", ev.Type)
}

func TestWebSocketRequiresToken(t *testing.T) {
	s := newTestServer(t, false)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubDeliversOnlyToOwner(t *testing.T) {
	hub := NewWebSocketHub()
	owner := &Client{UserID: 1, send: make(chan []byte, 1)}
	other := &Client{UserID: 2, send: make(chan []byte, 1)}
	hub.clients[1] = map[*Client]struct{}{owner: {}}
	hub.clients[2] = map[*Client]struct{}{other: {}}

	hub.deliver(&Message{Type: "BALANCE_UPDATE", UserID: 1, Data: gin.H{"tokenBalance": 1}})

	require.Len(t, owner.send, 1)
	assert.Empty(t, other.send)

	var msg wsEvent
	require.NoError(t, json.Unmarshal(<-owner.send, &msg))
	assert.Equal(t, "BALANCE_UPDATE", msg.Type)
}

func TestHubEvictsSlowReader(t *testing.T) {
	hub := NewWebSocketHub()
	slow := &Client{UserID: 1, send: make(chan []byte, 1)}
	hub.clients[1] = map[*Client]struct{}{slow: {}}

	hub.deliver(&Message{Type: "BET_SETTLED", UserID: 1})
	hub.deliver(&Message{Type: "BALANCE_UPDATE", UserID: 1})

	assert.NotContains(t, hub.clients, int64(1))

	_, ok := <-slow.send
	assert.True(t, ok, "queued message is still readable")
	_, ok = <-slow.send
	assert.False(t, ok, "send channel is closed after eviction")

	// Removing an evicted client again is a no-op.
	hub.remove(slow)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewWebSocketHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := &Client{UserID: 1, send: make(chan []byte, 1)}
	require.True(t, hub.join(client))

	cancel()
	select {
	case <-hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	_, ok := <-client.send
	assert.False(t, ok)

	assert.False(t, hub.join(&Client{UserID: 2, send: make(chan []byte, 1)}))
	hub.leave(client)
	hub.BroadcastBalance(1, 5)
}
