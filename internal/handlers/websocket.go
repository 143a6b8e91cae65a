package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"coinflip-miniapp-backend/internal/models"
	"coinflip-miniapp-backend/internal/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id,omitempty"`
	Data   any    `json:"data"`
}

type Client struct {
	UserID int64
	conn   *websocket.Conn
	send   chan []byte
}

// WebSocketHub fans settlement events out to every connection of the
// player they concern. It implements services.Broadcaster.
type WebSocketHub struct {
	clients    map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
}

func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 100),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled, then closes every client.
func (hub *WebSocketHub) Run(ctx context.Context) {
	defer close(hub.done)

	for {
		select {
		case <-ctx.Done():
			for _, conns := range hub.clients {
				for client := range conns {
					close(client.send)
				}
			}
			hub.clients = make(map[int64]map[*Client]struct{})
			return

		case client := <-hub.register:
			conns, ok := hub.clients[client.UserID]
			if !ok {
				conns = make(map[*Client]struct{})
				hub.clients[client.UserID] = conns
			}
			conns[client] = struct{}{}
			slog.Debug("websocket client registered", "telegram_id", client.UserID)

		case client := <-hub.unregister:
			hub.remove(client)

		case message := <-hub.broadcast:
			hub.deliver(message)
		}
	}
}

func (hub *WebSocketHub) join(client *Client) bool {
	select {
	case hub.register <- client:
		return true
	case <-hub.done:
		return false
	}
}

func (hub *WebSocketHub) leave(client *Client) {
	select {
	case hub.unregister <- client:
	case <-hub.done:
	}
}

func (hub *WebSocketHub) remove(client *Client) {
	conns, ok := hub.clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}

	delete(conns, client)
	close(client.send)
	if len(conns) == 0 {
		delete(hub.clients, client.UserID)
	}
	slog.Debug("websocket client unregistered", "telegram_id", client.UserID)
}

func (hub *WebSocketHub) deliver(message *Message) {
	payload, err := json.Marshal(message)
	if err != nil {
		slog.Error("failed to encode websocket message", "type", message.Type, "error", err)
		return
	}

	for client := range hub.clients[message.UserID] {
		select {
		case client.send <- payload:
		default:
			// Slow reader.
			hub.remove(client)
		}
	}
}

func (hub *WebSocketHub) publish(msg *Message) {
	select {
	case hub.broadcast <- msg:
	default:
		slog.Warn("websocket broadcast queue full, dropping message", "type", msg.Type, "telegram_id", msg.UserID)
	}
}

func (hub *WebSocketHub) BroadcastBalance(telegramID int64, balance float64) {
	hub.publish(&Message{
		Type:   "BALANCE_UPDATE",
		UserID: telegramID,
		Data: gin.H{
			"tokenBalance": balance,
			"timestamp":    time.Now().Unix(),
		},
	})
}

func (hub *WebSocketHub) BroadcastBetSettled(telegramID int64, result *models.BetResult) {
	hub.publish(&Message{
		Type:   "BET_SETTLED",
		UserID: telegramID,
		Data:   result,
	})
}

type WebSocketHandler struct {
	hub          *WebSocketHub
	redisService *services.RedisService
}

func NewWebSocketHandler(hub *WebSocketHub, redisService *services.RedisService) *WebSocketHandler {
	return &WebSocketHandler{
		hub:          hub,
		redisService: redisService,
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetInt64("user_id")
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("failed to upgrade to websocket", "error", err)
		return
	}

	client := &Client{
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
	if !h.hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()

	if wallet, err := h.redisService.GetWallet(c.Request.Context(), userID); err == nil {
		h.hub.BroadcastBalance(userID, wallet.Response().Balance.TokenBalance)
	}

	h.readPump(client)
}

func (h *WebSocketHandler) readPump(client *Client) {
	defer func() {
		h.hub.leave(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(4096)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "telegram_id", client.UserID, "error", err)
			}
			return
		}

		if msg.Type == "PING" {
			h.hub.publish(&Message{
				Type:   "PONG",
				UserID: client.UserID,
				Data:   gin.H{"timestamp": time.Now().Unix()},
			})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
