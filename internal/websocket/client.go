package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection keepalive
const (
	writeTimeout   = 10 * time.Second
	idleTimeout    = 60 * time.Second
	pingInterval   = idleTimeout * 9 / 10
	maxInboundSize = 512
	sendQueueSize  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// viewers connect from the game client on other origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one viewer connection. A viewer opened by a known player always
// receives that player's own updates, whether or not it is subscribed to the
// board.
type Client struct {
	id       string
	playerID int64
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	logger   *slog.Logger
}

// ClientMessage is a control message sent by a viewer
type ClientMessage struct {
	Type string `json:"type"`
}

// NewClient wraps an upgraded connection. playerID is zero for anonymous viewers.
func NewClient(hub *Hub, conn *websocket.Conn, playerID int64, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:       id,
		playerID: playerID,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
		logger:   logger.With("client_id", id, "player_id", playerID),
	}
}

// wants reports whether a message about player should go to this viewer
func (c *Client) wants(subscribed bool, player int64) bool {
	return subscribed || (player != 0 && player == c.playerID)
}

// readControl handles viewer control messages until the connection drops
func (c *Client) readControl() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket closed unexpectedly", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(MessageTypeError, map[string]string{"error": "invalid message format"})
			continue
		}

		switch msg.Type {
		case MessageTypeSubscribe:
			c.hub.Subscribe(c)
			c.reply(MessageTypeSubscribed, nil)
		case MessageTypeUnsubscribe:
			c.hub.Unsubscribe(c)
			c.reply(MessageTypeUnsubscribed, nil)
		case MessageTypePing:
			c.reply(MessageTypePong, nil)
		default:
			c.reply(MessageTypeError, map[string]string{"error": "unknown message type " + msg.Type})
		}
	}
}

// writeUpdates forwards queued frames to the viewer and keeps the connection alive
func (c *Client) writeUpdates() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues a direct answer to this viewer, dropping it if the queue is full
func (c *Client) reply(msgType string, data interface{}) {
	frame, err := json.Marshal(Message{Type: msgType, Data: data, Timestamp: time.Now()})
	if err != nil {
		c.logger.Error("failed to marshal reply", "type", msgType, "error", err)
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// ServeWs upgrades the request and attaches the viewer to the hub
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request, playerID int64) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, playerID, logger)
	if !hub.Register(client) {
		conn.Close()
		return
	}

	go client.writeUpdates()
	go client.readControl()
}
