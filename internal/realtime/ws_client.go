package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tastechat/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// FrameHandler processes a frame read from a client. A returned error is
// sent back to that connection as an "error" message.
type FrameHandler func(ctx context.Context, userID string, msg models.ChatMessage) error

// WebSocketClient implements Client over a gorilla/websocket connection.
type WebSocketClient struct {
	userID  string
	conn    *websocket.Conn
	hub     *Hub
	send    chan models.ChatMessage
	onFrame FrameHandler
	onClose func()
	once    sync.Once
	logger  zerolog.Logger
}

func NewWebSocketClient(userID string, conn *websocket.Conn, hub *Hub, onFrame FrameHandler, logger zerolog.Logger) *WebSocketClient {
	return &WebSocketClient{
		userID:  userID,
		conn:    conn,
		hub:     hub,
		send:    make(chan models.ChatMessage, sendBuffer),
		onFrame: onFrame,
		logger:  logger.With().Str("user_id", userID).Logger(),
	}
}

// SetOnClose registers a callback run once when the client closes.
func (c *WebSocketClient) SetOnClose(fn func()) {
	c.onClose = fn
}

func (c *WebSocketClient) GetUserID() string                         { return c.userID }
func (c *WebSocketClient) GetSendChannel() chan<- models.ChatMessage { return c.send }

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close stops the write pump, which closes the connection.
func (c *WebSocketClient) Close() {
	c.once.Do(func() {
		close(c.send)
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("error reading message")
			}
			return
		}

		var msg models.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug().Err(err).Msg("error decoding client frame")
			c.reply(models.NewSystemMessage("", models.MessageTypeError, "malformed message", time.Now().UTC()))
			continue
		}
		msg.SenderID = c.userID
		if msg.Type == "" {
			msg.Type = models.MessageTypeText
		}

		if c.onFrame == nil {
			continue
		}
		if err := c.onFrame(context.Background(), c.userID, msg); err != nil {
			c.reply(models.NewSystemMessage(msg.RoomID, models.MessageTypeError, err.Error(), time.Now().UTC()))
		}
	}
}

func (c *WebSocketClient) reply(msg models.ChatMessage) {
	if !c.hub.sendTo(c, msg) {
		c.logger.Debug().Str("type", msg.Type).Msg("reply dropped")
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug().Err(err).Msg("error writing message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
