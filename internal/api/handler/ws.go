package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"tastechat/backend/internal/chathub"
	"tastechat/backend/internal/models"
	"tastechat/backend/internal/ratelimit"
	"tastechat/backend/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var ErrUnsupportedFrame = errors.New("unsupported frame type")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients authenticate with a bearer token, not cookies.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket оновлює HTTP-з'єднання до WebSocket.
//
// Upgrades are limited per client address per minute and per user in total.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	userID := identityFrom(c).UserID

	if h.Limiter != nil {
		if _, err := h.Limiter.CheckAndIncrement(c.Request.Context(), c.ClientIP(), ratelimit.WindowConnectionMinute); err != nil {
			writeError(c, err)
			return
		}
	}
	if h.Connections != nil {
		if err := h.Connections.Acquire(userID); err != nil {
			writeError(c, err)
			return
		}
	}
	release := func() {
		if h.Connections != nil {
			h.Connections.Release(userID)
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already answered the request.
		release()
		h.logger.Debug().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	client := realtime.NewWebSocketClient(userID, conn, h.Hub, h.handleFrame, h.logger)
	client.SetOnClose(release)
	h.Hub.Register(client)
	client.Run()
}

// handleFrame sends a text frame into the room named by the frame, or the
// sender's current room when none is named.
func (h *Handler) handleFrame(ctx context.Context, userID string, msg models.ChatMessage) error {
	if msg.Type != models.MessageTypeText {
		return fmt.Errorf("%w: %q", ErrUnsupportedFrame, msg.Type)
	}

	roomID := msg.RoomID
	if roomID == "" {
		room, ok := h.Rooms.GetUserChatRoom(ctx, userID)
		if !ok {
			return chathub.ErrNoActiveMatch
		}
		roomID = room.RoomID
	}

	_, err := h.Rooms.SendMessage(ctx, roomID, userID, msg.Content)
	return err
}
