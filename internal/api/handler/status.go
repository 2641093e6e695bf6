package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports liveness and the message encryption mode.
func (h *Handler) Health(c *gin.Context) {
	body := gin.H{"status": "ok", "encryption": h.Messages.EncryptionMode()}
	if h.Hub != nil {
		body["connections"] = h.Hub.ConnectionCount()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) SystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Matcher.GetSystemStatus())
}

func (h *Handler) RoomStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Rooms.GetChatRoomStats())
}
