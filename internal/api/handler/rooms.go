package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"tastechat/backend/internal/chathub"
	"tastechat/backend/internal/config"
	"tastechat/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type sendRequest struct {
	Content string `json:"content"`
}

type complaintRequest struct {
	Reason string `json:"reason"`
}

// CurrentRoom returns the caller's open room.
func (h *Handler) CurrentRoom(c *gin.Context) {
	room, ok := h.Rooms.GetUserChatRoom(c.Request.Context(), identityFrom(c).UserID)
	if !ok {
		writeError(c, chathub.ErrNoActiveMatch)
		return
	}
	c.JSON(http.StatusOK, room)
}

// History returns one page of a room's messages.
// Query: limit (1..100, default 50) and order (asc|desc, default asc).
func (h *Handler) History(c *gin.Context) {
	limit := config.DefaultHistoryPageLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, fmt.Errorf("%w: limit must be a number", ErrBadRequest))
			return
		}
		limit = n
	}

	var ascending bool
	switch c.DefaultQuery("order", "asc") {
	case "asc":
		ascending = true
	case "desc":
	default:
		writeError(c, fmt.Errorf("%w: order must be asc or desc", ErrBadRequest))
		return
	}

	messages, err := h.Rooms.GetChatHistory(c.Request.Context(), c.Param("id"), identityFrom(c).UserID, limit, ascending)
	if err != nil {
		writeError(c, err)
		return
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}

	msg, err := h.Rooms.SendMessage(c.Request.Context(), c.Param("id"), identityFrom(c).UserID, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) LeaveRoom(c *gin.Context) {
	if err := h.Rooms.LeaveChatRoom(c.Request.Context(), c.Param("id"), identityFrom(c).UserID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// FileComplaint reports the caller's partner, holding the room's history
// and closing the room.
func (h *Handler) FileComplaint(c *gin.Context) {
	var req complaintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}

	filed, err := h.Complaints.FileComplaint(c.Request.Context(), identityFrom(c).UserID, c.Param("id"), req.Reason)
	if err != nil {
		if errors.Is(err, chathub.ErrRoomNotFound) {
			err = chathub.ErrNotMember
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"complaint_id": filed.ComplaintID,
		"room_id":      filed.RoomID,
		"status":       filed.Status,
		"created_at":   filed.CreatedAt,
	})
}
