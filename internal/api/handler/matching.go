package handler

import (
	"errors"
	"net/http"

	"tastechat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
)

// RequestMatching queues the caller. A match made right away answers 201
// with the room id.
func (h *Handler) RequestMatching(c *gin.Context) {
	userID := identityFrom(c).UserID
	status, err := h.Matcher.RequestMatching(c.Request.Context(), userID)
	if errors.Is(err, chathub.ErrAlreadyMatched) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": chathub.KindConflict.String(), "room_id": status.RoomID})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	code := http.StatusAccepted
	if status.State == chathub.StateChatting {
		code = http.StatusCreated
	}
	c.JSON(code, status)
}

func (h *Handler) CancelMatching(c *gin.Context) {
	if err := h.Matcher.CancelMatching(c.Request.Context(), identityFrom(c).UserID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// EndMatch leaves the queue and closes the caller's room, if any.
func (h *Handler) EndMatch(c *gin.Context) {
	if err := h.Matcher.EndMatch(c.Request.Context(), identityFrom(c).UserID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) MatchingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Matcher.GetMatchingStatus(c.Request.Context(), identityFrom(c).UserID))
}
