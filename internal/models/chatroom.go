package models

import "time"

// RoomStatus is the lifecycle state of a chat room.
type RoomStatus string

const (
	RoomActive     RoomStatus = "ACTIVE"
	RoomIdleWarned RoomStatus = "IDLE_WARNED"
	RoomClosed     RoomStatus = "CLOSED"
)

// Close reasons recorded on ChatRoom.CloseReason.
const (
	CloseReasonLeft     = "left"
	CloseReasonEnded    = "ended"
	CloseReasonIdle     = "idle_timeout"
	CloseReasonReported = "reported"
)

// ChatRoom represents a 1-on-1 chat session between two users.
// Membership is fixed at creation; a closed room is never reopened.
type ChatRoom struct {
	// RoomID is the unique identifier for the chat room (UUID).
	RoomID string `gorm:"primaryKey" json:"room_id"`
	// User1ID is the ID of the first user in the room.
	User1ID string `gorm:"index;not null" json:"user1_id"`
	// User2ID is the ID of the second user in the room.
	User2ID string `gorm:"index;not null" json:"user2_id"`
	// Status is ACTIVE, IDLE_WARNED or CLOSED.
	Status RoomStatus `gorm:"type:text;index;not null" json:"status"`
	// User1Left and User2Left record members who left an open room.
	User1Left bool `json:"user1_left"`
	User2Left bool `json:"user2_left"`
	// StartedAt is the timestamp when the chat room was created.
	StartedAt time.Time `json:"started_at"`
	// LastActivityAt is updated on every stored message.
	LastActivityAt time.Time `gorm:"index" json:"last_activity_at"`
	// WarnedAt is the time of the latest idle warning, nil when none is pending.
	WarnedAt *time.Time `json:"warned_at,omitempty"`
	// EndedAt is the timestamp when the chat room was closed.
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CloseReason string     `gorm:"type:text" json:"close_reason,omitempty"`
}

// IsOpen reports whether the room still accepts messages.
func (r *ChatRoom) IsOpen() bool {
	return r.Status == RoomActive || r.Status == RoomIdleWarned
}

// HasMember reports whether userID is one of the two members.
func (r *ChatRoom) HasMember(userID string) bool {
	return userID != "" && (r.User1ID == userID || r.User2ID == userID)
}

// Partner returns the other member, or "" if userID is not a member.
func (r *ChatRoom) Partner(userID string) string {
	switch userID {
	case r.User1ID:
		return r.User2ID
	case r.User2ID:
		return r.User1ID
	}
	return ""
}

// HasLeft reports whether the member has left the room.
func (r *ChatRoom) HasLeft(userID string) bool {
	switch userID {
	case r.User1ID:
		return r.User1Left
	case r.User2ID:
		return r.User2Left
	}
	return false
}

// Members returns both member IDs.
func (r *ChatRoom) Members() []string {
	return []string{r.User1ID, r.User2ID}
}
