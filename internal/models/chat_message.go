package models

import "time"

// Message types carried by ChatMessage.Type.
const (
	MessageTypeText         = "text"
	MessageTypeMatchFound   = "system_match_found"
	MessageTypeMatchTimeout = "system_match_timeout"
	MessageTypeIdleWarning  = "system_idle_warning"
	MessageTypeRoomClosed   = "system_room_closed"
	MessageTypePartnerLeft  = "system_partner_left"
	MessageTypeError        = "error"
)

// SystemSenderID is the sender of system events.
const SystemSenderID = "system"

// ChatHistory is a stored chat message. Content is kept only as an
// encryption envelope so retention and dispute holds work without
// decrypting anything.
type ChatHistory struct {
	// ID is a ULID, so lexical order follows creation order.
	ID string `gorm:"primaryKey;type:text"`
	// RoomID is the identifier of the chat room where the message was sent.
	RoomID string `gorm:"type:text;not null;index:idx_room_msg,priority:1"`
	// SenderID is the ID of the user who sent the message.
	SenderID string `gorm:"type:text;not null"`
	// Ciphertext is the base64 ciphertext (or base64 plaintext in degraded mode).
	Ciphertext string `gorm:"type:text;not null"`
	// IV is the base64 nonce, or the degraded-mode sentinel.
	IV string `gorm:"type:text;not null"`
	// CreatedAt orders messages within a room.
	CreatedAt time.Time `gorm:"not null;index:idx_room_msg,priority:2;index:idx_msg_created"`
	// HoldForDispute exempts the record from retention purge.
	HoldForDispute bool `gorm:"not null;default:false"`
}

// ChatMessage is a decrypted message or a system event as seen by clients.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	SenderID  string    `json:"sender_id"`
	RoomID    string    `json:"room_id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSystemMessage builds a system event for a room.
func NewSystemMessage(roomID, msgType, content string, at time.Time) ChatMessage {
	return ChatMessage{
		SenderID:  SystemSenderID,
		RoomID:    roomID,
		Content:   content,
		Type:      msgType,
		CreatedAt: at,
	}
}
