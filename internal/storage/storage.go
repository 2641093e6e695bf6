// Package storage persists rooms, encrypted messages, users and
// complaints. Service is the PostgreSQL (gorm) + Redis implementation;
// Memory is an in-process implementation for development and tests.
package storage

import (
	"context"
	"errors"
	"time"

	"tastechat/backend/internal/models"
)

var ErrNotFound = errors.New("record not found")

// RoomRepository stores chat room snapshots.
type RoomRepository interface {
	SaveRoom(ctx context.Context, room *models.ChatRoom) error
	GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error)
	GetOpenRooms(ctx context.Context) ([]models.ChatRoom, error)
}

// MessageRepository stores encrypted chat messages.
type MessageRepository interface {
	SaveMessage(ctx context.Context, msg *models.ChatHistory) error
	// GetChatHistory returns up to limit messages of a room ordered by
	// (created_at, id); ascending=false returns the newest first.
	GetChatHistory(ctx context.Context, roomID string, limit int, ascending bool) ([]models.ChatHistory, error)
	// DeleteMessagesBefore removes messages created before cutoff that are
	// not held for a dispute, returning the number removed.
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	SetDisputeHold(ctx context.Context, messageID string, hold bool) error
	SetRoomDisputeHold(ctx context.Context, roomID string, hold bool) (int64, error)
}

// UserRepository resolves users and their taste profiles.
type UserRepository interface {
	SaveUserIfNotExists(ctx context.Context, telegramID string) (*models.User, error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	// UpdateUser overwrites the language and interests of an existing user.
	UpdateUser(ctx context.Context, user *models.User) error
}

// ComplaintRepository stores disputes.
type ComplaintRepository interface {
	SaveComplaint(ctx context.Context, complaint *models.Complaint) error
}

// SearchQueue mirrors the matching queue for operators.
type SearchQueue interface {
	AddUserToSearchQueue(ctx context.Context, userID string) error
	RemoveUserFromSearchQueue(ctx context.Context, userID string) error
	GetSearchingUsers(ctx context.Context) ([]string, error)
}

// Storage is everything the chat core persists.
type Storage interface {
	RoomRepository
	MessageRepository
	UserRepository
	ComplaintRepository
	SearchQueue
}
