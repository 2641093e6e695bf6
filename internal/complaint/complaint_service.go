// Package complaint handles disputes raised by room members. Filing a
// complaint records it, holds the room's messages back from retention
// purge so moderators can review them, and ends the chat.
package complaint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tastechat/backend/internal/chathub"
	"tastechat/backend/internal/metrics"
	"tastechat/backend/internal/models"
	"tastechat/backend/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxReasonLength = 500

var (
	ErrEmptyReason   = fmt.Errorf("%w: complaint reason", chathub.ErrEmptyContent)
	ErrReasonTooLong = fmt.Errorf("%w: complaint reason", chathub.ErrMessageTooLong)
)

// Rooms is the registry surface complaints need.
type Rooms interface {
	MemberRoom(ctx context.Context, roomID, userID string) (models.ChatRoom, error)
	CloseRoom(ctx context.Context, roomID, reason string) (models.ChatRoom, error)
}

// Holds places dispute holds on messages.
type Holds interface {
	HoldRoom(ctx context.Context, roomID string, hold bool) (int64, error)
}

// Service handles the business logic for complaints.
type Service struct {
	rooms  Rooms
	holds  Holds
	repo   storage.ComplaintRepository
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new complaint service.
func NewService(rooms Rooms, holds Holds, repo storage.ComplaintRepository, logger zerolog.Logger) *Service {
	return &Service{
		rooms:  rooms,
		holds:  holds,
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// FileComplaint records reporterID's complaint about their partner in
// roomID. Only room members may file.
func (s *Service) FileComplaint(ctx context.Context, reporterID, roomID, reason string) (*models.Complaint, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrEmptyReason
	}
	if len([]rune(reason)) > maxReasonLength {
		return nil, ErrReasonTooLong
	}

	room, err := s.rooms.MemberRoom(ctx, roomID, reporterID)
	if err != nil {
		return nil, err
	}

	complaint := &models.Complaint{
		ComplaintID: uuid.New().String(),
		ReporterID:  reporterID,
		TargetID:    room.Partner(reporterID),
		RoomID:      roomID,
		Reason:      reason,
		Status:      models.ComplaintNew,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.SaveComplaint(ctx, complaint); err != nil {
		return nil, fmt.Errorf("failed to save complaint: %w", err)
	}

	held, err := s.holds.HoldRoom(ctx, roomID, true)
	if err != nil {
		return complaint, fmt.Errorf("failed to hold room messages: %w", err)
	}
	metrics.ComplaintsFiled.Inc()

	if _, err := s.rooms.CloseRoom(ctx, roomID, models.CloseReasonReported); err != nil && !errors.Is(err, chathub.ErrRoomNotFound) {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to close reported room")
	}

	s.logger.Info().
		Str("complaint_id", complaint.ComplaintID).
		Str("room_id", roomID).
		Str("reporter_id", reporterID).
		Str("target_id", complaint.TargetID).
		Int64("held_messages", held).
		Msg("complaint filed")
	return complaint, nil
}
