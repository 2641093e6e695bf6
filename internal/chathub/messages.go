package chathub

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"tastechat/backend/internal/config"
	"tastechat/backend/internal/encryption"
	"tastechat/backend/internal/metrics"
	"tastechat/backend/internal/models"
	"tastechat/backend/internal/storage"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// ActivityTracker is told when a message lands in a room.
type ActivityTracker interface {
	TouchActivity(ctx context.Context, roomID string, at time.Time) error
}

// MessageStore validates, encrypts and persists chat messages and owns
// retention. It does not check room membership; callers do.
type MessageStore struct {
	repo     storage.MessageRepository
	crypto   *encryption.Engine
	limits   config.Limits
	activity ActivityTracker
	logger   zerolog.Logger
	now      func() time.Time
}

func NewMessageStore(repo storage.MessageRepository, crypto *encryption.Engine, limits config.Limits, logger zerolog.Logger) *MessageStore {
	return &MessageStore{
		repo:   repo,
		crypto: crypto,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// SetActivityTracker registers the room registry that tracks activity.
func (s *MessageStore) SetActivityTracker(t ActivityTracker) {
	s.activity = t
}

func (s *MessageStore) SetClock(now func() time.Time) {
	s.now = now
}

// EncryptionMode reports the engine mode for health checks.
func (s *MessageStore) EncryptionMode() string {
	return s.crypto.Mode()
}

// ValidateContent checks content against the configured bounds.
func (s *MessageStore) ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if !utf8.ValidString(content) {
		return ErrInvalidEncoding
	}
	if n := utf8.RuneCountInString(content); n > s.limits.MaxMessageLength {
		return fmt.Errorf("%w: %d characters, max %d", ErrMessageTooLong, n, s.limits.MaxMessageLength)
	}
	if n := len(content); n > s.limits.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrMessageTooLarge, n, s.limits.MaxMessageSize)
	}
	return nil
}

// SaveText stores one text message and returns its plaintext view.
func (s *MessageStore) SaveText(ctx context.Context, roomID, senderID, content string) (models.ChatMessage, error) {
	if roomID == "" || senderID == "" {
		return models.ChatMessage{}, ErrMissingID
	}
	if err := s.ValidateContent(content); err != nil {
		return models.ChatMessage{}, err
	}

	env, err := s.crypto.Encrypt(content)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("failed to encrypt message: %w", err)
	}

	createdAt := s.now().UTC()
	record := &models.ChatHistory{
		ID:         ulid.MustNew(ulid.Timestamp(createdAt), ulid.DefaultEntropy()).String(),
		RoomID:     roomID,
		SenderID:   senderID,
		Ciphertext: env.Ciphertext,
		IV:         env.IV,
		CreatedAt:  createdAt,
	}
	if err := s.repo.SaveMessage(ctx, record); err != nil {
		return models.ChatMessage{}, fmt.Errorf("failed to save message: %w", err)
	}
	metrics.MessagesStored.Inc()

	if s.activity != nil {
		if err := s.activity.TouchActivity(ctx, roomID, createdAt); err != nil {
			s.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to record room activity")
		}
	}

	return models.ChatMessage{
		ID:        record.ID,
		SenderID:  senderID,
		RoomID:    roomID,
		Content:   content,
		Type:      models.MessageTypeText,
		CreatedAt: createdAt,
	}, nil
}

// ClampLimit bounds a page size to [1, MaxHistoryPageLimit].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > config.MaxHistoryPageLimit {
		return config.MaxHistoryPageLimit
	}
	return limit
}

// GetMessages returns one decrypted page of a room's history. Records
// that fail to decrypt carry encryption.DecryptFailedMarker.
func (s *MessageStore) GetMessages(ctx context.Context, roomID string, limit int, ascending bool) ([]models.ChatMessage, error) {
	if roomID == "" {
		return nil, ErrMissingID
	}

	records, err := s.repo.GetChatHistory(ctx, roomID, ClampLimit(limit), ascending)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	messages := make([]models.ChatMessage, 0, len(records))
	for _, r := range records {
		messages = append(messages, models.ChatMessage{
			ID:        r.ID,
			SenderID:  r.SenderID,
			RoomID:    r.RoomID,
			Content:   s.crypto.Decrypt(encryption.Envelope{Ciphertext: r.Ciphertext, IV: r.IV}),
			Type:      models.MessageTypeText,
			CreatedAt: r.CreatedAt,
		})
	}
	return messages, nil
}

// RetentionCutoff is the oldest creation time kept by a purge of months.
func RetentionCutoff(now time.Time, months int) time.Time {
	return now.AddDate(0, -months, 0)
}

// PurgeOlderThanMonths deletes messages older than now minus months,
// except those held for a dispute.
func (s *MessageStore) PurgeOlderThanMonths(ctx context.Context, months int) (int64, error) {
	if months <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidRetention, months)
	}

	cutoff := RetentionCutoff(s.now().UTC(), months)
	deleted, err := s.repo.DeleteMessagesBefore(ctx, cutoff)
	if err != nil {
		return deleted, fmt.Errorf("failed to purge messages: %w", err)
	}

	metrics.MessagesPurged.Add(float64(deleted))
	s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("retention purge complete")
	return deleted, nil
}

// SetDisputeHold flags or releases one message.
func (s *MessageStore) SetDisputeHold(ctx context.Context, messageID string, hold bool) error {
	if messageID == "" {
		return ErrMissingID
	}
	return s.repo.SetDisputeHold(ctx, messageID, hold)
}

// HoldRoom flags or releases every message of a room.
func (s *MessageStore) HoldRoom(ctx context.Context, roomID string, hold bool) (int64, error) {
	if roomID == "" {
		return 0, ErrMissingID
	}
	return s.repo.SetRoomDisputeHold(ctx, roomID, hold)
}
