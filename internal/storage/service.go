package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tastechat/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	searchQueueKey = "search_queue"
	purgeBatchSize = 1000
)

// Service is the PostgreSQL + Redis storage.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor. rdb may be nil, in which case the
// search-queue mirror is disabled.
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// AutoMigrate creates or updates the tables.
func (s *Service) AutoMigrate() error {
	return s.DB.AutoMigrate(
		&models.ChatRoom{},
		&models.ChatHistory{},
		&models.User{},
		&models.Complaint{},
	)
}

// SaveRoom upserts the room snapshot.
func (s *Service) SaveRoom(ctx context.Context, room *models.ChatRoom) error {
	return s.DB.WithContext(ctx).Save(room).Error
}

func (s *Service) GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	var room models.ChatRoom

	err := s.DB.WithContext(ctx).Where("room_id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	return &room, nil
}

// GetOpenRooms returns rooms that are ACTIVE or IDLE_WARNED.
func (s *Service) GetOpenRooms(ctx context.Context) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom

	err := s.DB.WithContext(ctx).
		Where("status IN ?", []models.RoomStatus{models.RoomActive, models.RoomIdleWarned}).
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("get open rooms: %w", err)
	}
	return rooms, nil
}

// SaveMessage appends an encrypted message.
func (s *Service) SaveMessage(ctx context.Context, msg *models.ChatHistory) error {
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("save message for room %s: %w", msg.RoomID, err)
	}
	return nil
}

func (s *Service) GetChatHistory(ctx context.Context, roomID string, limit int, ascending bool) ([]models.ChatHistory, error) {
	order := "created_at asc, id asc"
	if !ascending {
		order = "created_at desc, id desc"
	}

	var history []models.ChatHistory
	err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order(order).
		Limit(limit).
		Find(&history).Error
	if err != nil {
		return nil, fmt.Errorf("get chat history for room %s: %w", roomID, err)
	}
	return history, nil
}

// DeleteMessagesBefore deletes in batches so a long purge never holds one
// big lock on the messages table while live sends insert.
func (s *Service) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const batch = `
		DELETE FROM chat_histories
		WHERE id IN (
			SELECT id FROM chat_histories
			WHERE created_at < ? AND hold_for_dispute = false
			LIMIT ?
		)`

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res := s.DB.WithContext(ctx).Exec(batch, cutoff, purgeBatchSize)
		if res.Error != nil {
			return total, fmt.Errorf("purge messages before %s: %w", cutoff.Format(time.RFC3339), res.Error)
		}
		total += res.RowsAffected
		if res.RowsAffected < purgeBatchSize {
			return total, nil
		}
	}
}

func (s *Service) SetDisputeHold(ctx context.Context, messageID string, hold bool) error {
	res := s.DB.WithContext(ctx).
		Model(&models.ChatHistory{}).
		Where("id = ?", messageID).
		Update("hold_for_dispute", hold)
	if res.Error != nil {
		return fmt.Errorf("set dispute hold on %s: %w", messageID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) SetRoomDisputeHold(ctx context.Context, roomID string, hold bool) (int64, error) {
	res := s.DB.WithContext(ctx).
		Model(&models.ChatHistory{}).
		Where("room_id = ?", roomID).
		Update("hold_for_dispute", hold)
	if res.Error != nil {
		return 0, fmt.Errorf("set dispute hold on room %s: %w", roomID, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Service) SaveUserIfNotExists(ctx context.Context, telegramID string) (*models.User, error) {
	var user models.User

	result := s.DB.WithContext(ctx).
		Where("telegram_id = ?", telegramID).
		FirstOrCreate(&user, models.User{TelegramID: telegramID})
	if result.Error != nil {
		return nil, fmt.Errorf("save user %s on first contact: %w", telegramID, result.Error)
	}
	return &user, nil
}

func (s *Service) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User

	err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return &user, nil
}

func (s *Service) UpdateUser(ctx context.Context, user *models.User) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]interface{}{
			"language":  user.Language,
			"interests": user.Interests,
		})
	if res.Error != nil {
		return fmt.Errorf("update user %s: %w", user.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) SaveComplaint(ctx context.Context, complaint *models.Complaint) error {
	if complaint.Status == "" {
		complaint.Status = models.ComplaintNew
	}
	if err := s.DB.WithContext(ctx).Create(complaint).Error; err != nil {
		return fmt.Errorf("save complaint for room %s: %w", complaint.RoomID, err)
	}
	return nil
}

// AddUserToSearchQueue додає користувача до черги пошуку в Redis
func (s *Service) AddUserToSearchQueue(ctx context.Context, userID string) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.SAdd(ctx, searchQueueKey, userID).Err()
}

// RemoveUserFromSearchQueue видаляє користувача з черги пошуку в Redis
func (s *Service) RemoveUserFromSearchQueue(ctx context.Context, userID string) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.SRem(ctx, searchQueueKey, userID).Err()
}

// GetSearchingUsers повертає всіх користувачів, які зараз шукають пару
func (s *Service) GetSearchingUsers(ctx context.Context) ([]string, error) {
	if s.Redis == nil {
		return nil, nil
	}
	return s.Redis.SMembers(ctx, searchQueueKey).Result()
}
