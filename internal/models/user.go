package models

import (
	"github.com/google/uuid"
	"github.com/lib/pq" // Необхідний для pq.StringArray
	"gorm.io/gorm"
)

// User представляє користувача в системі.
// Interests is the taste profile consumed by the compatibility scorer.
type User struct {
	ID         string         `gorm:"primaryKey" json:"id"` // Анонімний UUID
	TelegramID string         `gorm:"uniqueIndex"`          // Може бути порожнім
	Language   string         `gorm:"type:text"`
	Interests  pq.StringArray `gorm:"type:text[]"` // Для зберігання тегів
}

// BeforeCreate — це хук GORM, який викликається перед створенням запису.
// Він генерує новий UUID для користувача, якщо ID ще не встановлено.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}
