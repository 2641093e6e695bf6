package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Complaint statuses.
const (
	ComplaintNew      = "new"
	ComplaintResolved = "resolved"
)

// Complaint is a dispute raised by a room member against their partner.
// While it is open, the room's messages are held from retention purge.
type Complaint struct {
	ComplaintID string `gorm:"primaryKey"`
	ReporterID  string `gorm:"index;not null"`
	TargetID    string `gorm:"index;not null"`
	RoomID      string `gorm:"index;not null"`
	Reason      string
	Status      string
	CreatedAt   time.Time
}

// BeforeCreate assigns a UUID when none is set.
func (c *Complaint) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ComplaintID == "" {
		c.ComplaintID = uuid.New().String()
	}
	return
}
