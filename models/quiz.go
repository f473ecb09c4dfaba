package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Quiz is a funnel owned by a customer. Fields lists the question keys leads may answer.
type Quiz struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UUID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_quizzes_uuid" json:"uuid"`
	OwnerID   uint           `gorm:"not null;index:idx_quizzes_owner_id" json:"owner_id"`
	Title     string         `gorm:"size:255;not null" json:"title"`
	Fields    pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"fields"`
	IsActive  *bool          `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time      `gorm:"default:CURRENT_TIMESTAMP;index:idx_quizzes_created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

// BeforeCreate assigns a UUID when the caller did not
func (q *Quiz) BeforeCreate(tx *gorm.DB) error {
	if q.UUID == uuid.Nil {
		q.UUID = uuid.New()
	}
	return nil
}

// HasField reports whether the quiz declares the given question key
func (q *Quiz) HasField(field string) bool {
	for _, f := range q.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// QuizFilter represents filter criteria for quizzes
type QuizFilter struct {
	ID      *uint
	OwnerID *uint
}
