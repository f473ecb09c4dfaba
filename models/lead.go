// Package models contains domain entities for quiz funnels, leads and outbound campaigns
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LeadStatus represents whether a respondent finished the quiz
type LeadStatus string

const (
	LeadStatusCompleted LeadStatus = "completed"
	LeadStatusAbandoned LeadStatus = "abandoned"
)

func (s LeadStatus) String() string {
	return string(s)
}

func (s LeadStatus) Valid() bool {
	return s == LeadStatusCompleted || s == LeadStatusAbandoned
}

// Scan implements the sql.Scanner interface for LeadStatus
func (s *LeadStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = LeadStatus(v)
	case []byte:
		*s = LeadStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into LeadStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for LeadStatus
func (s LeadStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid LeadStatus: %s", s)
	}
	return string(s), nil
}

// LeadAnswers maps a quiz question field to the respondent's answer
type LeadAnswers map[string]string

// Value implements the driver.Valuer interface for LeadAnswers
func (a LeadAnswers) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a)
}

// Scan implements the sql.Scanner interface for LeadAnswers
func (a *LeadAnswers) Scan(value any) error {
	if value == nil {
		*a = LeadAnswers{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into LeadAnswers", value)
	}

	out := LeadAnswers{}
	if err := json.Unmarshal(bytes, &out); err != nil {
		return err
	}
	*a = out
	return nil
}

// Lead is a quiz respondent. Leads are written by the capture service and only read here.
type Lead struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	UUID        uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:uk_leads_uuid" json:"uuid"`
	QuizID      uint        `gorm:"not null;index:idx_leads_quiz_id" json:"quiz_id"`
	Name        *string     `gorm:"size:255" json:"name,omitempty"`
	Phone       *string     `gorm:"size:32;index:idx_leads_phone" json:"phone,omitempty"`
	Email       *string     `gorm:"size:255" json:"email,omitempty"`
	Answers     LeadAnswers `gorm:"type:jsonb;not null;default:'{}'" json:"answers"`
	Status      LeadStatus  `gorm:"type:varchar(16);not null;index:idx_leads_status" json:"status"`
	SubmittedAt time.Time   `gorm:"not null;index:idx_leads_submitted_at" json:"submitted_at"`
	CreatedAt   time.Time   `gorm:"default:CURRENT_TIMESTAMP;index:idx_leads_created_at" json:"created_at"`
	UpdatedAt   time.Time   `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`

	Quiz *Quiz `gorm:"foreignKey:QuizID;references:ID" json:"quiz,omitempty"`
}

func (Lead) TableName() string {
	return "leads"
}

// BeforeCreate fills identifiers for leads inserted by fixtures and backfills
func (l *Lead) BeforeCreate(tx *gorm.DB) error {
	if l.UUID == uuid.Nil {
		l.UUID = uuid.New()
	}
	if l.Answers == nil {
		l.Answers = LeadAnswers{}
	}
	return nil
}

// Answer returns the recorded answer for a quiz field
func (l *Lead) Answer(field string) (string, bool) {
	if l.Answers == nil {
		return "", false
	}
	v, ok := l.Answers[field]
	return v, ok
}

// Recipient returns the address used for the given channel, or "" when the lead has none
func (l *Lead) Recipient(channel Channel) string {
	switch channel {
	case ChannelSMS:
		if l.Phone != nil {
			return *l.Phone
		}
	case ChannelEmail:
		if l.Email != nil {
			return *l.Email
		}
	}
	return ""
}

// LeadQuery selects the candidate pool for a segment
type LeadQuery struct {
	OwnerID       uint
	QuizID        *uint
	CreatedBefore *time.Time
	AfterID       *uint
	Limit         int
}

// LeadFilter represents filter criteria for lead listings
type LeadFilter struct {
	ID       *uint
	QuizID   *uint
	HasPhone *bool
}
