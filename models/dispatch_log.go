package models

import (
	"time"
)

// DispatchStatus is the state of one (campaign, lead) send
type DispatchStatus string

const (
	DispatchStatusPending   DispatchStatus = "pending"
	DispatchStatusSent      DispatchStatus = "sent"
	DispatchStatusDelivered DispatchStatus = "delivered"
	DispatchStatusFailed    DispatchStatus = "failed"
)

func (s DispatchStatus) Valid() bool {
	switch s {
	case DispatchStatusPending, DispatchStatusSent, DispatchStatusDelivered, DispatchStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the entry is final for its lead
func (s DispatchStatus) Terminal() bool {
	return s == DispatchStatusSent || s == DispatchStatusDelivered || s == DispatchStatusFailed
}

// DispatchLogEntry records the outcome of one campaign message to one lead.
// (campaign_id, lead_id) is unique, which is what keeps a lead from being messaged twice.
type DispatchLogEntry struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	CampaignID        uint           `gorm:"not null;uniqueIndex:uk_dispatch_logs_campaign_lead,priority:1;index:idx_dispatch_logs_campaign_status,priority:1" json:"campaign_id"`
	LeadID            uint           `gorm:"not null;uniqueIndex:uk_dispatch_logs_campaign_lead,priority:2" json:"lead_id"`
	Channel           Channel        `gorm:"type:varchar(8);not null" json:"channel"`
	Recipient         string         `gorm:"size:255;not null;default:''" json:"recipient"`
	RenderedMessage   string         `gorm:"type:text;not null;default:''" json:"rendered_message"`
	RenderedSubject   *string        `gorm:"type:text" json:"rendered_subject,omitempty"`
	Status            DispatchStatus `gorm:"type:varchar(16);not null;index:idx_dispatch_logs_campaign_status,priority:2" json:"status"`
	DueAt             *time.Time     `json:"due_at,omitempty"`
	ClaimedAt         *time.Time     `json:"claimed_at,omitempty"`
	SentAt            *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty"`
	ErrorMessage      *string        `gorm:"type:text" json:"error_message,omitempty"`
	ProviderMessageID *string        `gorm:"size:255;index:idx_dispatch_logs_provider_message_id" json:"provider_message_id,omitempty"`
	CreatedAt         time.Time      `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (DispatchLogEntry) TableName() string {
	return "dispatch_logs"
}

// InFlight reports whether another worker currently holds the entry
func (e *DispatchLogEntry) InFlight(now time.Time, claimTimeout time.Duration) bool {
	return e.Status == DispatchStatusPending && e.ClaimedAt != nil && now.Sub(*e.ClaimedAt) < claimTimeout
}

// DispatchLogFilter represents filter criteria for dispatch logs
type DispatchLogFilter struct {
	CampaignID *uint
	LeadID     *uint
	Status     *DispatchStatus
}

// DispatchStats aggregates a campaign's log by status
type DispatchStats struct {
	Pending    int64
	Sent       int64
	Delivered  int64
	Failed     int64
	// Charged counts entries the provider accepted, including ones a later receipt marked failed
	Charged    int64
	LastSentAt *time.Time
}

// Total is the number of log entries across all statuses
func (s DispatchStats) Total() int64 {
	return s.Pending + s.Sent + s.Delivered + s.Failed
}

// Succeeded counts entries whose latest known state is a successful send
func (s DispatchStats) Succeeded() int64 {
	return s.Sent + s.Delivered
}

// LeadDispatchState is the minimal per-lead view the scheduler needs to skip work
type LeadDispatchState struct {
	LeadID    uint
	Status    DispatchStatus
	ClaimedAt *time.Time
}
