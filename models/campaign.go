package models

import (
	"database/sql/driver"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Channel is the transport a campaign delivers through
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

func (c Channel) Valid() bool {
	return c == ChannelSMS || c == ChannelEmail
}

func (c Channel) String() string {
	return string(c)
}

// CampaignType is the product-facing campaign flavour chosen in the wizard
type CampaignType string

const (
	CampaignTypeRemarketing        CampaignType = "remarketing"
	CampaignTypeRemarketingCustom  CampaignType = "remarketing_custom"
	CampaignTypeQuantumRemarketing CampaignType = "quantum_remarketing"
	CampaignTypeLive               CampaignType = "live"
	CampaignTypeLiveCustom         CampaignType = "live_custom"
	CampaignTypeQuantumLive        CampaignType = "quantum_live"
	CampaignTypeMass               CampaignType = "mass"
)

// CampaignMode says whether a campaign runs once over a frozen pool or keeps picking up new leads
type CampaignMode string

const (
	CampaignModeOneShot CampaignMode = "one_shot"
	CampaignModeLive    CampaignMode = "live"
)

// CampaignBlueprint is the set of rules a campaign type implies
type CampaignBlueprint struct {
	Mode                   CampaignMode
	RequiresQuiz           bool
	RequiresResponseFilter bool
	AllowsEmptySegment     bool
}

var campaignBlueprints = map[CampaignType]CampaignBlueprint{
	CampaignTypeRemarketing:        {Mode: CampaignModeOneShot, RequiresQuiz: true},
	CampaignTypeRemarketingCustom:  {Mode: CampaignModeOneShot, RequiresQuiz: true},
	CampaignTypeQuantumRemarketing: {Mode: CampaignModeOneShot, RequiresQuiz: true, RequiresResponseFilter: true},
	CampaignTypeLive:               {Mode: CampaignModeLive, RequiresQuiz: true},
	CampaignTypeLiveCustom:         {Mode: CampaignModeLive, RequiresQuiz: true},
	CampaignTypeQuantumLive:        {Mode: CampaignModeLive, RequiresQuiz: true, RequiresResponseFilter: true},
	CampaignTypeMass:               {Mode: CampaignModeOneShot, AllowsEmptySegment: true},
}

// Blueprint resolves the type into its rules. ok is false for unknown types.
func (t CampaignType) Blueprint() (CampaignBlueprint, bool) {
	bp, ok := campaignBlueprints[t]
	return bp, ok
}

func (t CampaignType) Valid() bool {
	_, ok := campaignBlueprints[t]
	return ok
}

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

func (s CampaignStatus) String() string {
	return string(s)
}

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusActive, CampaignStatusPaused, CampaignStatusCompleted:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for CampaignStatus
func (s *CampaignStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = CampaignStatus(v)
	case []byte:
		*s = CampaignStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for CampaignStatus
func (s CampaignStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CampaignStatus: %s", s)
	}
	return string(s), nil
}

// PauseReason records why a campaign stopped consuming leads
type PauseReason string

const (
	PauseReasonManual              PauseReason = "manual"
	PauseReasonInsufficientCredits PauseReason = "insufficient_credits"
)

// TargetAudience selects leads by completion status
type TargetAudience string

const (
	TargetAudienceCompleted TargetAudience = "completed"
	TargetAudienceAbandoned TargetAudience = "abandoned"
	TargetAudienceAll       TargetAudience = "all"
)

func (a TargetAudience) Valid() bool {
	return a == TargetAudienceCompleted || a == TargetAudienceAbandoned || a == TargetAudienceAll
}

// ScheduleType controls when a lead's message becomes due
type ScheduleType string

const (
	ScheduleTypeNow       ScheduleType = "now"
	ScheduleTypeScheduled ScheduleType = "scheduled"
	ScheduleTypeDelayed   ScheduleType = "delayed"
)

func (t ScheduleType) Valid() bool {
	return t == ScheduleTypeNow || t == ScheduleTypeScheduled || t == ScheduleTypeDelayed
}

// DelayUnit is the unit the delay was entered in
type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
)

// MaxDelaySeconds is the longest delay a time.Duration can carry
const MaxDelaySeconds = math.MaxInt64 / int64(time.Second)

var delayUnitSeconds = map[DelayUnit]int64{
	DelayUnitMinutes: 60,
	DelayUnitHours:   3600,
	DelayUnitDays:    86400,
}

// Seconds returns the exact number of seconds in one unit, or 0 for unknown units
func (u DelayUnit) Seconds() int64 {
	return delayUnitSeconds[u]
}

// DelayToSeconds converts value×unit to seconds using integer arithmetic
func DelayToSeconds(value int64, unit DelayUnit) (int64, error) {
	factor := unit.Seconds()
	if factor == 0 {
		return 0, fmt.Errorf("unknown delay unit %q", unit)
	}
	if value < 0 {
		return 0, fmt.Errorf("delay must not be negative: %d", value)
	}
	if value > MaxDelaySeconds/factor {
		return 0, fmt.Errorf("delay %d %s overflows", value, unit)
	}
	return value * factor, nil
}

// ResponseFilter is an exact match on one quiz answer
type ResponseFilter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Segment is the conjunctive predicate a campaign targets
type Segment struct {
	Audience       TargetAudience
	DateFloor      *time.Time
	ResponseFilter *ResponseFilter
}

// Campaign is one outbound SMS or email campaign over a quiz's leads.
// Content fields are fixed after creation; only lifecycle columns change.
type Campaign struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	UUID            uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_campaigns_uuid" json:"uuid"`
	OwnerID         uint            `gorm:"not null;index:idx_campaigns_owner_id" json:"owner_id"`
	QuizID          *uint           `gorm:"index:idx_campaigns_quiz_id" json:"quiz_id,omitempty"`
	Channel         Channel         `gorm:"type:varchar(8);not null;index:idx_campaigns_channel" json:"channel"`
	Type            CampaignType    `gorm:"type:varchar(32);not null" json:"type"`
	Mode            CampaignMode    `gorm:"type:varchar(16);not null" json:"mode"`
	Name            string          `gorm:"size:255;not null" json:"name"`
	MessageTemplate string          `gorm:"type:text;not null" json:"message_template"`
	SubjectTemplate *string         `gorm:"type:text" json:"subject_template,omitempty"`
	TargetAudience  TargetAudience  `gorm:"type:varchar(16);not null" json:"target_audience"`
	DateFilter      *time.Time      `json:"date_filter,omitempty"`
	ResponseFilter  *ResponseFilter `gorm:"type:jsonb;serializer:json" json:"response_filter,omitempty"`
	ScheduleType    ScheduleType    `gorm:"type:varchar(16);not null" json:"schedule_type"`
	ScheduledAt     *time.Time      `gorm:"index:idx_campaigns_scheduled_at" json:"scheduled_at,omitempty"`
	DelayValue      int64           `gorm:"not null;default:0" json:"delay_value"`
	DelayUnit       *DelayUnit      `gorm:"type:varchar(16)" json:"delay_unit,omitempty"`
	DelaySeconds    int64           `gorm:"not null;default:0" json:"delay_seconds"`
	Status          CampaignStatus  `gorm:"type:varchar(16);not null;default:'draft';index:idx_campaigns_status" json:"status"`
	PauseReason     *PauseReason    `gorm:"type:varchar(32)" json:"pause_reason,omitempty"`
	SegmentSize     int64           `gorm:"not null;default:0" json:"segment_size"`
	SegmentCutoffAt *time.Time      `json:"segment_cutoff_at,omitempty"`
	ActivatedAt     *time.Time      `json:"activated_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `gorm:"default:CURRENT_TIMESTAMP;index:idx_campaigns_created_at" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"default:CURRENT_TIMESTAMP" json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"index:idx_campaigns_deleted_at" json:"-"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

// BeforeCreate is called before creating a new record
func (c *Campaign) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CampaignStatusDraft
	}
	return nil
}

// Segment returns the targeting predicate of the campaign
func (c *Campaign) Segment() Segment {
	return Segment{
		Audience:       c.TargetAudience,
		DateFloor:      c.DateFilter,
		ResponseFilter: c.ResponseFilter,
	}
}

func (c *Campaign) IsLive() bool {
	return c.Mode == CampaignModeLive
}

// DueAt returns when a lead anchored at the given instant becomes sendable.
// Delayed campaigns add the delay to the anchor; the others are due once activated.
func (c *Campaign) DueAt(anchor time.Time) time.Time {
	if c.ScheduleType == ScheduleTypeDelayed {
		return anchor.Add(time.Duration(c.DelaySeconds) * time.Second)
	}
	if c.ScheduledAt != nil {
		return *c.ScheduledAt
	}
	return c.CreatedAt
}

// CampaignFilter represents filter criteria for campaigns
type CampaignFilter struct {
	ID              *uint
	OwnerID         *uint
	Channel         *Channel
	Status          *CampaignStatus
	PauseReason     *PauseReason
	ScheduledBefore *time.Time
}
