package dto

// ResponseFilterDTO is the exact-match answer filter used by quantum campaigns
type ResponseFilterDTO struct {
	Field string `json:"field" validate:"required,max=255"`
	Value string `json:"value" validate:"required,max=1000"`
}

// DelayDTO is the per-lead delay as entered in the wizard
type DelayDTO struct {
	Value int64  `json:"value" validate:"gte=0"`
	Unit  string `json:"unit" validate:"omitempty,oneof=minutes hours days"`
}

// CreateCampaignRequest is shared by the SMS and email creation endpoints
type CreateCampaignRequest struct {
	OwnerID         uint               `json:"-"`
	Channel         string             `json:"-"`
	QuizID          *uint              `json:"quiz_id,omitempty"`
	Type            string             `json:"type" validate:"required,oneof=remarketing remarketing_custom quantum_remarketing live live_custom quantum_live mass"`
	Name            string             `json:"name" validate:"required,max=255"`
	MessageTemplate string             `json:"message_template" validate:"required,max=20000"`
	SubjectTemplate *string            `json:"subject_template,omitempty" validate:"omitempty,max=998"`
	TargetAudience  string             `json:"target_audience" validate:"omitempty,oneof=completed abandoned all"`
	DateFilter      *string            `json:"date_filter,omitempty"`
	ResponseFilter  *ResponseFilterDTO `json:"response_filter,omitempty" validate:"omitempty"`
	ScheduleType    string             `json:"schedule_type" validate:"omitempty,oneof=now scheduled delayed"`
	ScheduledAt     *string            `json:"scheduled_at,omitempty"`
	Delay           *DelayDTO          `json:"delay,omitempty" validate:"omitempty"`
}

// CampaignDTO is the wire form of a campaign
type CampaignDTO struct {
	ID              uint               `json:"id"`
	UUID            string             `json:"uuid"`
	QuizID          *uint              `json:"quiz_id,omitempty"`
	Channel         string             `json:"channel"`
	Type            string             `json:"type"`
	Mode            string             `json:"mode"`
	Name            string             `json:"name"`
	MessageTemplate string             `json:"message_template"`
	SubjectTemplate *string            `json:"subject_template,omitempty"`
	TargetAudience  string             `json:"target_audience"`
	DateFilter      *string            `json:"date_filter,omitempty"`
	ResponseFilter  *ResponseFilterDTO `json:"response_filter,omitempty"`
	ScheduleType    string             `json:"schedule_type"`
	ScheduledAt     *string            `json:"scheduled_at,omitempty"`
	Delay           *DelayDTO          `json:"delay,omitempty"`
	DelaySeconds    int64              `json:"delay_seconds"`
	Status          string             `json:"status"`
	PauseReason     *string            `json:"pause_reason,omitempty"`
	SegmentSize     int64              `json:"segment_size"`
	CreatedAt       string             `json:"created_at"`
	ActivatedAt     *string            `json:"activated_at,omitempty"`
	CompletedAt     *string            `json:"completed_at,omitempty"`
}

type CreateCampaignResponse struct {
	Message  string      `json:"message"`
	Campaign CampaignDTO `json:"campaign"`
	Warnings []string    `json:"warnings,omitempty"`
}

type ListCampaignsRequest struct {
	OwnerID  uint   `json:"-"`
	Channel  string `json:"channel" validate:"omitempty,oneof=sms email"`
	Page     int    `json:"page" validate:"omitempty,gte=1"`
	PageSize int    `json:"page_size" validate:"omitempty,gte=1,lte=100"`
}

type ListCampaignsResponse struct {
	Message    string         `json:"message"`
	Items      []CampaignDTO  `json:"items"`
	Pagination PaginationInfo `json:"pagination"`
}

// CampaignStatusResponse is returned by pause, resume and delete
type CampaignStatusResponse struct {
	Message     string  `json:"message"`
	ID          uint    `json:"id"`
	Status      string  `json:"status"`
	PauseReason *string `json:"pause_reason,omitempty"`
}

// DispatchLogDTO is one row of a campaign's send log
type DispatchLogDTO struct {
	ID              uint    `json:"id"`
	LeadID          uint    `json:"lead_id"`
	Recipient       string  `json:"recipient"`
	RenderedMessage string  `json:"rendered_message"`
	RenderedSubject *string `json:"rendered_subject,omitempty"`
	Status          string  `json:"status"`
	DueAt           *string `json:"due_at,omitempty"`
	SentAt          *string `json:"sent_at,omitempty"`
	DeliveredAt     *string `json:"delivered_at,omitempty"`
	ErrorMessage    *string `json:"error_message,omitempty"`
}

type ListDispatchLogsRequest struct {
	OwnerID    uint    `json:"-"`
	CampaignID uint    `json:"-"`
	Channel    string  `json:"-"`
	Status     *string `json:"status,omitempty" validate:"omitempty,oneof=pending sent delivered failed"`
	Page       int     `json:"page" validate:"omitempty,gte=1"`
	PageSize   int     `json:"page_size" validate:"omitempty,gte=1,lte=100"`
}

type ListDispatchLogsResponse struct {
	Message    string           `json:"message"`
	Items      []DispatchLogDTO `json:"items"`
	Pagination PaginationInfo   `json:"pagination"`
}

type CampaignAnalyticsResponse struct {
	CampaignID   uint    `json:"campaign_id"`
	Status       string  `json:"status"`
	SegmentSize  int64   `json:"segment_size"`
	Total        int64   `json:"total"`
	Pending      int64   `json:"pending"`
	Sent         int64   `json:"sent"`
	Delivered    int64   `json:"delivered"`
	Failed       int64   `json:"failed"`
	CreditsUsed  int64   `json:"credits_used"`
	DeliveryRate float64 `json:"delivery_rate"`
	FailureRate  float64 `json:"failure_rate"`
	LastSentAt   *string `json:"last_sent_at,omitempty"`
}

// DeliveryReportRequest is posted by the SMS provider when a message's fate is known
type DeliveryReportRequest struct {
	ProviderMessageID string  `json:"message_id" validate:"required,max=255"`
	Status            string  `json:"status" validate:"required,oneof=delivered failed"`
	ErrorMessage      *string `json:"error_message,omitempty"`
	ReportedAt        *string `json:"reported_at,omitempty"`
}
