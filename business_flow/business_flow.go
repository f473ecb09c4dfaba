package businessflow

import (
	"context"
	"time"

	"github.com/amirphl/funnel-campaigns/app/dto"
	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/utils"
)

type contextKey string

// RequestIDKey carries the inbound X-Request-ID through the request context
const RequestIDKey contextKey = "request_id"

// ClientMetadata holds client information for audit logging
type ClientMetadata struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	RequestID string `json:"request_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// WithRequestID stores the request id on ctx for audit rows written further down
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func requestIDFrom(ctx context.Context, metadata *ClientMetadata) *string {
	if metadata != nil && metadata.RequestID != "" {
		return &metadata.RequestID
	}
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		return &v
	}
	return nil
}

// ToCampaignDTO converts a campaign model to its wire form
func ToCampaignDTO(c *models.Campaign) dto.CampaignDTO {
	out := dto.CampaignDTO{
		ID:              c.ID,
		UUID:            c.UUID.String(),
		QuizID:          c.QuizID,
		Channel:         string(c.Channel),
		Type:            string(c.Type),
		Mode:            string(c.Mode),
		Name:            c.Name,
		MessageTemplate: c.MessageTemplate,
		SubjectTemplate: c.SubjectTemplate,
		TargetAudience:  string(c.TargetAudience),
		DateFilter:      utils.FormatRFC3339Ptr(c.DateFilter),
		ScheduleType:    string(c.ScheduleType),
		ScheduledAt:     utils.FormatRFC3339Ptr(c.ScheduledAt),
		DelaySeconds:    c.DelaySeconds,
		Status:          string(c.Status),
		SegmentSize:     c.SegmentSize,
		CreatedAt:       c.CreatedAt.UTC().Format(time.RFC3339),
		ActivatedAt:     utils.FormatRFC3339Ptr(c.ActivatedAt),
		CompletedAt:     utils.FormatRFC3339Ptr(c.CompletedAt),
	}
	if c.ResponseFilter != nil {
		out.ResponseFilter = &dto.ResponseFilterDTO{Field: c.ResponseFilter.Field, Value: c.ResponseFilter.Value}
	}
	if c.DelayUnit != nil {
		out.Delay = &dto.DelayDTO{Value: c.DelayValue, Unit: string(*c.DelayUnit)}
	}
	if c.PauseReason != nil {
		reason := string(*c.PauseReason)
		out.PauseReason = &reason
	}
	return out
}

// ToDispatchLogDTO converts a dispatch log entry to its wire form
func ToDispatchLogDTO(e *models.DispatchLogEntry) dto.DispatchLogDTO {
	return dto.DispatchLogDTO{
		ID:              e.ID,
		LeadID:          e.LeadID,
		Recipient:       e.Recipient,
		RenderedMessage: e.RenderedMessage,
		RenderedSubject: e.RenderedSubject,
		Status:          string(e.Status),
		DueAt:           utils.FormatRFC3339Ptr(e.DueAt),
		SentAt:          utils.FormatRFC3339Ptr(e.SentAt),
		DeliveredAt:     utils.FormatRFC3339Ptr(e.DeliveredAt),
		ErrorMessage:    e.ErrorMessage,
	}
}

func ToQuizDTO(q *models.Quiz) dto.QuizDTO {
	fields := []string(q.Fields)
	if fields == nil {
		fields = []string{}
	}
	return dto.QuizDTO{
		ID:        q.ID,
		UUID:      q.UUID.String(),
		Title:     q.Title,
		Fields:    fields,
		CreatedAt: q.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func ToCreditBalanceDTO(b *models.CreditBalance) dto.CreditBalanceResponse {
	if b == nil {
		return dto.CreditBalanceResponse{}
	}
	return dto.CreditBalanceResponse{
		Total:     b.Total,
		Used:      b.Used,
		Remaining: b.Remaining(),
	}
}

// normalizePage applies defaults and bounds to list pagination
func normalizePage(page, pageSize int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = utils.DefaultPageSize
	}
	if page < 1 {
		return 0, 0, ErrInvalidPage
	}
	if pageSize < 1 || pageSize > utils.MaxPageSize {
		return 0, 0, ErrInvalidPageSize
	}
	return page, pageSize, nil
}

func paginationInfo(page, pageSize int, total int64) dto.PaginationInfo {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return dto.PaginationInfo{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}
