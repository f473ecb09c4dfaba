package businessflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/funnel-campaigns/app/dto"
	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/repository"
	"github.com/amirphl/funnel-campaigns/utils"
)

// DispatchGate stops the dispatch loop for one campaign around a status change.
// Quiesce returns only after in-flight sends finished and persist ran; no new send starts afterwards.
type DispatchGate interface {
	Quiesce(ctx context.Context, campaignID uint, persist func(context.Context) error) error
	Reopen(ctx context.Context, campaignID uint)
}

type noopGate struct{}

func (noopGate) Quiesce(ctx context.Context, _ uint, persist func(context.Context) error) error {
	return persist(ctx)
}

func (noopGate) Reopen(context.Context, uint) {}

// CampaignFlow handles the campaign lifecycle
type CampaignFlow interface {
	CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error)
	ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error)
	GetCampaign(ctx context.Context, ownerID, campaignID uint, channel models.Channel) (*dto.CampaignDTO, error)
	PauseCampaign(ctx context.Context, ownerID, campaignID uint, channel models.Channel, metadata *ClientMetadata) (*dto.CampaignStatusResponse, error)
	ResumeCampaign(ctx context.Context, ownerID, campaignID uint, channel models.Channel, metadata *ClientMetadata) (*dto.CampaignStatusResponse, error)
	DeleteCampaign(ctx context.Context, ownerID, campaignID uint, channel models.Channel, metadata *ClientMetadata) (*dto.CampaignStatusResponse, error)
	ListLogs(ctx context.Context, req *dto.ListDispatchLogsRequest) (*dto.ListDispatchLogsResponse, error)
	ExportLogs(ctx context.Context, ownerID, campaignID uint, channel models.Channel) (string, []byte, error)
	GetAnalytics(ctx context.Context, ownerID, campaignID uint, channel models.Channel) (*dto.CampaignAnalyticsResponse, error)
	RecordDeliveryReport(ctx context.Context, req *dto.DeliveryReportRequest) error
}

// CampaignOptions tunes validation
type CampaignOptions struct {
	SMSMaxLength int
	Now          func() time.Time
}

// CampaignFlowImpl implements the campaign business flow
type CampaignFlowImpl struct {
	campaignRepo repository.CampaignRepository
	quizRepo     repository.QuizRepository
	leadRepo     repository.LeadRepository
	logRepo      repository.DispatchLogRepository
	creditRepo   repository.CreditBalanceRepository
	auditRepo    repository.AuditLogRepository
	tx           repository.Transactor
	gate         DispatchGate
	opts         CampaignOptions
}

// NewCampaignFlow creates a new campaign flow instance
func NewCampaignFlow(
	campaignRepo repository.CampaignRepository,
	quizRepo repository.QuizRepository,
	leadRepo repository.LeadRepository,
	logRepo repository.DispatchLogRepository,
	creditRepo repository.CreditBalanceRepository,
	auditRepo repository.AuditLogRepository,
	tx repository.Transactor,
	gate DispatchGate,
	opts CampaignOptions,
) CampaignFlow {
	if gate == nil {
		gate = noopGate{}
	}
	if opts.SMSMaxLength <= 0 {
		opts.SMSMaxLength = utils.DefaultSMSMaxLength
	}
	if opts.Now == nil {
		opts.Now = utils.UTCNow
	}
	return &CampaignFlowImpl{
		campaignRepo: campaignRepo,
		quizRepo:     quizRepo,
		leadRepo:     leadRepo,
		logRepo:      logRepo,
		creditRepo:   creditRepo,
		auditRepo:    auditRepo,
		tx:           tx,
		gate:         gate,
		opts:         opts,
	}
}

// CreateCampaign validates the request, evaluates the segment and stores the campaign
func (s *CampaignFlowImpl) CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest, metadata *ClientMetadata) (*dto.CreateCampaignResponse, error) {
	now := s.opts.Now()

	campaign, bp, err := s.buildCampaign(ctx, req, now)
	if err != nil {
		return nil, s.creationFailed(ctx, req, "CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", err, metadata)
	}

	if campaign.Channel == models.ChannelSMS {
		if err := requireCredits(ctx, s.creditRepo, req.OwnerID); err != nil {
			return nil, s.creationFailed(ctx, req, "INSUFFICIENT_CREDITS", "Insufficient SMS credits", err, metadata)
		}
	}

	matched, err := LoadSegment(ctx, s.leadRepo, models.LeadQuery{
		OwnerID:       req.OwnerID,
		QuizID:        campaign.QuizID,
		CreatedBefore: &now,
	}, campaign.Segment())
	if err != nil {
		return nil, NewBusinessError("SEGMENT_EVALUATION_FAILED", "Failed to evaluate segment", err)
	}
	if len(matched) == 0 && !bp.AllowsEmptySegment {
		return nil, s.creationFailed(ctx, req, "EMPTY_SEGMENT", "Segment matches no leads", ErrEmptySegment, metadata)
	}
	campaign.SegmentSize = int64(len(matched))

	err = s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.campaignRepo.Save(txCtx, campaign); err != nil {
			return err
		}
		WriteAudit(txCtx, s.auditRepo, AuditEntry{
			OwnerID:     campaign.OwnerID,
			CampaignID:  &campaign.ID,
			Action:      models.AuditActionCampaignCreated,
			Description: fmt.Sprintf("%s campaign created: %s", campaign.Channel, campaign.UUID),
			Success:     true,
			Extra:       map[string]any{"type": campaign.Type, "segment_size": campaign.SegmentSize},
		}, metadata)
		return nil
	})
	if err != nil {
		return nil, s.creationFailed(ctx, req, "CAMPAIGN_CREATION_FAILED", "Campaign creation failed", err, metadata)
	}

	return &dto.CreateCampaignResponse{
		Message:  "Campaign created successfully",
		Campaign: ToCampaignDTO(campaign),
		Warnings: s.previewWarnings(campaign, matched),
	}, nil
}

func (s *CampaignFlowImpl) creationFailed(ctx context.Context, req *dto.CreateCampaignRequest, code, message string, err error, metadata *ClientMetadata) error {
	errMsg := err.Error()
	WriteAudit(ctx, s.auditRepo, AuditEntry{
		OwnerID:     req.OwnerID,
		Action:      models.AuditActionCampaignCreationFailed,
		Description: fmt.Sprintf("Campaign creation failed: %s", errMsg),
		ErrorMsg:    &errMsg,
	}, metadata)
	return NewBusinessError(code, message, err)
}

// buildCampaign turns the request into an unsaved campaign, enforcing the type's blueprint
func (s *CampaignFlowImpl) buildCampaign(ctx context.Context, req *dto.CreateCampaignRequest, now time.Time) (*models.Campaign, models.CampaignBlueprint, error) {
	channel := models.Channel(req.Channel)
	if !channel.Valid() {
		return nil, models.CampaignBlueprint{}, ErrInvalidChannel
	}

	campaignType := models.CampaignType(req.Type)
	bp, ok := campaignType.Blueprint()
	if !ok {
		return nil, bp, ErrInvalidCampaignType
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, bp, ErrCampaignNameRequired
	}
	if strings.TrimSpace(req.MessageTemplate) == "" {
		return nil, bp, ErrCampaignMessageRequired
	}
	if channel == models.ChannelEmail && !utils.NonEmpty(req.SubjectTemplate) {
		return nil, bp, ErrSubjectRequired
	}
	if channel == models.ChannelSMS && InspectTemplate(req.MessageTemplate).RawLength > s.opts.SMSMaxLength {
		return nil, bp, fmt.Errorf("%w: %d characters", ErrTemplateTooLong, s.opts.SMSMaxLength)
	}

	if bp.RequiresQuiz && req.QuizID == nil {
		return nil, bp, ErrQuizRequired
	}
	if req.QuizID != nil {
		quiz, err := s.quizRepo.ByID(ctx, *req.QuizID)
		if err != nil {
			return nil, bp, err
		}
		if quiz == nil || quiz.OwnerID != req.OwnerID {
			return nil, bp, ErrQuizNotFound
		}
	}

	audience := models.TargetAudience(req.TargetAudience)
	if audience == "" {
		audience = models.TargetAudienceAll
	}
	if !audience.Valid() {
		return nil, bp, ErrInvalidTargetAudience
	}

	dateFilter, err := utils.ParseRFC3339Ptr(req.DateFilter)
	if err != nil {
		return nil, bp, ErrInvalidDateFilter
	}

	var responseFilter *models.ResponseFilter
	if req.ResponseFilter != nil && strings.TrimSpace(req.ResponseFilter.Field) != "" {
		responseFilter = &models.ResponseFilter{Field: req.ResponseFilter.Field, Value: req.ResponseFilter.Value}
	}
	if bp.RequiresResponseFilter && responseFilter == nil {
		return nil, bp, ErrResponseFilterRequired
	}

	campaign := &models.Campaign{
		OwnerID:         req.OwnerID,
		QuizID:          req.QuizID,
		Channel:         channel,
		Type:            campaignType,
		Mode:            bp.Mode,
		Name:            name,
		MessageTemplate: req.MessageTemplate,
		TargetAudience:  audience,
		DateFilter:      dateFilter,
		ResponseFilter:  responseFilter,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if channel == models.ChannelEmail {
		campaign.SubjectTemplate = req.SubjectTemplate
	}
	if bp.Mode == models.CampaignModeOneShot {
		campaign.SegmentCutoffAt = &now
	}

	if err := applySchedule(campaign, req, now); err != nil {
		return nil, bp, err
	}
	return campaign, bp, nil
}

// applySchedule fills schedule and delay columns and the initial status
func applySchedule(c *models.Campaign, req *dto.CreateCampaignRequest, now time.Time) error {
	scheduleType := models.ScheduleType(req.ScheduleType)
	if scheduleType == "" {
		scheduleType = models.ScheduleTypeNow
	}
	if !scheduleType.Valid() {
		return ErrInvalidScheduleType
	}
	c.ScheduleType = scheduleType

	switch scheduleType {
	case models.ScheduleTypeScheduled:
		at, err := utils.ParseRFC3339Ptr(req.ScheduledAt)
		if err != nil || at == nil {
			return ErrScheduleTimeRequired
		}
		if !at.After(now) {
			return ErrScheduleInPast
		}
		c.ScheduledAt = at
	case models.ScheduleTypeDelayed:
		if req.Delay == nil || req.Delay.Value <= 0 || req.Delay.Unit == "" {
			return ErrInvalidDelay
		}
		unit := models.DelayUnit(req.Delay.Unit)
		seconds, err := models.DelayToSeconds(req.Delay.Value, unit)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDelay, err)
		}
		c.DelayValue = req.Delay.Value
		c.DelayUnit = &unit
		c.DelaySeconds = seconds
	}

	if scheduleType == models.ScheduleTypeScheduled {
		c.Status = models.CampaignStatusDraft
	} else {
		c.Status = models.CampaignStatusActive
		c.ActivatedAt = &now
	}
	return nil
}

// previewWarnings reports content problems in the matched segment without rejecting the campaign
func (s *CampaignFlowImpl) previewWarnings(c *models.Campaign, matched []*models.Lead) []string {
	report := inspectRendering(c.Channel, c.MessageTemplate, matched, s.opts.SMSMaxLength)
	return report.warnings()
}

func requireCredits(ctx context.Context, credits repository.CreditBalanceRepository, ownerID uint) error {
	balance, err := credits.ByOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	if balance == nil || balance.Remaining() <= 0 {
		return ErrInsufficientCredits
	}
	return nil
}

// ListCampaigns returns one page of the owner's campaigns
func (s *CampaignFlowImpl) ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error) {
	page, pageSize, err := normalizePage(req.Page, req.PageSize)
	if err != nil {
		return nil, NewBusinessError("INVALID_PAGINATION", "Invalid pagination", err)
	}

	var channel *models.Channel
	if req.Channel != "" {
		ch := models.Channel(req.Channel)
		if !ch.Valid() {
			return nil, NewBusinessError("INVALID_CHANNEL", "Invalid channel", ErrInvalidChannel)
		}
		channel = &ch
	}

	campaigns, total, err := s.campaignRepo.ListByOwner(ctx, req.OwnerID, channel, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("LIST_CAMPAIGNS_FAILED", "Failed to list campaigns", err)
	}

	items := make([]dto.CampaignDTO, 0, len(campaigns))
	for _, c := range campaigns {
		items = append(items, ToCampaignDTO(c))
	}

	return &dto.ListCampaignsResponse{
		Message:    "Campaigns retrieved successfully",
		Items:      items,
		Pagination: paginationInfo(page, pageSize, total),
	}, nil
}

func (s *CampaignFlowImpl) GetCampaign(ctx context.Context, ownerID, campaignID uint, channel models.Channel) (*dto.CampaignDTO, error) {
	c, err := s.ownedCampaign(ctx, ownerID, campaignID, channel)
	if err != nil {
		return nil, err
	}
	out := ToCampaignDTO(c)
	return &out, nil
}

// ownedCampaign loads the campaign and checks it belongs to ownerID.
// A non-empty channel hides campaigns of the other channel.
func (s *CampaignFlowImpl) ownedCampaign(ctx context.Context, ownerID, campaignID uint, channel models.Channel) (*models.Campaign, error) {
	c, err := s.campaignRepo.ByID(ctx, campaignID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if c == nil || (channel != "" && c.Channel != channel) {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	if c.OwnerID != ownerID {
		return nil, NewBusinessError("CAMPAIGN_ACCESS_DENIED", "Access denied: campaign belongs to another customer", ErrCampaignAccessDenied)
	}
	return c, nil
}

// PauseCampaign stops the campaign. When it returns, no further message for it will be sent.
func (s *CampaignFlowImpl) PauseCampaign(ctx context.Context, ownerID, campaignID uint, channel models.Channel, metadata *ClientMetadata) (*dto.CampaignStatusResponse, error) {
	c, err := s.ownedCampaign(ctx, ownerID, campaignID, channel)
	if err != nil {
		return nil, err
	}

	switch c.Status {
	case models.CampaignStatusPaused:
		return statusResponse("Campaign is already paused", c), nil
	case models.CampaignStatusActive:
	default:
		return nil, NewBusinessErrorf("INVALID_STATUS_TRANSITION", "Campaign in status %s cannot be paused", ErrInvalidStatusTransition, c.Status)
	}

	reason := models.PauseReasonManual
	err = s.gate.Quiesce(ctx, c.ID, func(qctx context.Context) error {
		return s.transition(qctx, c.ID, models.CampaignStatusActive, models.CampaignStatusPaused, map[string]any{"pause_reason": reason})
	})
	if err != nil {
		return nil, lifecycleError("CAMPAIGN_PAUSE_FAILED", "Failed to pause campaign", err)
	}

	c.Status = models.CampaignStatusPaused
	c.PauseReason = &reason
	WriteAudit(ctx, s.auditRepo, AuditEntry{
		OwnerID:     ownerID,
		CampaignID:  &c.ID,
		Action:      models.AuditActionCampaignPaused,
		Description: fmt.Sprintf("Campaign paused: %s", c.UUID),
		Success:     true,
	}, metadata)

	return statusResponse("Campaign paused successfully", c), nil
}

// ResumeCampaign reactivates a paused campaign. Leads already in its log are never messaged again.
func (s *CampaignFlowImpl) ResumeCampaign(ctx context.Context, ownerID, campaignID uint, channel models.Channel, metadata *ClientMetadata) (*dto.CampaignStatusResponse, error) {
	c, err := s.ownedCampaign(ctx, ownerID, campaignID, channel)
	if err != nil {
		return nil, err
	}

	switch c.Status {
	case models.CampaignStatusActive:
		return statusResponse("Campaign is already active", c), nil
	case models.CampaignStatusPaused:
	default:
		return nil, NewBusinessErrorf("INVALID_STATUS_TRANSITION", "Campaign in status %s cannot be resumed", ErrInvalidStatusTransition, c.Status)
	}

	if c.Channel == models.ChannelSMS {
		if err := requireCredits(ctx, s.creditRepo, ownerID); err != nil {
			return nil, lifecycleError("INSUFFICIENT_CREDITS", "Insufficient SMS credits", err)
		}
	}

	if err := s.transition(ctx, c.ID, models.CampaignStatusPaused, models.CampaignStatusActive, map[string]any{"pause_reason": nil}); err != nil {
		return nil, lifecycleError("CAMPAIGN_RESUME_FAILED", "Failed to resume campaign", err)
	}
	s.gate.Reopen(ctx, c.ID)

	c.Status = models.CampaignStatusActive
	c.PauseReason = nil
	WriteAudit(ctx, s.auditRepo, AuditEntry{
		OwnerID:     ownerID,
		CampaignID:  &c.ID,
		Action:      models.AuditActionCampaignResumed,
		Description: fmt.Sprintf("Campaign resumed: %s", c.UUID),
		Success:     true,
	}, metadata)

	return statusResponse("Campaign resumed successfully", c), nil
}

// DeleteCampaign halts and hides the campaign. Its dispatch log is retained for audit.
func (s *CampaignFlowImpl) DeleteCampaign(ctx context.Context, ownerID, campaignID uint, channel models.Channel, metadata *ClientMetadata) (*dto.CampaignStatusResponse, error) {
	c, err := s.ownedCampaign(ctx, ownerID, campaignID, channel)
	if err != nil {
		return nil, err
	}

	err = s.gate.Quiesce(ctx, c.ID, func(qctx context.Context) error {
		return s.campaignRepo.SoftDelete(qctx, c.ID)
	})
	if err != nil {
		return nil, lifecycleError("CAMPAIGN_DELETE_FAILED", "Failed to delete campaign", err)
	}

	WriteAudit(ctx, s.auditRepo, AuditEntry{
		OwnerID:     ownerID,
		CampaignID:  &c.ID,
		Action:      models.AuditActionCampaignDeleted,
		Description: fmt.Sprintf("Campaign deleted: %s", c.UUID),
		Success:     true,
		Extra:       map[string]any{"status_at_delete": c.Status},
	}, metadata)

	return statusResponse("Campaign deleted successfully", c), nil
}

// transition applies from -> to, treating a row already in `to` as success
func (s *CampaignFlowImpl) transition(ctx context.Context, id uint, from, to models.CampaignStatus, changes map[string]any) error {
	changed, err := s.campaignRepo.TransitionStatus(ctx, id, []models.CampaignStatus{from}, to, changes)
	if err != nil {
		return err
	}
	if changed {
		return nil
	}

	current, err := s.campaignRepo.ByID(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrCampaignNotFound
	}
	if current.Status == to {
		return nil
	}
	return ErrInvalidStatusTransition
}

func lifecycleError(code, message string, err error) error {
	var be *BusinessError
	if errors.As(err, &be) {
		return be
	}
	switch {
	case errors.Is(err, ErrInvalidStatusTransition):
		return NewBusinessError("INVALID_STATUS_TRANSITION", "Campaign status changed concurrently", err)
	case errors.Is(err, ErrCampaignNotFound):
		return NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", err)
	}
	return NewBusinessError(code, message, err)
}

func statusResponse(message string, c *models.Campaign) *dto.CampaignStatusResponse {
	resp := &dto.CampaignStatusResponse{
		Message: message,
		ID:      c.ID,
		Status:  string(c.Status),
	}
	if c.PauseReason != nil {
		reason := string(*c.PauseReason)
		resp.PauseReason = &reason
	}
	return resp
}

// ListLogs returns one page of the campaign's dispatch log
func (s *CampaignFlowImpl) ListLogs(ctx context.Context, req *dto.ListDispatchLogsRequest) (*dto.ListDispatchLogsResponse, error) {
	c, err := s.ownedCampaign(ctx, req.OwnerID, req.CampaignID, models.Channel(req.Channel))
	if err != nil {
		return nil, err
	}

	page, pageSize, err := normalizePage(req.Page, req.PageSize)
	if err != nil {
		return nil, NewBusinessError("INVALID_PAGINATION", "Invalid pagination", err)
	}

	var status *models.DispatchStatus
	if req.Status != nil && *req.Status != "" {
		st := models.DispatchStatus(*req.Status)
		if !st.Valid() {
			return nil, NewBusinessErrorf("INVALID_STATUS", "Unknown dispatch status %q", ErrInvalidDispatchStatus, *req.Status)
		}
		status = &st
	}

	entries, total, err := s.logRepo.ListByCampaign(ctx, c.ID, status, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("LIST_LOGS_FAILED", "Failed to list dispatch logs", err)
	}

	items := make([]dto.DispatchLogDTO, 0, len(entries))
	for _, e := range entries {
		items = append(items, ToDispatchLogDTO(e))
	}

	return &dto.ListDispatchLogsResponse{
		Message:    "Dispatch logs retrieved successfully",
		Items:      items,
		Pagination: paginationInfo(page, pageSize, total),
	}, nil
}

// GetAnalytics aggregates the dispatch log of one campaign
func (s *CampaignFlowImpl) GetAnalytics(ctx context.Context, ownerID, campaignID uint, channel models.Channel) (*dto.CampaignAnalyticsResponse, error) {
	c, err := s.ownedCampaign(ctx, ownerID, campaignID, channel)
	if err != nil {
		return nil, err
	}

	stats, err := s.logRepo.Stats(ctx, c.ID)
	if err != nil {
		return nil, NewBusinessError("ANALYTICS_FAILED", "Failed to compute campaign analytics", err)
	}

	resp := &dto.CampaignAnalyticsResponse{
		CampaignID:  c.ID,
		Status:      string(c.Status),
		SegmentSize: c.SegmentSize,
		Total:       stats.Total(),
		Pending:     stats.Pending,
		Sent:        stats.Sent,
		Delivered:   stats.Delivered,
		Failed:      stats.Failed,
		LastSentAt:  utils.FormatRFC3339Ptr(stats.LastSentAt),
	}
	if c.Channel == models.ChannelSMS {
		resp.CreditsUsed = stats.Charged
	}
	if succeeded := stats.Succeeded(); succeeded > 0 {
		resp.DeliveryRate = float64(stats.Delivered) / float64(succeeded)
	}
	if attempted := stats.Succeeded() + stats.Failed; attempted > 0 {
		resp.FailureRate = float64(stats.Failed) / float64(attempted)
	}
	return resp, nil
}

// RecordDeliveryReport applies a provider delivery receipt to the matching log entry
func (s *CampaignFlowImpl) RecordDeliveryReport(ctx context.Context, req *dto.DeliveryReportRequest) error {
	entry, err := s.logRepo.ByProviderMessageID(ctx, req.ProviderMessageID)
	if err != nil {
		return NewBusinessError("DISPATCH_LOOKUP_FAILED", "Failed to lookup dispatch log", err)
	}
	if entry == nil {
		return NewBusinessError("DISPATCH_LOG_NOT_FOUND", "Dispatch log not found", ErrDispatchLogNotFound)
	}

	switch models.DispatchStatus(req.Status) {
	case models.DispatchStatusDelivered:
		at := s.opts.Now()
		if reported, err := utils.ParseRFC3339Ptr(req.ReportedAt); err == nil && reported != nil {
			at = *reported
		}
		err = s.logRepo.MarkDelivered(ctx, entry.ID, at)
	case models.DispatchStatusFailed:
		msg := "delivery failed"
		if utils.NonEmpty(req.ErrorMessage) {
			msg = *req.ErrorMessage
		}
		err = s.logRepo.MarkFailed(ctx, entry.ID, msg)
	default:
		return NewBusinessErrorf("INVALID_STATUS", "Unsupported delivery status %q", ErrInvalidDispatchStatus, req.Status)
	}
	if err != nil {
		return NewBusinessError("DELIVERY_REPORT_FAILED", "Failed to record delivery report", err)
	}
	return nil
}
