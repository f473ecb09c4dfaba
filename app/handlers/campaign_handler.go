package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v3"

	"github.com/amirphl/funnel-campaigns/app/dto"
	businessflow "github.com/amirphl/funnel-campaigns/business_flow"
	"github.com/amirphl/funnel-campaigns/models"
)

// CampaignHandlerInterface defines the contract for campaign handlers
type CampaignHandlerInterface interface {
	CreateCampaign(c fiber.Ctx) error
	ListCampaigns(c fiber.Ctx) error
	GetCampaign(c fiber.Ctx) error
	PauseCampaign(c fiber.Ctx) error
	ResumeCampaign(c fiber.Ctx) error
	DeleteCampaign(c fiber.Ctx) error
	ListLogs(c fiber.Ctx) error
	ExportLogs(c fiber.Ctx) error
	GetAnalytics(c fiber.Ctx) error
}

// CampaignHandler serves the campaign endpoints of one channel
type CampaignHandler struct {
	handlerBase
	campaignFlow businessflow.CampaignFlow
	channel      models.Channel
}

// NewCampaignHandler creates a handler bound to the sms or email route prefix
func NewCampaignHandler(campaignFlow businessflow.CampaignFlow, channel models.Channel) *CampaignHandler {
	return &CampaignHandler{
		handlerBase:  newHandlerBase(),
		campaignFlow: campaignFlow,
		channel:      channel,
	}
}

// CreateCampaign handles campaign creation
// @Summary Create Campaign
// @Description Create an SMS or email campaign over a quiz's leads
// @Tags Campaigns
// @Accept json
// @Produce json
// @Param request body dto.CreateCampaignRequest true "Campaign creation data"
// @Success 201 {object} dto.APIResponse{data=dto.CreateCampaignResponse} "Campaign created successfully"
// @Failure 400 {object} dto.APIResponse "Validation error or empty segment"
// @Failure 402 {object} dto.APIResponse "No SMS credits left"
// @Failure 404 {object} dto.APIResponse "Quiz not found"
// @Router /api/sms-campaigns [post]
// @Router /api/email-campaigns/advanced [post]
func (h *CampaignHandler) CreateCampaign(c fiber.Ctx) error {
	var req dto.CreateCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if msgs := h.validate(&req); msgs != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", msgs)
	}

	customerID, ok := h.customerID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Customer ID not found in context", "MISSING_CUSTOMER_ID", nil)
	}
	req.OwnerID = customerID
	req.Channel = h.channel.String()

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	result, err := h.campaignFlow.CreateCampaign(ctx, &req, h.metadata(c))
	if err != nil {
		return h.businessErrorResponse(c, err, "Campaign creation failed", "CAMPAIGN_CREATION_FAILED")
	}

	return h.SuccessResponse(c, fiber.StatusCreated, fmt.Sprintf("%s campaign created successfully", channelTitle(h.channel)), result)
}

// ListCampaigns returns the owner's campaigns of this channel, newest first
// @Summary List Campaigns
// @Tags Campaigns
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Items per page" default(20)
// @Success 200 {object} dto.APIResponse{data=dto.ListCampaignsResponse}
// @Router /api/sms-campaigns [get]
// @Router /api/email-campaigns [get]
func (h *CampaignHandler) ListCampaigns(c fiber.Ctx) error {
	customerID, ok := h.customerID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Customer ID not found in context", "MISSING_CUSTOMER_ID", nil)
	}

	page, err := queryInt(c, "page", 1)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_PAGINATION", nil)
	}
	pageSize, err := queryInt(c, "page_size", 0)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_PAGINATION", nil)
	}

	req := dto.ListCampaignsRequest{
		OwnerID:  customerID,
		Channel:  h.channel.String(),
		Page:     page,
		PageSize: pageSize,
	}
	if msgs := h.validate(&req); msgs != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", msgs)
	}

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	result, err := h.campaignFlow.ListCampaigns(ctx, &req)
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to list campaigns", "LIST_CAMPAIGNS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaigns retrieved successfully", result)
}

// GetCampaign returns one campaign
// @Summary Get Campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignDTO}
// @Failure 403 {object} dto.APIResponse "Campaign belongs to another customer"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Router /api/sms-campaigns/{id} [get]
func (h *CampaignHandler) GetCampaign(c fiber.Ctx) error {
	customerID, campaignID, reject := h.campaignTarget(c)
	if reject != nil {
		return reject()
	}

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	result, err := h.campaignFlow.GetCampaign(ctx, customerID, campaignID, h.channel)
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to get campaign", "GET_CAMPAIGN_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign retrieved successfully", result)
}

// PauseCampaign stops dispatch. No message starts after the response is sent.
// @Summary Pause Campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignStatusResponse}
// @Failure 409 {object} dto.APIResponse "Campaign is not active"
// @Router /api/sms-campaigns/{id}/pause [put]
func (h *CampaignHandler) PauseCampaign(c fiber.Ctx) error {
	customerID, campaignID, reject := h.campaignTarget(c)
	if reject != nil {
		return reject()
	}

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	result, err := h.campaignFlow.PauseCampaign(ctx, customerID, campaignID, h.channel, h.metadata(c))
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to pause campaign", "PAUSE_CAMPAIGN_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// ResumeCampaign reactivates a paused campaign
// @Summary Resume Campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignStatusResponse}
// @Failure 402 {object} dto.APIResponse "No SMS credits left"
// @Failure 409 {object} dto.APIResponse "Campaign is not paused"
// @Router /api/sms-campaigns/{id}/resume [put]
func (h *CampaignHandler) ResumeCampaign(c fiber.Ctx) error {
	customerID, campaignID, reject := h.campaignTarget(c)
	if reject != nil {
		return reject()
	}

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	result, err := h.campaignFlow.ResumeCampaign(ctx, customerID, campaignID, h.channel, h.metadata(c))
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to resume campaign", "RESUME_CAMPAIGN_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// DeleteCampaign soft-deletes the campaign. Its dispatch log is kept.
// @Summary Delete Campaign
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignStatusResponse}
// @Router /api/sms-campaigns/{id} [delete]
func (h *CampaignHandler) DeleteCampaign(c fiber.Ctx) error {
	customerID, campaignID, reject := h.campaignTarget(c)
	if reject != nil {
		return reject()
	}

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	result, err := h.campaignFlow.DeleteCampaign(ctx, customerID, campaignID, h.channel, h.metadata(c))
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to delete campaign", "DELETE_CAMPAIGN_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// ListLogs pages through the campaign's dispatch log
// @Summary List Dispatch Logs
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Param status query string false "pending, sent, delivered or failed"
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Items per page" default(20)
// @Success 200 {object} dto.APIResponse{data=dto.ListDispatchLogsResponse}
// @Router /api/sms-campaigns/{id}/logs [get]
func (h *CampaignHandler) ListLogs(c fiber.Ctx) error {
	customerID, campaignID, reject := h.campaignTarget(c)
	if reject != nil {
		return reject()
	}

	page, err := queryInt(c, "page", 1)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_PAGINATION", nil)
	}
	pageSize, err := queryInt(c, "page_size", 0)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_PAGINATION", nil)
	}

	req := dto.ListDispatchLogsRequest{
		OwnerID:    customerID,
		CampaignID: campaignID,
		Channel:    h.channel.String(),
		Page:       page,
		PageSize:   pageSize,
	}
	if status := c.Query("status"); status != "" {
		req.Status = &status
	}
	if msgs := h.validate(&req); msgs != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", msgs)
	}

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	result, err := h.campaignFlow.ListLogs(ctx, &req)
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to list dispatch logs", "LIST_LOGS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Dispatch logs retrieved successfully", result)
}

// ExportLogs downloads the dispatch log as an XLSX workbook
// @Summary Export Dispatch Logs
// @Tags Campaigns
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path int true "Campaign ID"
// @Success 200 {file} file
// @Router /api/sms-campaigns/{id}/logs/export [get]
func (h *CampaignHandler) ExportLogs(c fiber.Ctx) error {
	customerID, campaignID, reject := h.campaignTarget(c)
	if reject != nil {
		return reject()
	}

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	filename, data, err := h.campaignFlow.ExportLogs(ctx, customerID, campaignID, h.channel)
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to export dispatch logs", "EXPORT_LOGS_FAILED")
	}

	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}

// GetAnalytics returns send counts and rates
// @Summary Campaign Analytics
// @Tags Campaigns
// @Produce json
// @Param id path int true "Campaign ID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignAnalyticsResponse}
// @Router /api/sms-campaigns/{id}/analytics [get]
func (h *CampaignHandler) GetAnalytics(c fiber.Ctx) error {
	customerID, campaignID, reject := h.campaignTarget(c)
	if reject != nil {
		return reject()
	}

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	result, err := h.campaignFlow.GetAnalytics(ctx, customerID, campaignID, h.channel)
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to get campaign analytics", "ANALYTICS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign analytics retrieved successfully", result)
}

// campaignTarget resolves the caller and the :id param. A non-nil reject writes the error response.
func (h *CampaignHandler) campaignTarget(c fiber.Ctx) (uint, uint, func() error) {
	customerID, ok := h.customerID(c)
	if !ok {
		return 0, 0, func() error {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Customer ID not found in context", "MISSING_CUSTOMER_ID", nil)
		}
	}
	campaignID, err := paramID(c, "id")
	if err != nil {
		return 0, 0, func() error {
			return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_CAMPAIGN_ID", nil)
		}
	}
	return customerID, campaignID, nil
}

func channelTitle(ch models.Channel) string {
	if ch == models.ChannelEmail {
		return "Email"
	}
	return "SMS"
}
