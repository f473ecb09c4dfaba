package handlers

import (
	"github.com/gofiber/fiber/v3"

	"github.com/amirphl/funnel-campaigns/app/dto"
	businessflow "github.com/amirphl/funnel-campaigns/business_flow"
)

// WebhookHandler receives provider callbacks. It sits behind middleware.WebhookSecret, not JWT.
type WebhookHandler struct {
	handlerBase
	campaignFlow businessflow.CampaignFlow
}

func NewWebhookHandler(campaignFlow businessflow.CampaignFlow) *WebhookHandler {
	return &WebhookHandler{
		handlerBase:  newHandlerBase(),
		campaignFlow: campaignFlow,
	}
}

// SMSDeliveryReport records a delivery receipt for a sent message
// @Summary SMS Delivery Report
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Webhook-Secret header string true "Shared secret"
// @Param request body dto.DeliveryReportRequest true "Delivery report"
// @Success 200 {object} dto.APIResponse
// @Failure 404 {object} dto.APIResponse "Unknown message id"
// @Router /api/webhooks/sms-delivery [post]
func (h *WebhookHandler) SMSDeliveryReport(c fiber.Ctx) error {
	var req dto.DeliveryReportRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if msgs := h.validate(&req); msgs != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", msgs)
	}

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	if err := h.campaignFlow.RecordDeliveryReport(ctx, &req); err != nil {
		return h.businessErrorResponse(c, err, "Failed to record delivery report", "DELIVERY_REPORT_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Delivery report recorded", nil)
}
