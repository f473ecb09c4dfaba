package handlers

import (
	"github.com/gofiber/fiber/v3"

	"github.com/amirphl/funnel-campaigns/app/dto"
	businessflow "github.com/amirphl/funnel-campaigns/business_flow"
)

// CreditHandlerInterface defines the contract for SMS credit handlers
type CreditHandlerInterface interface {
	GetBalance(c fiber.Ctx) error
	PurchaseCredits(c fiber.Ctx) error
}

// CreditHandler handles SMS credit requests
type CreditHandler struct {
	handlerBase
	creditFlow businessflow.CreditFlow
}

func NewCreditHandler(creditFlow businessflow.CreditFlow) *CreditHandler {
	return &CreditHandler{
		handlerBase: newHandlerBase(),
		creditFlow:  creditFlow,
	}
}

// GetBalance returns the caller's credit pool
// @Summary SMS Credit Balance
// @Tags Credits
// @Produce json
// @Success 200 {object} dto.APIResponse{data=dto.CreditBalanceResponse}
// @Router /api/sms-credits [get]
func (h *CreditHandler) GetBalance(c fiber.Ctx) error {
	customerID, ok := h.customerID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Customer ID not found in context", "MISSING_CUSTOMER_ID", nil)
	}

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	result, err := h.creditFlow.GetBalance(ctx, customerID)
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to get credit balance", "CREDIT_LOOKUP_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Credit balance retrieved successfully", result)
}

// PurchaseCredits adds credits and resumes campaigns that ran dry
// @Summary Purchase SMS Credits
// @Tags Credits
// @Accept json
// @Produce json
// @Param request body dto.PurchaseCreditsRequest true "Purchase data"
// @Success 201 {object} dto.APIResponse{data=dto.PurchaseCreditsResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Router /api/sms-credits/purchase [post]
func (h *CreditHandler) PurchaseCredits(c fiber.Ctx) error {
	var req dto.PurchaseCreditsRequest
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

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	result, err := h.creditFlow.PurchaseCredits(ctx, &req, h.metadata(c))
	if err != nil {
		return h.businessErrorResponse(c, err, "Credit purchase failed", "CREDIT_PURCHASE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, result.Message, result)
}
