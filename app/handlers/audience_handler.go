package handlers

import (
	"github.com/gofiber/fiber/v3"

	"github.com/amirphl/funnel-campaigns/app/dto"
	businessflow "github.com/amirphl/funnel-campaigns/business_flow"
)

// AudienceHandlerInterface defines the contract for quiz and audience handlers
type AudienceHandlerInterface interface {
	ListQuizzes(c fiber.Ctx) error
	QuizVariables(c fiber.Ctx) error
	QuizVariablesUltra(c fiber.Ctx) error
	QuizPhones(c fiber.Ctx) error
	PreviewAudience(c fiber.Ctx) error
}

// AudienceHandler serves quiz catalogs and segment previews
type AudienceHandler struct {
	handlerBase
	audienceFlow businessflow.AudienceFlow
}

func NewAudienceHandler(audienceFlow businessflow.AudienceFlow) *AudienceHandler {
	return &AudienceHandler{
		handlerBase:  newHandlerBase(),
		audienceFlow: audienceFlow,
	}
}

// ListQuizzes lists the caller's quizzes
// @Summary List Quizzes
// @Tags Audience
// @Produce json
// @Success 200 {object} dto.APIResponse{data=[]dto.QuizDTO}
// @Router /api/quizzes [get]
func (h *AudienceHandler) ListQuizzes(c fiber.Ctx) error {
	customerID, ok := h.customerID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Customer ID not found in context", "MISSING_CUSTOMER_ID", nil)
	}

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	result, err := h.audienceFlow.ListQuizzes(ctx, customerID)
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to list quizzes", "LIST_QUIZZES_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Quizzes retrieved successfully", result)
}

// QuizVariables lists the placeholders a template over this quiz may use
// @Summary Quiz Variables
// @Tags Audience
// @Produce json
// @Param id path int true "Quiz ID"
// @Success 200 {object} dto.APIResponse{data=dto.QuizVariablesResponse}
// @Router /api/quiz/{id}/variables [get]
func (h *AudienceHandler) QuizVariables(c fiber.Ctx) error {
	customerID, ok := h.customerID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Customer ID not found in context", "MISSING_CUSTOMER_ID", nil)
	}
	quizID, err := paramID(c, "id")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_QUIZ_ID", nil)
	}

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	result, err := h.audienceFlow.QuizVariables(ctx, customerID, quizID)
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to get quiz variables", "QUIZ_VARIABLES_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Quiz variables retrieved successfully", result)
}

// QuizVariablesUltra lists the distinct recorded answers per field
// @Summary Quiz Variable Values
// @Tags Audience
// @Produce json
// @Param id path int true "Quiz ID"
// @Success 200 {object} dto.APIResponse{data=dto.QuizVariableValuesResponse}
// @Router /api/quiz/{id}/variables-ultra [get]
func (h *AudienceHandler) QuizVariablesUltra(c fiber.Ctx) error {
	customerID, ok := h.customerID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Customer ID not found in context", "MISSING_CUSTOMER_ID", nil)
	}
	quizID, err := paramID(c, "id")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_QUIZ_ID", nil)
	}

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	result, err := h.audienceFlow.QuizVariablesUltra(ctx, customerID, quizID)
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to get quiz variable values", "QUIZ_VARIABLES_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Quiz variable values retrieved successfully", result)
}

// QuizPhones lists the leads of a quiz that left a phone number
// @Summary Quiz Phones
// @Tags Audience
// @Produce json
// @Param quizId path int true "Quiz ID"
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Items per page" default(20)
// @Success 200 {object} dto.APIResponse{data=dto.QuizPhonesResponse}
// @Router /api/quiz-phones/{quizId} [get]
func (h *AudienceHandler) QuizPhones(c fiber.Ctx) error {
	customerID, ok := h.customerID(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Customer ID not found in context", "MISSING_CUSTOMER_ID", nil)
	}
	quizID, err := paramID(c, "quizId")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_QUIZ_ID", nil)
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_PAGINATION", nil)
	}
	pageSize, err := queryInt(c, "page_size", 0)
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "INVALID_PAGINATION", nil)
	}

	ctx, cancel := h.createRequestContext(c)
	defer cancel()

	result, err := h.audienceFlow.QuizPhones(ctx, customerID, quizID, page, pageSize)
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to list quiz phones", "QUIZ_PHONES_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Quiz phones retrieved successfully", result)
}

// PreviewAudience counts a segment and renders a few sample messages
// @Summary Preview Audience
// @Tags Audience
// @Accept json
// @Produce json
// @Param request body dto.PreviewAudienceRequest true "Segment and template"
// @Success 200 {object} dto.APIResponse{data=dto.PreviewAudienceResponse}
// @Router /api/email-campaigns/preview-audience [post]
func (h *AudienceHandler) PreviewAudience(c fiber.Ctx) error {
	var req dto.PreviewAudienceRequest
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

	result, err := h.audienceFlow.PreviewAudience(ctx, &req)
	if err != nil {
		return h.businessErrorResponse(c, err, "Failed to preview audience", "PREVIEW_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Audience preview generated successfully", result)
}
