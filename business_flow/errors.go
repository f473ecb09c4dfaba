// Package businessflow contains the campaign, credit and audience use cases
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Quiz and lead errors
	ErrQuizNotFound = errors.New("quiz not found")
	ErrQuizRequired = errors.New("quiz is required for this campaign type")

	// Campaign validation errors
	ErrInvalidChannel          = errors.New("invalid channel")
	ErrInvalidCampaignType     = errors.New("invalid campaign type")
	ErrCampaignNameRequired    = errors.New("campaign name is required")
	ErrCampaignMessageRequired = errors.New("campaign message is required")
	ErrSubjectRequired         = errors.New("email subject is required")
	ErrInvalidTargetAudience   = errors.New("invalid target audience")
	ErrInvalidDateFilter       = errors.New("date filter must be RFC3339")
	ErrResponseFilterRequired  = errors.New("response filter is required for quantum campaigns")
	ErrInvalidScheduleType     = errors.New("invalid schedule type")
	ErrScheduleTimeRequired    = errors.New("scheduled_at is required for scheduled campaigns")
	ErrScheduleInPast          = errors.New("scheduled_at must be in the future")
	ErrInvalidDelay            = errors.New("delay value and unit are required for delayed campaigns")
	ErrTemplateTooLong         = errors.New("message exceeds the SMS length limit")
	ErrEmptySegment            = errors.New("segment matches no leads")

	// Campaign lifecycle errors
	ErrCampaignNotFound        = errors.New("campaign not found")
	ErrCampaignAccessDenied    = errors.New("campaign access denied")
	ErrInvalidStatusTransition = errors.New("invalid campaign status transition")
	ErrDispatchLogNotFound     = errors.New("dispatch log not found")
	ErrInvalidDispatchStatus   = errors.New("invalid dispatch status")

	// Credit errors
	ErrInsufficientCredits = errors.New("insufficient SMS credits")
	ErrInvalidCreditAmount = errors.New("credit amount must be positive")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size must be between 1 and 100")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// validationErrors are the sentinels a client can fix by changing the request
var validationErrors = []error{
	ErrQuizRequired,
	ErrInvalidChannel,
	ErrInvalidCampaignType,
	ErrCampaignNameRequired,
	ErrCampaignMessageRequired,
	ErrSubjectRequired,
	ErrInvalidTargetAudience,
	ErrInvalidDateFilter,
	ErrResponseFilterRequired,
	ErrInvalidScheduleType,
	ErrScheduleTimeRequired,
	ErrScheduleInPast,
	ErrInvalidDelay,
	ErrTemplateTooLong,
	ErrEmptySegment,
	ErrInvalidCreditAmount,
	ErrInvalidDispatchStatus,
	ErrInvalidPage,
	ErrInvalidPageSize,
}

// IsValidationError reports whether err wraps one of the request validation sentinels
func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func IsQuizNotFound(err error) bool {
	return errors.Is(err, ErrQuizNotFound)
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsCampaignAccessDenied(err error) bool {
	return errors.Is(err, ErrCampaignAccessDenied)
}

func IsInvalidStatusTransition(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition)
}

func IsInsufficientCredits(err error) bool {
	return errors.Is(err, ErrInsufficientCredits)
}

func IsEmptySegment(err error) bool {
	return errors.Is(err, ErrEmptySegment)
}

func IsDispatchLogNotFound(err error) bool {
	return errors.Is(err, ErrDispatchLogNotFound)
}

// ErrorCode extracts the business code from err, or "" when err is not a BusinessError
func ErrorCode(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
