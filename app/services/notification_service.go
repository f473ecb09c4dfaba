package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/funnel-campaigns/models"
)

var (
	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrChannelDisabled  = errors.New("channel provider not configured")
	ErrMissingRecipient = errors.New("lead has no contact for channel")
)

// Delivery is one rendered campaign message for one lead
type Delivery struct {
	Channel    models.Channel
	Recipient  string
	Subject    string
	Body       string
	CustomerID uint
}

// NotificationService routes a delivery to the transport of its channel
type NotificationService interface {
	Deliver(ctx context.Context, d Delivery) (providerMessageID string, err error)
}

// NotificationServiceImpl implements NotificationService
type NotificationServiceImpl struct {
	sms   SMSService
	email EmailProvider
}

// NewNotificationService creates a new notification service. Either provider may be nil.
func NewNotificationService(sms SMSService, email EmailProvider) NotificationService {
	return &NotificationServiceImpl{sms: sms, email: email}
}

func (s *NotificationServiceImpl) Deliver(ctx context.Context, d Delivery) (string, error) {
	if strings.TrimSpace(d.Recipient) == "" {
		return "", ErrMissingRecipient
	}

	switch d.Channel {
	case models.ChannelSMS:
		if s.sms == nil {
			return "", fmt.Errorf("%w: sms", ErrChannelDisabled)
		}
		phone, err := NormalizePhone(d.Recipient)
		if err != nil {
			return "", err
		}
		customerID := int64(d.CustomerID)
		return s.sms.SendSMS(ctx, phone, d.Body, &customerID)
	case models.ChannelEmail:
		if s.email == nil {
			return "", fmt.Errorf("%w: email", ErrChannelDisabled)
		}
		email := strings.TrimSpace(d.Recipient)
		if !strings.Contains(email, "@") {
			return "", fmt.Errorf("%w: %s", ErrInvalidEmail, email)
		}
		return s.email.SendEmail(ctx, email, d.Subject, d.Body)
	default:
		return "", fmt.Errorf("unsupported channel %q", d.Channel)
	}
}

// NormalizePhone strips spaces, dashes, dots, parentheses and a leading plus. 10 to 15 digits must remain.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '+' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: %s", ErrInvalidPhone, raw)
		}
	}
	phone := b.String()
	if len(phone) < 10 || len(phone) > 15 {
		return "", fmt.Errorf("%w: %s", ErrInvalidPhone, raw)
	}
	return phone, nil
}
