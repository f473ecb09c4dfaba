package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/aniladanir/retry"
	"github.com/google/uuid"

	"github.com/amirphl/funnel-campaigns/config"
	"github.com/amirphl/funnel-campaigns/utils"
)

// ErrSMSRejected marks a message the provider refused; retrying will not help
var ErrSMSRejected = errors.New("sms rejected by provider")

// SMSService handles SMS sending operations
type SMSService interface {
	// SendSMS delivers one message and returns the provider's message id
	SendSMS(ctx context.Context, recipient, message string, customerID *int64) (string, error)
}

// SMSServiceImpl implements SMSService against the provider's JSON batch API
type SMSServiceImpl struct {
	config  *config.SMSConfig
	client  *http.Client
	retrier *retry.Retrier
}

// SMSRequest represents the request payload for SMS API
type SMSRequest struct {
	SrcNum         string `json:"srcNum"`
	Recipient      string `json:"recipient"`
	Body           string `json:"body"`
	CustomerID     *int64 `json:"customerId,omitempty"`
	RetryCount     int    `json:"retryCount"`
	Type           int    `json:"type"`           // Always 1
	ValidityPeriod int    `json:"validityPeriod"` // Validity in seconds
}

// SMSResponse represents individual message result from SMS API
type SMSResponse struct {
	MessageID  int64  `json:"messageId"`
	SrcNum     string `json:"srcNum"`
	Recipient  string `json:"recipient"`
	CustomerID *int64 `json:"customerId,omitempty"`
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
}

// NewSMSService creates a new SMS service instance
func NewSMSService(cfg *config.SMSConfig) (SMSService, error) {
	var opts []retry.Option
	if cfg.RetryCount > 0 {
		opts = append(opts, retry.WithMaxAttemps(cfg.RetryCount))
	}
	retrier, err := retry.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sms retrier: %w", err)
	}

	return &SMSServiceImpl{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		retrier: retrier,
	}, nil
}

// SendSMS posts the message, retrying network errors and 5xx answers. A 4xx is final.
func (s *SMSServiceImpl) SendSMS(ctx context.Context, recipient, message string, customerID *int64) (string, error) {
	body, err := json.Marshal([]SMSRequest{{
		SrcNum:         s.config.SourceNumber,
		Recipient:      recipient,
		Body:           message,
		CustomerID:     customerID,
		RetryCount:     s.config.RetryCount,
		Type:           1,
		ValidityPeriod: s.config.ValidityPeriod,
	}})
	if err != nil {
		return "", fmt.Errorf("failed to marshal SMS request: %w", err)
	}

	requestID := uuid.NewString()
	var (
		messageID string
		lastErr   error
	)
	attemptFn := func(attempt int) (terminate bool) {
		messageID, lastErr = s.post(ctx, requestID, body)
		if lastErr == nil || errors.Is(lastErr, ErrSMSRejected) {
			return true
		}
		log.Printf("sms: attempt %d for request %s failed: %v", attempt, requestID, lastErr)
		return false
	}

	if ok := <-s.retrier.Retry(ctx, attemptFn, true); !ok && lastErr == nil {
		lastErr = fmt.Errorf("sms delivery gave up for request %s", requestID)
	}
	if lastErr != nil {
		return "", lastErr
	}
	return messageID, nil
}

func (s *SMSServiceImpl) post(ctx context.Context, requestID string, body []byte) (string, error) {
	url := fmt.Sprintf("https://%s/api/v3.0.1/send", s.config.ProviderDomain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.config.APIKey)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send SMS request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("sms provider returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrSMSRejected, resp.StatusCode, bytes.TrimSpace(raw))
	}

	var results []SMSResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return "", fmt.Errorf("failed to decode SMS response: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrSMSRejected)
	}
	r := results[0]
	if r.StatusCode != http.StatusOK || r.Status != "ACCEPTED" {
		return "", fmt.Errorf("%w: %s (%d)", ErrSMSRejected, r.Status, r.StatusCode)
	}
	return strconv.FormatInt(r.MessageID, 10), nil
}

// MockSMSService implements SMSService for testing and local runs
type MockSMSService struct {
	mu           sync.Mutex
	SentMessages []MockSMSMessage
	failures     map[string]error
	nextID       int64
}

// MockSMSMessage represents a mock SMS message
type MockSMSMessage struct {
	Recipient  string
	Message    string
	CustomerID *int64
	SentAt     time.Time
}

// NewMockSMSService creates a new mock SMS service
func NewMockSMSService() *MockSMSService {
	return &MockSMSService{
		SentMessages: make([]MockSMSMessage, 0),
		failures:     make(map[string]error),
	}
}

// FailFor makes every send to recipient return err
func (m *MockSMSService) FailFor(recipient string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[recipient] = err
}

func (m *MockSMSService) SendSMS(ctx context.Context, recipient, message string, customerID *int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failures[recipient]; ok {
		return "", err
	}

	m.nextID++
	m.SentMessages = append(m.SentMessages, MockSMSMessage{
		Recipient:  recipient,
		Message:    message,
		CustomerID: customerID,
		SentAt:     utils.UTCNow(),
	})
	return fmt.Sprintf("mock-%d", m.nextID), nil
}

// GetSentMessages returns a copy of the sent mock messages
func (m *MockSMSService) GetSentMessages() []MockSMSMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockSMSMessage, len(m.SentMessages))
	copy(out, m.SentMessages)
	return out
}

// ClearSentMessages clears the sent messages list
func (m *MockSMSService) ClearSentMessages() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentMessages = make([]MockSMSMessage, 0)
}
