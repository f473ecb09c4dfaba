package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/amirphl/funnel-campaigns/config"
)

// EmailProvider sends one email and returns the provider message id
type EmailProvider interface {
	SendEmail(ctx context.Context, email, subject, body string) (string, error)
}

// sesAPI is the part of the SES v2 client the provider calls
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESEmailProvider sends campaign email through AWS SES v2
type SESEmailProvider struct {
	client    sesAPI
	from      string
	configSet string
	timeout   time.Duration
}

// NewSESEmailProvider builds the SES client. Static credentials are used when both keys are set,
// otherwise the default AWS credential chain applies.
func NewSESEmailProvider(ctx context.Context, cfg config.EmailConfig) (*SESEmailProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return newSESEmailProvider(sesv2.NewFromConfig(awsCfg), cfg), nil
}

func newSESEmailProvider(client sesAPI, cfg config.EmailConfig) *SESEmailProvider {
	from := cfg.FromEmail
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail)
	}
	return &SESEmailProvider{client: client, from: from, configSet: cfg.ConfigSet, timeout: cfg.Timeout}
}

func (p *SESEmailProvider) SendEmail(ctx context.Context, email, subject, body string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.from),
		Destination:      &types.Destination{ToAddresses: []string{email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if p.configSet != "" {
		input.ConfigurationSetName = aws.String(p.configSet)
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// MockEmailProvider records emails instead of sending them
type MockEmailProvider struct {
	mu     sync.Mutex
	Sent   []MockEmail
	nextID int
}

type MockEmail struct {
	Email   string
	Subject string
	Body    string
}

func NewMockEmailProvider() *MockEmailProvider {
	return &MockEmailProvider{}
}

func (p *MockEmailProvider) SendEmail(ctx context.Context, email, subject, body string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.Sent = append(p.Sent, MockEmail{Email: email, Subject: subject, Body: body})
	log.Printf("Email sent to %s [%s]", email, subject)
	return fmt.Sprintf("mock-email-%d", p.nextID), nil
}
