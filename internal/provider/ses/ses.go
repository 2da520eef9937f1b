// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/mime"
)

const (
	// maxRetries bounds the retries after the first attempt.
	maxRetries = 3

	// baseRetryDelay doubles on every retry.
	baseRetryDelay = 1 * time.Second
)

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Sender overrides the message From as the SES source identity when set.
	Sender string
}

// SendEmailAPI is the SES v2 operation the provider needs.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESProvider sends built messages through SES v2 SendEmail.
type SESProvider struct {
	sender    string
	client    SendEmailAPI
	baseDelay time.Duration
}

// New creates a SESProvider. Static keys are used when both are set;
// otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender:    sender,
		client:    client,
		baseDelay: baseRetryDelay,
	}
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

// Send delivers msg. Failures SES attributes to the request itself, such as
// an unverified identity or a rejected message, are returned at once; other
// failures are retried with backoff.
func (s *SESProvider) Send(ctx context.Context, msg *email.Message) error {
	input, err := s.buildInput(msg)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(s.baseDelay, attempt)
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		out, err := s.client.SendEmail(ctx, input)
		if err == nil {
			slog.Info("message delivered",
				"provider", s.Name(),
				"message_id", msg.MessageID,
				"ses_message_id", aws.ToString(out.MessageId),
				"recipients", len(msg.Recipients()),
			)
			return nil
		}
		if !retryable(err) {
			return fmt.Errorf("SES rejected message: %w", err)
		}

		lastErr = err
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
	}

	return fmt.Errorf("SES API request failed after %d retries: %w", maxRetries, lastErr)
}

// buildInput uses the SES simple content form unless the message carries
// custom headers, which only survive as raw MIME.
func (s *SESProvider) buildInput(msg *email.Message) (*sesv2.SendEmailInput, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.source(msg)),
		Destination: &types.Destination{
			ToAddresses:  email.Emails(msg.To),
			CcAddresses:  email.Emails(msg.Cc),
			BccAddresses: email.Emails(msg.Bcc),
		},
	}
	if msg.BounceAddress != "" {
		input.FeedbackForwardingEmailAddress = aws.String(msg.BounceAddress)
	}

	if msg.Header.Len() > 0 {
		raw, err := mime.Render(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to build raw message: %w", err)
		}
		input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: raw}}
		return input, nil
	}

	input.ReplyToAddresses = email.Emails(msg.ReplyTo)
	input.Content = &types.EmailContent{Simple: simpleContent(msg)}
	return input, nil
}

func (s *SESProvider) source(msg *email.Message) string {
	if s.sender != "" {
		return s.sender
	}
	return msg.From.String()
}

// simpleContent maps subject and body parts onto the SES simple message.
func simpleContent(msg *email.Message) *types.Message {
	charset := msg.Charset
	if charset == "" {
		charset = email.DefaultCharset
	}
	content := func(data string) *types.Content {
		if data == "" {
			return nil
		}
		return &types.Content{Data: aws.String(data), Charset: aws.String(charset)}
	}

	return &types.Message{
		Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String(charset)},
		Body: &types.Body{
			Text: content(msg.Body.Text()),
			Html: content(msg.Body.HTML()),
		},
	}
}

// retryable reports whether err may succeed on another attempt. Client
// faults other than throttling will fail the same way again.
func retryable(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	if apiErr.ErrorFault() != smithy.FaultClient {
		return true
	}
	var throttled *types.TooManyRequestsException
	return errors.As(err, &throttled)
}

// backoffDelay returns base doubled attempt times.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

// sleepWithContext waits for d or until ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
