// Package resend implements a Provider that sends emails via the Resend API.
package resend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/resend/resend-go/v2"

	"github.com/shineum/mail-composer/internal/email"
)

// ResendProviderConfig holds the configuration for creating a ResendProvider.
type ResendProviderConfig struct {
	APIKey string
	// Sender overrides the message From when set. Resend only accepts
	// senders on verified domains.
	Sender string
}

// EmailsAPI is the subset of the Resend emails service used for sending.
type EmailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendProvider sends emails via the Resend API.
type ResendProvider struct {
	sender string
	emails EmailsAPI
}

// New creates a ResendProvider with the given configuration.
func New(cfg ResendProviderConfig) *ResendProvider {
	return NewWithClient(cfg.Sender, resend.NewClient(cfg.APIKey).Emails)
}

// NewWithClient creates a ResendProvider with a custom emails service, used for testing.
func NewWithClient(sender string, emails EmailsAPI) *ResendProvider {
	return &ResendProvider{sender: sender, emails: emails}
}

// Name returns the provider name.
func (r *ResendProvider) Name() string {
	return "resend"
}

// Send delivers a built message via the Resend API.
func (r *ResendProvider) Send(ctx context.Context, msg *email.Message) error {
	params := buildRequest(r.sender, msg)

	sent, err := r.emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("resend send failed: %w", err)
	}

	slog.Info("message delivered",
		"provider", r.Name(),
		"message_id", msg.MessageID,
		"resend_id", sent.Id,
		"recipients", len(msg.Recipients()),
	)
	return nil
}

// buildRequest maps a message onto a Resend request. Resend takes a single
// reply-to address and one value per header, so extra Reply-To entries are
// dropped and repeated header values are joined with ", ".
func buildRequest(sender string, msg *email.Message) *resend.SendEmailRequest {
	from := sender
	if from == "" {
		from = msg.From.String()
	}

	params := &resend.SendEmailRequest{
		From:    from,
		To:      formatAll(msg.To),
		Cc:      formatAll(msg.Cc),
		Bcc:     formatAll(msg.Bcc),
		Subject: msg.Subject,
		Text:    msg.Body.Text(),
		Html:    msg.Body.HTML(),
	}

	if len(msg.ReplyTo) > 0 {
		params.ReplyTo = msg.ReplyTo[0].String()
		if len(msg.ReplyTo) > 1 {
			slog.Warn("resend accepts one reply-to address, dropping the rest",
				"dropped", len(msg.ReplyTo)-1,
			)
		}
	}

	headers := make(map[string]string)
	for _, name := range msg.Header.Names() {
		headers[name] = strings.Join(msg.Header.Values(name), ", ")
	}
	if msg.MessageID != "" {
		headers["Message-ID"] = msg.MessageID
	}
	if len(headers) > 0 {
		params.Headers = headers
	}

	return params
}

func formatAll(list []email.Address) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.String())
	}
	return out
}
