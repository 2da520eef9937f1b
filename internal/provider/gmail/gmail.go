// Package gmail implements a Provider that sends emails through the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/mime"
)

// GmailProviderConfig holds the configuration for creating a GmailProvider.
// Either CredentialsJSON (a service account with domain-wide delegation) or
// the ClientID/ClientSecret/RefreshToken triple must be set.
type GmailProviderConfig struct {
	CredentialsJSON string

	ClientID     string
	ClientSecret string
	RefreshToken string

	// Sender is the mailbox messages are sent as.
	Sender string
}

// GmailProvider sends raw MIME messages via users.messages.send.
type GmailProvider struct {
	service *gmail.Service
}

// New creates a GmailProvider, authenticating with the configured credentials.
func New(ctx context.Context, cfg GmailProviderConfig, opts ...option.ClientOption) (*GmailProvider, error) {
	if cfg.Sender == "" {
		return nil, errors.New("gmail: sender address is required")
	}

	switch {
	case cfg.CredentialsJSON != "":
		jwtConfig, err := google.JWTConfigFromJSON([]byte(cfg.CredentialsJSON), gmail.GmailSendScope)
		if err != nil {
			return nil, fmt.Errorf("gmail: failed to parse credentials: %w", err)
		}
		// Impersonate the sender mailbox.
		jwtConfig.Subject = cfg.Sender
		opts = append(opts, option.WithHTTPClient(jwtConfig.Client(ctx)))
	case cfg.RefreshToken != "":
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmail.GmailSendScope},
		}
		token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
		opts = append(opts, option.WithHTTPClient(oauthCfg.Client(ctx, token)))
	default:
		return nil, errors.New("gmail: credentials JSON or refresh token is required")
	}

	return NewWithOptions(ctx, opts...)
}

// NewWithOptions creates a GmailProvider from raw client options, used for
// testing against a local endpoint.
func NewWithOptions(ctx context.Context, opts ...option.ClientOption) (*GmailProvider, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail: failed to create service: %w", err)
	}
	return &GmailProvider{service: svc}, nil
}

// Name returns the provider name.
func (g *GmailProvider) Name() string {
	return "gmail"
}

// Send renders msg and submits it as the authenticated user. Gmail takes the
// recipients from the raw headers and strips Bcc before delivery, so the Bcc
// list is added to the submitted copy only.
func (g *GmailProvider) Send(ctx context.Context, msg *email.Message) error {
	raw, err := mime.Render(msg)
	if err != nil {
		return fmt.Errorf("gmail: render message: %w", err)
	}
	raw = withBcc(raw, msg.Bcc)

	gmailMsg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}

	sent, err := g.service.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("gmail: failed to send email: %w", err)
	}

	slog.Info("message delivered",
		"provider", g.Name(),
		"message_id", msg.MessageID,
		"gmail_id", sent.Id,
		"recipients", len(msg.Recipients()),
	)
	return nil
}

// withBcc prepends a Bcc header to a rendered message.
func withBcc(raw []byte, bcc []email.Address) []byte {
	if len(bcc) == 0 {
		return raw
	}
	list := ""
	for i, a := range bcc {
		if i > 0 {
			list += ", "
		}
		list += a.String()
	}
	return append([]byte("Bcc: "+list+"\r\n"), raw...)
}
