// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/mail-composer/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider takes a built message and hands it to the target service
// (an SMTP server, AWS SES, Microsoft Graph, and so on). Delivery errors are
// returned wrapped and are never retried by the caller.
type Provider interface {
	// Send delivers a built message through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}
