// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shineum/mail-composer/internal/email"
)

// Provider prints email messages to stdout in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the email message in a readable format. Write failures are
// returned to the caller.
func (p *Provider) Send(_ context.Context, msg *email.Message) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", joinAddresses(msg.To))

	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", joinAddresses(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", joinAddresses(msg.Bcc))
	}
	if len(msg.ReplyTo) > 0 {
		fmt.Fprintf(&b, "Reply-To: %s\n", joinAddresses(msg.ReplyTo))
	}

	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if !msg.SentDate.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", msg.SentDate.Format(time.RFC1123Z))
	}
	if msg.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\n", msg.MessageID)
	}
	for _, f := range msg.Header.Fields() {
		fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
	}

	b.WriteString("Body:\n")

	body := msg.Body.Text()
	if body == "" {
		body = msg.Body.HTML()
	}
	b.WriteString(body + "\n")

	b.WriteString("========================================\n")

	if _, err := fmt.Fprint(p.writer, b.String()); err != nil {
		return fmt.Errorf("stdout: write message: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

func joinAddresses(list []email.Address) string {
	formatted := make([]string, 0, len(list))
	for _, a := range list {
		formatted = append(formatted, a.String())
	}
	return strings.Join(formatted, ", ")
}
