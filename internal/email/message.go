// Package email composes email messages: it collects addresses, headers and
// content, validates them as they arrive, and builds immutable Message values
// ready for a transport provider.
package email

import (
	"slices"
	"time"

	"github.com/shineum/mail-composer/internal/session"
)

// DefaultCharset is the body charset used when none is set.
const DefaultCharset = "UTF-8"

// Message is the fully resolved output of Email.Build. Every field is a copy
// of the composer state at build time; later changes to the composer do not
// affect an already built Message.
type Message struct {
	From    Address
	To      []Address
	Cc      []Address
	Bcc     []Address
	ReplyTo []Address

	Subject string
	Header  Header
	Body    Body
	Charset string

	SentDate  time.Time
	MessageID string

	// BounceAddress is the envelope sender. Empty means use From.
	BounceAddress string

	// Session is the transport session the message should be delivered with.
	Session *session.Session
}

// Recipients returns the envelope recipients: To, then Cc, then Bcc.
func (m *Message) Recipients() []Address {
	all := make([]Address, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	all = append(all, m.To...)
	all = append(all, m.Cc...)
	return append(all, m.Bcc...)
}

// EnvelopeFrom returns the MAIL FROM address.
func (m *Message) EnvelopeFrom() string {
	if m.BounceAddress != "" {
		return m.BounceAddress
	}
	return m.From.Email
}

// Emails returns the bare addresses of list.
func Emails(list []Address) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Email)
	}
	return out
}

func cloneAddresses(list []Address) []Address {
	if len(list) == 0 {
		return nil
	}
	return slices.Clone(list)
}
