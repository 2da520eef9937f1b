package email

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/shineum/mail-composer/internal/session"
)

// Addressable collects the participants of a message.
type Addressable interface {
	SetFrom(email, name string) error
	AddTo(email, name string) (Address, error)
	AddCc(email, name string) (Address, error)
	AddBcc(email, name string) (Address, error)
	AddReplyTo(email, name string) (Address, error)
}

// Headerable collects headers and content.
type Headerable interface {
	AddHeader(name, value string) error
	SetSubject(subject string) error
	SetBody(text string) error
	SetSentDate(t time.Time)
	SetMessageID(id string) error
}

// Builder produces transport-ready messages.
type Builder interface {
	Build() (*Message, error)
}

// Composer is the full capability set of Email.
type Composer interface {
	Addressable
	Headerable
	Builder
}

var _ Composer = (*Email)(nil)

// Email accumulates the state of one outgoing message. It is a short-lived,
// per-message builder and is not safe for concurrent use.
type Email struct {
	from    Address
	to      []Address
	cc      []Address
	bcc     []Address
	replyTo []Address
	bounce  string

	header    Header
	subject   string
	body      Body
	format    BodyFormat
	charset   string
	sentDate  time.Time
	messageID string

	config   session.Config
	injected *session.Session

	now func() time.Time
}

// Option configures an Email at construction.
type Option func(*Email)

// WithSessionConfig sets the transport settings a session is synthesized from.
func WithSessionConfig(cfg session.Config) Option {
	return func(e *Email) { e.config = cfg }
}

// WithBodyFormat sets the strategy SetBody uses. The default is PlainText.
func WithBodyFormat(f BodyFormat) Option {
	return func(e *Email) { e.format = f }
}

// WithClock overrides the time source used to stamp unset sent dates.
func WithClock(now func() time.Time) Option {
	return func(e *Email) { e.now = now }
}

// New creates an empty Email.
func New(opts ...Option) *Email {
	e := &Email{
		format:  PlainText,
		charset: DefaultCharset,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetFrom validates and sets the author, replacing any previous one.
func (e *Email) SetFrom(email, name string) error {
	addr, err := ParseAddress(email, name)
	if err != nil {
		return &InvalidAddressError{Field: "From", Address: email, Err: err}
	}
	e.from = addr
	return nil
}

// FromAddress returns the author and whether one has been set.
func (e *Email) FromAddress() (Address, bool) {
	return e.from, !e.from.IsZero()
}

// AddTo validates email and appends it to the To list.
func (e *Email) AddTo(email, name string) (Address, error) {
	return appendAddress(&e.to, "To", email, name)
}

// AddCc validates email and appends it to the Cc list.
func (e *Email) AddCc(email, name string) (Address, error) {
	return appendAddress(&e.cc, "Cc", email, name)
}

// AddBcc validates email and appends it to the Bcc list.
func (e *Email) AddBcc(email, name string) (Address, error) {
	return appendAddress(&e.bcc, "Bcc", email, name)
}

// AddReplyTo validates email and appends it to the Reply-To list.
func (e *Email) AddReplyTo(email, name string) (Address, error) {
	return appendAddress(&e.replyTo, "Reply-To", email, name)
}

func appendAddress(list *[]Address, field, email, name string) (Address, error) {
	addr, err := ParseAddress(email, name)
	if err != nil {
		return Address{}, &InvalidAddressError{Field: field, Address: email, Err: err}
	}
	*list = append(*list, addr)
	return addr, nil
}

func (e *Email) ToAddresses() []Address      { return cloneAddresses(e.to) }
func (e *Email) CcAddresses() []Address      { return cloneAddresses(e.cc) }
func (e *Email) BccAddresses() []Address     { return cloneAddresses(e.bcc) }
func (e *Email) ReplyToAddresses() []Address { return cloneAddresses(e.replyTo) }

// SetBounceAddress sets the envelope sender used instead of From.
func (e *Email) SetBounceAddress(email string) error {
	addr, err := ParseAddress(email, "")
	if err != nil {
		return &InvalidAddressError{Field: "Bounce", Address: email, Err: err}
	}
	e.bounce = addr.Email
	return nil
}

// BounceAddress returns the envelope sender override, or "".
func (e *Email) BounceAddress() string {
	return e.bounce
}

// AddHeader appends a header occurrence. Existing values for the same name
// are kept. Fields the message renders from its own data, such as Subject or
// Bcc, are rejected; use the matching setter instead.
func (e *Email) AddHeader(name, value string) error {
	if err := validateHeader(name, value); err != nil {
		return err
	}
	if IsReservedHeader(name) {
		return &InvalidHeaderError{Name: name, Reason: "field is set from message data"}
	}
	e.header.Add(name, value)
	return nil
}

// Header returns a copy of the custom headers.
func (e *Email) Header() Header {
	return e.header.Clone()
}

// SetSubject replaces the subject.
func (e *Email) SetSubject(subject string) error {
	if err := validateText("Subject", subject); err != nil {
		return err
	}
	e.subject = subject
	return nil
}

// Subject returns the subject.
func (e *Email) Subject() string {
	return e.subject
}

// SetBody replaces the body with text rendered through the body format.
func (e *Email) SetBody(text string) error {
	body, err := e.format.Format(text)
	if err != nil {
		return fmt.Errorf("format body: %w", err)
	}
	e.body = body
	return nil
}

// SetBodyFormat swaps the strategy used by subsequent SetBody calls.
func (e *Email) SetBodyFormat(f BodyFormat) {
	if f == nil {
		f = PlainText
	}
	e.format = f
}

// Body returns a copy of the current body.
func (e *Email) Body() Body {
	return e.body.clone()
}

// SetCharset sets the charset the subject, custom header values and body are
// encoded in when the message is rendered. Only charsets with a known
// encoder are accepted.
func (e *Email) SetCharset(charset string) error {
	if charset == "" {
		charset = DefaultCharset
	}
	if err := validateText("Content-Type", charset); err != nil {
		return err
	}
	if !strings.EqualFold(charset, DefaultCharset) {
		enc, err := ianaindex.MIME.Encoding(charset)
		if err != nil || enc == nil {
			return &InvalidHeaderError{Name: "Content-Type", Reason: fmt.Sprintf("unsupported charset %q", charset)}
		}
	}
	e.charset = charset
	return nil
}

// Charset returns the body charset.
func (e *Email) Charset() string {
	return e.charset
}

// SetSentDate sets the Date of the message.
func (e *Email) SetSentDate(t time.Time) {
	e.sentDate = t
}

// SentDate returns the sent date; the zero time means unset. Build stamps an
// unset date and keeps it for later builds.
func (e *Email) SentDate() time.Time {
	return e.sentDate
}

// SetMessageID sets an explicit Message-ID, e.g. "<id@example.com>".
func (e *Email) SetMessageID(id string) error {
	if err := validateHeader("Message-ID", id); err != nil {
		return err
	}
	e.messageID = id
	return nil
}

// MessageID returns the Message-ID, or "" before the first build.
func (e *Email) MessageID() string {
	return e.messageID
}

// SetHostName sets the transport host.
func (e *Email) SetHostName(host string) {
	e.config.Host = host
}

// HostName returns the injected session's host if one is set, otherwise the
// configured host, or "" when neither exists.
func (e *Email) HostName() string {
	if e.injected != nil {
		return e.injected.Host
	}
	return e.config.Host
}

// SetSMTPPort sets the plain SMTP port.
func (e *Email) SetSMTPPort(port int) {
	e.config.Port = port
}

// SMTPPort returns the port a delivery would use.
func (e *Email) SMTPPort() int {
	if e.injected != nil {
		return e.injected.Port
	}
	return e.config.EffectivePort()
}

// SetSSLOnConnect selects implicit TLS.
func (e *Email) SetSSLOnConnect(on bool) {
	e.config.SSLOnConnect = on
}

// SetStartTLSEnabled upgrades plain connections when the server supports it.
func (e *Email) SetStartTLSEnabled(on bool) {
	e.config.StartTLS = on
}

// SetStartTLSRequired refuses to deliver over a connection that cannot be upgraded.
func (e *Email) SetStartTLSRequired(on bool) {
	e.config.StartTLSRequired = on
}

// SetAuthentication sets SMTP AUTH credentials.
func (e *Email) SetAuthentication(username, password string) {
	e.config.Username = username
	e.config.Password = password
}

// SetSocketConnectionTimeout sets the connect timeout. Values that are not
// positive restore session.DefaultConnectTimeout.
func (e *Email) SetSocketConnectionTimeout(d time.Duration) {
	e.config.ConnectTimeout = d
}

// SocketConnectionTimeout returns the effective connect timeout.
func (e *Email) SocketConnectionTimeout() time.Duration {
	return e.config.EffectiveConnectTimeout()
}

// SetSocketTimeout sets the read/write timeout. Values that are not positive
// restore session.DefaultTimeout.
func (e *Email) SetSocketTimeout(d time.Duration) {
	e.config.Timeout = d
}

// SocketTimeout returns the effective read/write timeout.
func (e *Email) SocketTimeout() time.Duration {
	return e.config.EffectiveTimeout()
}

// SetMailSession injects a pre-built session. While set it takes precedence
// over the host, port and timeout settings. Passing nil removes it.
func (e *Email) SetMailSession(s *session.Session) {
	e.injected = s
}

// MailSession returns the injected session, or one synthesized from the
// configured settings. It fails with session.ErrNoHost when neither exists.
func (e *Email) MailSession() (*session.Session, error) {
	if e.injected != nil {
		return e.injected, nil
	}
	return e.config.Session()
}

// Build validates the accumulated state and returns a new Message. On failure
// no state is changed, so the caller may fix the missing fields and retry.
// The first successful build stamps an unset sent date and Message-ID and
// keeps them, so rebuilding without changes yields an equivalent Message.
func (e *Email) Build() (*Message, error) {
	var missing []string
	if e.from.IsZero() {
		missing = append(missing, "From address")
	}
	if len(e.to) == 0 && len(e.cc) == 0 && len(e.bcc) == 0 {
		missing = append(missing, "recipient")
	}
	sess, err := e.MailSession()
	if err != nil {
		missing = append(missing, "host name or mail session")
	}
	if len(missing) > 0 {
		return nil, &IncompleteMessageError{Missing: missing}
	}

	if e.sentDate.IsZero() {
		e.sentDate = e.now()
	}
	if e.messageID == "" {
		e.messageID = fmt.Sprintf("<%s@%s>", uuid.NewString(), e.from.Domain())
	}

	resolved := *sess

	return &Message{
		From:          e.from,
		To:            cloneAddresses(e.to),
		Cc:            cloneAddresses(e.cc),
		Bcc:           cloneAddresses(e.bcc),
		ReplyTo:       cloneAddresses(e.replyTo),
		Subject:       e.subject,
		Header:        e.header.Clone(),
		Body:          e.body.clone(),
		Charset:       e.charset,
		SentDate:      e.sentDate,
		MessageID:     e.messageID,
		BounceAddress: e.bounce,
		Session:       &resolved,
	}, nil
}
