package email

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-composer/internal/session"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func newTestEmail(t *testing.T) *Email {
	t.Helper()
	return New(WithClock(func() time.Time { return fixedNow }))
}

// completeEmail returns an Email that builds successfully.
func completeEmail(t *testing.T) *Email {
	t.Helper()
	e := newTestEmail(t)
	e.SetHostName("localhost")
	require.NoError(t, e.SetFrom("from@example.com", ""))
	_, err := e.AddTo("to@example.com", "")
	require.NoError(t, err)
	require.NoError(t, e.SetSubject("Test Subject"))
	require.NoError(t, e.SetBody("Test Message"))
	return e
}

func TestAddRecipients(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		add  func(*Email, string, string) (Address, error)
		get  func(*Email) []Address
	}{
		{"To", (*Email).AddTo, (*Email).ToAddresses},
		{"Cc", (*Email).AddCc, (*Email).CcAddresses},
		{"Bcc", (*Email).AddBcc, (*Email).BccAddresses},
		{"ReplyTo", (*Email).AddReplyTo, (*Email).ReplyToAddresses},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newTestEmail(t)
			assert.Empty(t, tt.get(e))

			for i, literal := range []string{"a@example.com", "b@example.com", "a@example.com"} {
				addr, err := tt.add(e, literal, "")
				require.NoError(t, err)
				assert.Equal(t, literal, addr.Email)

				got := tt.get(e)
				require.Len(t, got, i+1)
				assert.Equal(t, literal, got[len(got)-1].Email)
			}
		})
	}
}

func TestAddReplyTo_WithName(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	_, err := e.AddReplyTo("replyto@example.com", "ReplyToName")
	require.NoError(t, err)

	got := e.ReplyToAddresses()
	require.Len(t, got, 1)
	assert.Equal(t, Address{Email: "replyto@example.com", Name: "ReplyToName"}, got[0])
}

func TestAddTo_InvalidDoesNotMutate(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	_, err := e.AddTo("to@example.com", "")
	require.NoError(t, err)

	for _, bad := range []string{"", "no-at-sign", "user@bad..domain"} {
		_, err := e.AddTo(bad, "")
		require.Error(t, err)

		var addrErr *InvalidAddressError
		require.True(t, errors.As(err, &addrErr))
		assert.Equal(t, "To", addrErr.Field)
		assert.Equal(t, bad, addrErr.Address)
		assert.ErrorIs(t, err, ErrInvalidAddress)
	}

	assert.Len(t, e.ToAddresses(), 1)
}

func TestAddressGettersReturnCopies(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	_, err := e.AddCc("cc@example.com", "")
	require.NoError(t, err)

	got := e.CcAddresses()
	got[0].Email = "changed@example.com"

	assert.Equal(t, "cc@example.com", e.CcAddresses()[0].Email)
}

func TestSetFrom(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	_, ok := e.FromAddress()
	assert.False(t, ok)

	require.NoError(t, e.SetFrom("from@example.com", ""))
	from, ok := e.FromAddress()
	require.True(t, ok)
	assert.Equal(t, "from@example.com", from.String())

	require.NoError(t, e.SetFrom("other@example.com", "Other"))
	from, _ = e.FromAddress()
	assert.Equal(t, "other@example.com", from.Email)
	assert.Equal(t, "Other", from.Name)
}

func TestSetFrom_InvalidKeepsPrevious(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	require.NoError(t, e.SetFrom("from@example.com", ""))

	err := e.SetFrom("not-an-address", "")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	from, _ := e.FromAddress()
	assert.Equal(t, "from@example.com", from.Email)
}

func TestAddHeader_AppendsOccurrences(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	require.NoError(t, e.AddHeader("X-Tag", "v1"))
	require.NoError(t, e.AddHeader("X-Tag", "v2"))

	assert.Equal(t, []string{"v1", "v2"}, e.Header().Values("X-Tag"))
}

func TestAddHeader_Rejects(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)

	var hdrErr *InvalidHeaderError
	err := e.AddHeader("", "value")
	require.True(t, errors.As(err, &hdrErr))

	err = e.AddHeader("X-Inject", "ok\r\nBcc: victim@example.com")
	assert.ErrorIs(t, err, ErrInvalidHeader)

	assert.Zero(t, e.Header().Len())
}

func TestAddHeader_RejectsRenderedFields(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	for _, name := range []string{"Bcc", "Subject", "subject", "From", "Content-Type", "Message-Id", "MIME-Version"} {
		err := e.AddHeader(name, "value")
		var hdrErr *InvalidHeaderError
		require.True(t, errors.As(err, &hdrErr), "AddHeader(%q) should fail", name)
		assert.Equal(t, name, hdrErr.Name)
	}
	assert.Zero(t, e.Header().Len())

	require.NoError(t, e.AddHeader("Sender", "ops@example.com"))
	require.NoError(t, e.AddHeader("X-Subject-Tag", "ok"))
	assert.Equal(t, 2, e.Header().Len())
}

func TestSetSubject(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	require.NoError(t, e.SetSubject("First"))
	require.NoError(t, e.SetSubject("Second\twith tab"))
	assert.Equal(t, "Second\twith tab", e.Subject())

	assert.ErrorIs(t, e.SetSubject("bad\nsubject"), ErrInvalidHeader)
	assert.Equal(t, "Second\twith tab", e.Subject())
}

func TestSetBody_Formats(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	require.NoError(t, e.SetBody("plain"))
	assert.Equal(t, "plain", e.Body().Text())
	assert.False(t, e.Body().IsMultipart())

	e.SetBodyFormat(HTML)
	require.NoError(t, e.SetBody("<p>hi</p>"))
	assert.Equal(t, "<p>hi</p>", e.Body().HTML())
	assert.Empty(t, e.Body().Text())

	e.SetBodyFormat(Alternative("<p>rich</p>"))
	require.NoError(t, e.SetBody("poor"))
	body := e.Body()
	assert.True(t, body.IsMultipart())
	assert.Equal(t, "poor", body.Text())
	assert.Equal(t, "<p>rich</p>", body.HTML())

	e.SetBodyFormat(Alternative(""))
	assert.Error(t, e.SetBody("text"))
	assert.Equal(t, "poor", e.Body().Text())
}

func TestSentDate(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	assert.True(t, e.SentDate().IsZero())

	d := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	e.SetSentDate(d)
	assert.Equal(t, d, e.SentDate())
}

func TestHostName(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	assert.Empty(t, e.HostName())

	e.SetHostName("localhost")
	assert.Equal(t, "localhost", e.HostName())
}

func TestSocketConnectionTimeout(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	assert.Equal(t, session.DefaultConnectTimeout, e.SocketConnectionTimeout())
	assert.NotZero(t, e.SocketConnectionTimeout())

	e.SetSocketConnectionTimeout(25000 * time.Millisecond)
	assert.Equal(t, 25000*time.Millisecond, e.SocketConnectionTimeout())

	e.SetSocketConnectionTimeout(-1)
	assert.Equal(t, session.DefaultConnectTimeout, e.SocketConnectionTimeout())
}

func TestSocketTimeout(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	assert.Equal(t, session.DefaultTimeout, e.SocketTimeout())

	e.SetSocketTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, e.SocketTimeout())
}

func TestMailSession_Injected(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	e.SetHostName("ignored.example.com")
	e.SetSMTPPort(2525)

	injected := &session.Session{
		Protocol: session.ProtocolSMTP,
		Host:     "localhost",
		Port:     25,
	}
	e.SetMailSession(injected)

	got, err := e.MailSession()
	require.NoError(t, err)
	assert.Same(t, injected, got)
	assert.Equal(t, "localhost", got.Host)
	assert.Equal(t, "localhost", e.HostName())
	assert.Equal(t, 25, e.SMTPPort())
}

func TestMailSession_Synthesized(t *testing.T) {
	t.Parallel()

	e := New(WithSessionConfig(session.Config{Host: "smtp.example.com", Port: 587}))
	e.SetSocketConnectionTimeout(25 * time.Second)
	e.SetStartTLSEnabled(true)
	e.SetAuthentication("user", "secret")

	s, err := e.MailSession()
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", s.Addr())
	assert.Equal(t, 25*time.Second, s.ConnectTimeout)
	assert.True(t, s.StartTLS)
	assert.True(t, s.AuthEnabled())

	e.SetSSLOnConnect(true)
	assert.Equal(t, session.DefaultSSLPort, e.SMTPPort())
}

func TestMailSession_NoHost(t *testing.T) {
	t.Parallel()

	_, err := newTestEmail(t).MailSession()
	assert.ErrorIs(t, err, session.ErrNoHost)
}

func TestBuild_EndToEnd(t *testing.T) {
	t.Parallel()

	e := completeEmail(t)

	msg, err := e.Build()
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, "Test Subject", msg.Subject)
	assert.Equal(t, "from@example.com", msg.From.String())
	require.Len(t, msg.To, 1)
	assert.Equal(t, "to@example.com", msg.To[0].Email)
	assert.Equal(t, "Test Message", msg.Body.Text())
	assert.Equal(t, DefaultCharset, msg.Charset)
	require.NotNil(t, msg.Session)
	assert.Equal(t, "localhost", msg.Session.Host)
	assert.Equal(t, session.DefaultPort, msg.Session.Port)
}

func TestBuild_Headers(t *testing.T) {
	t.Parallel()

	e := completeEmail(t)
	require.NoError(t, e.AddHeader("X-Priority", "1"))
	require.NoError(t, e.AddHeader("X-Mailer", "MyMailer"))
	require.NoError(t, e.AddHeader("X-Priority", "2"))

	msg, err := e.Build()
	require.NoError(t, err)

	assert.Equal(t, "1", msg.Header.Get("X-Priority"))
	assert.Equal(t, []string{"1", "2"}, msg.Header.Values("X-Priority"))
	assert.Equal(t, "MyMailer", msg.Header.Get("X-Mailer"))
	assert.Equal(t, []string{"X-Priority", "X-Mailer"}, msg.Header.Names())
}

func TestBuild_SentDate(t *testing.T) {
	t.Parallel()

	t.Run("explicit date preserved", func(t *testing.T) {
		t.Parallel()
		e := completeEmail(t)
		d := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
		e.SetSentDate(d)

		msg, err := e.Build()
		require.NoError(t, err)
		assert.Equal(t, d, msg.SentDate)
	})

	t.Run("unset date stamped and persisted", func(t *testing.T) {
		t.Parallel()
		e := completeEmail(t)
		msg, err := e.Build()
		require.NoError(t, err)
		assert.Equal(t, fixedNow, msg.SentDate)
		assert.Equal(t, fixedNow, e.SentDate())
	})

	t.Run("real clock close to now", func(t *testing.T) {
		t.Parallel()
		e := New()
		e.SetHostName("localhost")
		require.NoError(t, e.SetFrom("from@example.com", ""))
		_, err := e.AddTo("to@example.com", "")
		require.NoError(t, err)

		msg, err := e.Build()
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), msg.SentDate, 5*time.Second)
	})
}

func TestBuild_Idempotent(t *testing.T) {
	t.Parallel()

	e := completeEmail(t)
	first, err := e.Build()
	require.NoError(t, err)
	second, err := e.Build()
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first.MessageID, "<"))
	assert.True(t, strings.HasSuffix(first.MessageID, "@example.com>"))
}

func TestBuild_ReflectsLaterMutation(t *testing.T) {
	t.Parallel()

	e := completeEmail(t)
	first, err := e.Build()
	require.NoError(t, err)

	_, err = e.AddTo("second@example.com", "")
	require.NoError(t, err)
	require.NoError(t, e.AddHeader("X-Late", "yes"))
	require.NoError(t, e.SetSubject("Changed"))

	second, err := e.Build()
	require.NoError(t, err)

	assert.Len(t, first.To, 1)
	assert.Equal(t, "Test Subject", first.Subject)
	assert.Zero(t, first.Header.Len())

	assert.Len(t, second.To, 2)
	assert.Equal(t, "Changed", second.Subject)
	assert.Equal(t, "yes", second.Header.Get("X-Late"))
}

func TestBuild_InjectedSessionCopied(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	require.NoError(t, e.SetFrom("from@example.com", ""))
	_, err := e.AddTo("to@example.com", "")
	require.NoError(t, err)

	injected := &session.Session{Protocol: session.ProtocolSMTP, Host: "mx.example.com", Port: 2525}
	e.SetMailSession(injected)

	msg, err := e.Build()
	require.NoError(t, err)
	assert.Equal(t, "mx.example.com:2525", msg.Session.Addr())

	injected.Host = "changed.example.com"
	assert.Equal(t, "mx.example.com", msg.Session.Host)
}

func TestBuild_Incomplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(*testing.T, *Email)
		missing string
	}{
		{
			name: "no from",
			setup: func(t *testing.T, e *Email) {
				e.SetHostName("localhost")
				_, err := e.AddTo("to@example.com", "")
				require.NoError(t, err)
			},
			missing: "From address",
		},
		{
			name: "no recipient",
			setup: func(t *testing.T, e *Email) {
				e.SetHostName("localhost")
				require.NoError(t, e.SetFrom("from@example.com", ""))
				_, err := e.AddReplyTo("reply@example.com", "")
				require.NoError(t, err)
			},
			missing: "recipient",
		},
		{
			name: "no host or session",
			setup: func(t *testing.T, e *Email) {
				require.NoError(t, e.SetFrom("from@example.com", ""))
				_, err := e.AddTo("to@example.com", "")
				require.NoError(t, err)
			},
			missing: "host name or mail session",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newTestEmail(t)
			tt.setup(t, e)

			msg, err := e.Build()
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, ErrIncompleteMessage)

			var incomplete *IncompleteMessageError
			require.True(t, errors.As(err, &incomplete))
			assert.Equal(t, []string{tt.missing}, incomplete.Missing)

			assert.True(t, e.SentDate().IsZero(), "failed build must not stamp the sent date")
			assert.Empty(t, e.MessageID())
		})
	}
}

func TestBuild_RetryAfterFix(t *testing.T) {
	t.Parallel()

	e := newTestEmail(t)
	_, err := e.AddTo("to@example.com", "")
	require.NoError(t, err)

	_, err = e.Build()
	var incomplete *IncompleteMessageError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, []string{"From address", "host name or mail session"}, incomplete.Missing)

	e.SetHostName("localhost")
	require.NoError(t, e.SetFrom("from@example.com", ""))
	_, err = e.Build()
	assert.NoError(t, err)
}

// An empty To list is acceptable as long as Cc or Bcc has a recipient.
func TestBuild_CcOrBccOnlySatisfiesRecipient(t *testing.T) {
	t.Parallel()

	for _, add := range []func(*Email, string, string) (Address, error){(*Email).AddCc, (*Email).AddBcc} {
		e := newTestEmail(t)
		e.SetHostName("localhost")
		require.NoError(t, e.SetFrom("from@example.com", ""))
		_, err := add(e, "only@example.com", "")
		require.NoError(t, err)

		msg, err := e.Build()
		require.NoError(t, err)
		assert.Empty(t, msg.To)
		assert.Len(t, msg.Recipients(), 1)
	}
}

func TestMessage_RecipientsAndEnvelope(t *testing.T) {
	t.Parallel()

	e := completeEmail(t)
	_, err := e.AddCc("cc@example.com", "")
	require.NoError(t, err)
	_, err = e.AddBcc("bcc@example.com", "")
	require.NoError(t, err)

	msg, err := e.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"to@example.com", "cc@example.com", "bcc@example.com"}, Emails(msg.Recipients()))
	assert.Equal(t, "from@example.com", msg.EnvelopeFrom())

	require.NoError(t, e.SetBounceAddress("bounces@example.com"))
	msg, err = e.Build()
	require.NoError(t, err)
	assert.Equal(t, "bounces@example.com", msg.EnvelopeFrom())

	assert.ErrorIs(t, e.SetBounceAddress("nope"), ErrInvalidAddress)
	assert.Equal(t, "bounces@example.com", e.BounceAddress())
}

func TestSetMessageID(t *testing.T) {
	t.Parallel()

	e := completeEmail(t)
	require.NoError(t, e.SetMessageID("<fixed@example.com>"))
	assert.ErrorIs(t, e.SetMessageID("<a@b>\r\nX: y"), ErrInvalidHeader)

	msg, err := e.Build()
	require.NoError(t, err)
	assert.Equal(t, "<fixed@example.com>", msg.MessageID)
}

func TestSetCharset(t *testing.T) {
	t.Parallel()

	e := completeEmail(t)
	require.NoError(t, e.SetCharset("ISO-8859-1"))
	assert.Equal(t, "ISO-8859-1", e.Charset())

	require.NoError(t, e.SetCharset(""))
	assert.Equal(t, DefaultCharset, e.Charset())

	for _, bad := range []string{"x-no-such-charset", "UTF-8\r\nBcc: x@example.com"} {
		err := e.SetCharset(bad)
		assert.ErrorIs(t, err, ErrInvalidHeader, "charset %q", bad)
	}
	assert.Equal(t, DefaultCharset, e.Charset(), "rejected charset must not be stored")
}
